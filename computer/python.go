package computer

import (
	"encoding/json"
	"strings"
)

// pythonDriver reads one JSON request per line and executes it in a shared
// globals dict. A trailing expression is echoed like the interactive prompt.
const pythonDriver = `
import ast, base64, io, json, os, sys, traceback

os.environ.setdefault("MPLBACKEND", "Agg")

g = {"__name__": "__main__"}

def run(code):
    tree = ast.parse(code, "<stdin>", "exec")
    last = None
    if tree.body and isinstance(tree.body[-1], ast.Expr):
        last = ast.Expression(tree.body.pop().value)
    exec(compile(tree, "<stdin>", "exec"), g)
    if last is not None:
        value = eval(compile(last, "<stdin>", "eval"), g)
        if value is not None:
            print(repr(value))

def flush_figures():
    plt = sys.modules.get("matplotlib.pyplot")
    if plt is None:
        return
    for num in plt.get_fignums():
        buf = io.BytesIO()
        plt.figure(num).savefig(buf, format="png")
        print("##image:" + base64.b64encode(buf.getvalue()).decode() + "##")
    plt.close("all")

while True:
    try:
        line = sys.stdin.readline()
    except KeyboardInterrupt:
        continue
    if not line:
        break
    req = json.loads(line)
    try:
        run(req["code"])
    except SystemExit:
        pass
    except BaseException:
        traceback.print_exc()
    try:
        flush_figures()
    except Exception:
        traceback.print_exc()
    sys.stdout.flush()
    sys.stderr.flush()
    print(req["marker"], flush=True)
`

const imagePrefix = "##image:"

// parsePythonLine turns figure lines printed by the driver into image output.
func parsePythonLine(line string) (OutputLine, bool) {
	if b64, ok := strings.CutPrefix(line, imagePrefix); ok && strings.HasSuffix(b64, "##") {
		return Image(strings.TrimSuffix(b64, "##")), true
	}
	return Text(line), true
}

type runRequest struct {
	Code   string `json:"code"`
	Marker string `json:"marker"`
}

// encodeJSONLine frames code as a single JSON line for the python and node
// drivers.
func encodeJSONLine(code, marker string) ([]byte, error) {
	b, err := json.Marshal(runRequest{Code: code, Marker: marker})
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func newPythonSession(opts Options) (ExecutionSession, error) {
	return newSubprocessSession(replConfig{
		language: LangPython,
		argv: func() ([]string, error) {
			bin, err := lookPath("python3", "python")
			if err != nil {
				return nil, err
			}
			return []string{bin, "-u", "-c", pythonDriver}, nil
		},
		encode: encodeJSONLine,
		parse:  parsePythonLine,
	}, opts), nil
}
