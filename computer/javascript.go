package computer

// nodeDriver evaluates each request in the global context so declarations
// persist between runs. Promises are awaited before the marker is printed.
const nodeDriver = `
const vm = require("vm");
const readline = require("readline");
const util = require("util");
globalThis.require = require;
process.on("SIGINT", () => {});

const queue = [];
let busy = false;

async function pump() {
  if (busy) return;
  busy = true;
  while (queue.length > 0) {
    const req = queue.shift();
    try {
      let result = vm.runInThisContext(req.code, { filename: "stdin", breakOnSigint: true });
      if (result && typeof result.then === "function") {
        result = await result;
      }
      if (result !== undefined) {
        console.log(typeof result === "string" ? result : util.inspect(result));
      }
    } catch (e) {
      console.error(e && e.stack ? e.stack : String(e));
    }
    process.stdout.write(req.marker + "\n");
  }
  busy = false;
}

readline.createInterface({ input: process.stdin, terminal: false }).on("line", (line) => {
  if (line.trim() === "") return;
  queue.push(JSON.parse(line));
  pump();
});
`

func newJavaScriptSession(opts Options) (ExecutionSession, error) {
	return newSubprocessSession(replConfig{
		language: LangJavaScript,
		argv: func() ([]string, error) {
			bin, err := lookPath("node", "nodejs")
			if err != nil {
				return nil, err
			}
			return []string{bin, "-e", nodeDriver}, nil
		},
		encode: encodeJSONLine,
	}, opts), nil
}
