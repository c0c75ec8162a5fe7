package computer

import (
	"encoding/json"
	"fmt"
)

func encodeR(code, marker string) ([]byte, error) {
	// encoding/json output is a valid R string literal; it never emits the
	// \/ escape R rejects.
	src, err := json.Marshal(code)
	if err != nil {
		return nil, err
	}
	end, err := json.Marshal(marker + "\n")
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil,
		"tryCatch({ .interpreter_value <- withVisible(eval(parse(text = %s), envir = globalenv())); "+
			"if (.interpreter_value$visible) print(.interpreter_value$value) }, "+
			"error = function(e) message(\"Error: \", conditionMessage(e)), "+
			"interrupt = function(e) message(\"Interrupted\"))\ncat(%s)\n",
		src, end), nil
}

func newRSession(opts Options) (ExecutionSession, error) {
	return newSubprocessSession(replConfig{
		language: LangR,
		argv: func() ([]string, error) {
			bin, err := lookPath("R")
			if err != nil {
				return nil, err
			}
			return []string{bin, "--vanilla", "--quiet", "--no-echo"}, nil
		},
		encode: encodeR,
	}, opts), nil
}
