package generator

import (
	"regexp"
	"strings"

	"github.com/martinemde/interpreter/agentloop"
	"github.com/martinemde/interpreter/unifiedllm"
)

// ExecuteToolName is the function models call to run code.
const ExecuteToolName = "execute"

// executeTool describes the execute function. languages, when set, limits
// the language argument.
func executeTool(languages []string) unifiedllm.ToolDefinition {
	language := map[string]interface{}{
		"type":        "string",
		"description": "The programming language (required parameter to the `execute` function)",
	}
	if len(languages) > 0 {
		language["enum"] = languages
	}
	return unifiedllm.ToolDefinition{
		Name:        ExecuteToolName,
		Description: "Executes code on the user's machine, **in the users local environment**, and returns the output",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"language": language,
				"code": map[string]interface{}{
					"type":        "string",
					"description": "The code to execute (required)",
				},
			},
			"required": []string{"language", "code"},
		},
	}
}

// closedLanguage matches a language argument whose string value has been
// fully streamed.
var closedLanguage = regexp.MustCompile(`"language"\s*:\s*"(?:[^"\\]|\\.)*"`)

// functionCallParser turns a tool-calling stream into deltas. Text becomes
// message text; the arguments of the first execute call become language
// and code as they stream in.
type functionCallParser struct {
	callID string
	name   string
	args   strings.Builder

	languageSent bool
	codeSent     string
}

func (p *functionCallParser) Feed(ev unifiedllm.StreamEvent) []agentloop.Delta {
	switch ev.Type {
	case unifiedllm.TextDelta:
		if ev.Delta != "" {
			return []agentloop.Delta{{Text: ev.Delta}}
		}
	case unifiedllm.ToolCallStart, unifiedllm.ToolCallDelta:
		if ev.ToolCall == nil || !p.accept(ev.ToolCall) {
			return nil
		}
		p.args.WriteString(ev.ToolCall.RawArguments)
		return p.progress(false)
	case unifiedllm.ToolCallEnd:
		if ev.ToolCall != nil && p.accept(ev.ToolCall) {
			return p.progress(true)
		}
	}
	return nil
}

func (p *functionCallParser) Finish() []agentloop.Delta {
	if p.callID == "" && p.name == "" {
		return nil
	}
	return p.progress(true)
}

func (p *functionCallParser) Done() bool { return false }

// accept tracks the first tool call of the response and ignores the rest.
func (p *functionCallParser) accept(tc *unifiedllm.ToolCall) bool {
	if p.callID == "" && p.name == "" {
		p.callID = tc.ID
		p.name = tc.Name
		return true
	}
	if p.name == "" && tc.Name != "" {
		p.name = tc.Name
	}
	return tc.ID == "" || tc.ID == p.callID
}

// progress emits whatever language and code became known since the last
// call. Language is held back until its closing quote arrives so a
// partially streamed name is never emitted.
func (p *functionCallParser) progress(final bool) []agentloop.Delta {
	// Models sometimes call a "python" function with the raw code as the
	// argument string.
	if p.name == "python" {
		var d agentloop.Delta
		if !p.languageSent {
			d.Language = "python"
			p.languageSent = true
		}
		d.Code = strings.TrimPrefix(p.args.String(), p.codeSent)
		p.codeSent = p.args.String()
		if d.IsZero() {
			return nil
		}
		return []agentloop.Delta{d}
	}

	args, ok := parsePartialJSON(p.args.String())
	if !ok {
		return nil
	}
	var d agentloop.Delta
	complete := final || closedLanguage.MatchString(p.args.String())
	if language, ok := args["language"].(string); ok && !p.languageSent && complete && language != "" {
		d.Language = language
		p.languageSent = true
	}
	if code, ok := args["code"].(string); ok && strings.HasPrefix(code, p.codeSent) {
		d.Code = code[len(p.codeSent):]
		p.codeSent = code
	}
	if d.IsZero() {
		return nil
	}
	return []agentloop.Delta{d}
}
