package generator

import "github.com/martinemde/interpreter/unifiedllm"

// messageOverhead approximates the per-message token cost of role and
// framing.
const messageOverhead = 4

// estimateTokens approximates token usage at four characters per token.
func estimateTokens(m unifiedllm.Message) int {
	chars := 0
	for _, part := range m.Content {
		switch part.Kind {
		case unifiedllm.ContentText:
			chars += len(part.Text)
		case unifiedllm.ContentToolCall:
			chars += len(part.ToolCall.Name) + len(part.ToolCall.Arguments)
		case unifiedllm.ContentToolResult:
			chars += len(part.ToolResult.Content)
		case unifiedllm.ContentImage:
			// Flat cost; providers bill images by tile, not bytes.
			chars += 85 * 4
		}
	}
	return chars/4 + messageOverhead
}

// trimToContext drops the oldest non-system messages until the estimated
// prompt leaves maxTokens free in the context window. The system message
// and the newest message are always kept, and a tool result is never left
// without the call it answers.
func trimToContext(msgs []unifiedllm.Message, contextWindow, maxTokens int) []unifiedllm.Message {
	if contextWindow <= 0 || len(msgs) == 0 {
		return msgs
	}
	budget := contextWindow - maxTokens
	total := 0
	for _, m := range msgs {
		total += estimateTokens(m)
	}
	if total <= budget {
		return msgs
	}

	var system []unifiedllm.Message
	rest := msgs
	if msgs[0].Role == unifiedllm.RoleSystem {
		system, rest = msgs[:1], msgs[1:]
	}
	for len(rest) > 1 && (total > budget || rest[0].Role == unifiedllm.RoleTool) {
		total -= estimateTokens(rest[0])
		rest = rest[1:]
	}

	out := make([]unifiedllm.Message, 0, len(system)+len(rest))
	out = append(out, system...)
	return append(out, rest...)
}
