package generator

import (
	"encoding/json"
	"fmt"

	"github.com/martinemde/interpreter/agentloop"
	"github.com/martinemde/interpreter/unifiedllm"
)

const (
	outputPreamble = "Code output:\n\n"
	imageCaption   = "This is the image output of the code above."
)

// toLLMMessages converts conversation history into provider messages. With
// function calling, code becomes an execute tool call answered by a tool
// result; otherwise it is rendered as a fenced block followed by a user
// message carrying the output. Images are attached only in vision mode.
func toLLMMessages(history []agentloop.Message, functionCalling, vision bool) []unifiedllm.Message {
	out := make([]unifiedllm.Message, 0, len(history)+2)
	for i, m := range history {
		switch m.Role {
		case agentloop.RoleSystem:
			out = append(out, unifiedllm.SystemMessage(m.Text))
		case agentloop.RoleUser:
			msg := unifiedllm.UserMessage(m.Text)
			if vision && m.Image != "" {
				msg.Content = append(msg.Content, unifiedllm.ImageURLPart(m.Image, "auto"))
			}
			out = append(out, msg)
		case agentloop.RoleAssistant:
			if functionCalling {
				out = append(out, assistantWithToolCall(m, fmt.Sprintf("call_%d", i))...)
			} else {
				out = append(out, assistantWithFence(m)...)
			}
			if vision && m.Image != "" {
				out = append(out, unifiedllm.Message{
					Role:    unifiedllm.RoleUser,
					Content: []unifiedllm.ContentPart{unifiedllm.TextPart(imageCaption), unifiedllm.ImageURLPart(m.Image, "auto")},
				})
			}
		}
	}
	return out
}

func assistantWithToolCall(m agentloop.Message, callID string) []unifiedllm.Message {
	if m.Code == "" {
		if m.Text == "" {
			return nil
		}
		return []unifiedllm.Message{unifiedllm.AssistantMessage(m.Text)}
	}

	args, _ := json.Marshal(map[string]string{"language": m.Language, "code": m.Code})
	msg := unifiedllm.Message{Role: unifiedllm.RoleAssistant}
	if m.Text != "" {
		msg.Content = append(msg.Content, unifiedllm.TextPart(m.Text))
	}
	msg.Content = append(msg.Content, unifiedllm.ToolCallPart(callID, ExecuteToolName, args))

	// Every tool call needs a result, even when the code never ran.
	output := m.Output
	if output == "" {
		output = "No output"
	}
	return []unifiedllm.Message{msg, unifiedllm.ToolResultMessage(callID, output, false)}
}

func assistantWithFence(m agentloop.Message) []unifiedllm.Message {
	text := m.Text
	if m.Code != "" {
		if text != "" {
			text += "\n\n"
		}
		text += fence + m.Language + "\n" + m.Code + "\n" + fence
	}
	var out []unifiedllm.Message
	if text != "" {
		out = append(out, unifiedllm.AssistantMessage(text))
	}
	if m.Output != "" {
		out = append(out, unifiedllm.UserMessage(outputPreamble+m.Output))
	}
	return out
}
