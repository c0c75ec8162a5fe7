package generator

import (
	"testing"

	"github.com/martinemde/interpreter/agentloop"
	"github.com/martinemde/interpreter/unifiedllm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHistory() []agentloop.Message {
	return []agentloop.Message{
		agentloop.SystemMessage("sys"),
		agentloop.UserMessage("list files"),
		{Role: agentloop.RoleAssistant, Text: "Sure.", Language: "shell", Code: "ls", Output: "a.txt", Executed: true},
		{Role: agentloop.RoleAssistant, Text: "There is one file."},
		{Role: agentloop.RoleAssistant},
	}
}

func TestToLLMMessagesFunctionCalling(t *testing.T) {
	msgs := toLLMMessages(sampleHistory(), true, false)
	require.Len(t, msgs, 5)

	assert.Equal(t, unifiedllm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "list files", msgs[1].TextContent())

	call := msgs[2]
	assert.Equal(t, unifiedllm.RoleAssistant, call.Role)
	assert.Equal(t, "Sure.", call.TextContent())
	calls := call.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_2", calls[0].ID)
	assert.Equal(t, ExecuteToolName, calls[0].Name)
	assert.JSONEq(t, `{"language":"shell","code":"ls"}`, string(calls[0].Arguments))

	result := msgs[3]
	assert.Equal(t, unifiedllm.RoleTool, result.Role)
	assert.Equal(t, "call_2", result.ToolCallID)
	assert.Equal(t, "a.txt", result.Content[0].ToolResult.Content)

	assert.Equal(t, "There is one file.", msgs[4].TextContent())
}

func TestToLLMMessagesToolResultPlaceholder(t *testing.T) {
	history := []agentloop.Message{{Role: agentloop.RoleAssistant, Language: "python", Code: "x = 1"}}
	msgs := toLLMMessages(history, true, false)
	require.Len(t, msgs, 2)
	assert.Empty(t, msgs[0].TextContent())
	assert.Equal(t, "No output", msgs[1].Content[0].ToolResult.Content)
}

func TestToLLMMessagesMarkdown(t *testing.T) {
	msgs := toLLMMessages(sampleHistory(), false, false)
	require.Len(t, msgs, 5)

	assert.Equal(t, unifiedllm.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "Sure.\n\n```shell\nls\n```", msgs[2].TextContent())
	assert.Empty(t, msgs[2].ToolCalls())

	assert.Equal(t, unifiedllm.RoleUser, msgs[3].Role)
	assert.Equal(t, "Code output:\n\na.txt", msgs[3].TextContent())
	assert.Equal(t, "There is one file.", msgs[4].TextContent())
}

func TestToLLMMessagesVision(t *testing.T) {
	const img = "data:image/png;base64,AAAA"
	history := []agentloop.Message{
		{Role: agentloop.RoleAssistant, Language: "python", Code: "plot()", Output: "done", Image: img, Executed: true},
	}

	withVision := toLLMMessages(history, false, true)
	require.Len(t, withVision, 3)
	last := withVision[2]
	assert.Equal(t, unifiedllm.RoleUser, last.Role)
	assert.Equal(t, imageCaption, last.TextContent())
	require.Len(t, last.Images(), 1)
	assert.Equal(t, img, last.Images()[0].URL)

	assert.Len(t, toLLMMessages(history, false, false), 2)
}
