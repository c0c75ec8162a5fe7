package generator

import (
	"testing"

	"github.com/martinemde/interpreter/agentloop"
	"github.com/martinemde/interpreter/unifiedllm"
	"github.com/stretchr/testify/assert"
)

// textEvents splits s into single-character text deltas, the worst case
// for fence detection.
func textEvents(s string) []unifiedllm.StreamEvent {
	var out []unifiedllm.StreamEvent
	for _, r := range s {
		out = append(out, unifiedllm.StreamEvent{Type: unifiedllm.TextDelta, Delta: string(r)})
	}
	return out
}

func TestMarkdownParserExtractsFirstBlock(t *testing.T) {
	p := &markdownParser{}
	var deltas []agentloop.Delta
	for _, ev := range textEvents("Here:\n\n```python\nprint(1)\nprint(2)\n```\nAnd more ```x```") {
		deltas = append(deltas, p.Feed(ev)...)
		if p.Done() {
			break
		}
	}
	deltas = append(deltas, p.Finish()...)

	m := mergeAll(deltas)
	assert.Equal(t, "Here:\n\n", m.Text)
	assert.Equal(t, "python", m.Language)
	assert.Equal(t, "print(1)\nprint(2)", m.Code)
	assert.True(t, p.Done())
}

func TestMarkdownParserWholeChunks(t *testing.T) {
	p := &markdownParser{}
	deltas := feedAll(p, []unifiedllm.StreamEvent{
		{Type: unifiedllm.TextDelta, Delta: "Listing:\n```shell\nls -la\n```"},
	})
	assert.Equal(t, []agentloop.Delta{{Text: "Listing:\n"}, {Language: "shell"}, {Code: "ls -la"}}, deltas)
}

func TestMarkdownParserDefaultsLanguage(t *testing.T) {
	m := mergeAll(feedAll(&markdownParser{}, textEvents("```\nx = 1\n```")))
	assert.Equal(t, defaultFenceLanguage, m.Language)
	assert.Equal(t, "x = 1", m.Code)
	assert.Empty(t, m.Text)
}

func TestMarkdownParserPlainText(t *testing.T) {
	m := mergeAll(feedAll(&markdownParser{}, textEvents("Use `ls` or ``x``.")))
	assert.Equal(t, "Use `ls` or ``x``.", m.Text)
	assert.Empty(t, m.Code)
}

func TestMarkdownParserUnterminatedBlock(t *testing.T) {
	m := mergeAll(feedAll(&markdownParser{}, textEvents("```r\nprint(1)\n``")))
	assert.Equal(t, "r", m.Language)
	assert.Equal(t, "print(1)\n``", m.Code)
}

func TestMarkdownParserFenceWithoutInfoLine(t *testing.T) {
	m := mergeAll(feedAll(&markdownParser{}, textEvents("see ```python")))
	assert.Equal(t, "see ```python", m.Text)
	assert.Empty(t, m.Language)
}

func TestPendingPrefix(t *testing.T) {
	assert.Equal(t, 0, pendingPrefix("abc", fence))
	assert.Equal(t, 2, pendingPrefix("ab``", fence))
	assert.Equal(t, 1, pendingPrefix("x\n", "\n"+fence))
	assert.Equal(t, 0, pendingPrefix("", fence))
}
