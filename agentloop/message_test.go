package agentloop

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestMergeDeltaConcatenatesStrings(t *testing.T) {
	m := Message{Role: RoleAssistant}
	for _, d := range []Delta{{Text: "Let me "}, {Text: "check."}, {Language: "python"}, {Code: "print("}, {Code: "1)"}} {
		m = MergeDelta(m, d)
	}
	want := Message{Role: RoleAssistant, Text: "Let me check.", Language: "python", Code: "print(1)"}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("MergeDelta mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeDeltaKeepsAbsentFields(t *testing.T) {
	m := Message{Role: RoleAssistant, Text: "hi", Output: "4", Extra: map[string]any{"k": "v"}}
	got := MergeDelta(m, Delta{Code: "x"})
	assert.Equal(t, "hi", got.Text)
	assert.Equal(t, "4", got.Output)
	assert.Equal(t, map[string]any{"k": "v"}, got.Extra)
	assert.Equal(t, "x", got.Code)
}

func TestMergeDeltaMergesExtraRecursively(t *testing.T) {
	m := Message{Extra: map[string]any{
		"function_call": map[string]any{"name": "exec", "arguments": `{"lang`},
		"count":         1,
	}}
	got := MergeDelta(m, Delta{Extra: map[string]any{
		"function_call": map[string]any{"arguments": `uage": "py"}`},
		"count":         2,
		"new":           true,
	}})

	want := map[string]any{
		"function_call": map[string]any{"name": "exec", "arguments": `{"language": "py"}`},
		"count":         2,
		"new":           true,
	}
	if diff := cmp.Diff(want, got.Extra); diff != "" {
		t.Errorf("Extra mismatch (-want +got):\n%s", diff)
	}
	// The input message is untouched.
	assert.Equal(t, `{"lang`, m.Extra["function_call"].(map[string]any)["arguments"])
}

func TestMergeDeltaGroupingDoesNotMatter(t *testing.T) {
	d1 := Delta{Text: "a", Extra: map[string]any{"m": map[string]any{"s": "x"}}}
	d2 := Delta{Language: "py", Code: "pri", Extra: map[string]any{"m": map[string]any{"s": "y"}}}
	d3 := Delta{Code: "nt()", Text: "b"}
	start := Message{Role: RoleAssistant, Text: ">"}

	sequential := MergeDelta(MergeDelta(MergeDelta(start, d1), d2), d3)
	left := MergeDelta(MergeDelta(start, d1.Merge(d2)), d3)
	right := MergeDelta(MergeDelta(start, d1), d2.Merge(d3))
	all := MergeDelta(start, d1.Merge(d2).Merge(d3))

	for name, got := range map[string]Message{"left": left, "right": right, "all": all} {
		if diff := cmp.Diff(sequential, got); diff != "" {
			t.Errorf("%s grouping differs (-sequential +got):\n%s", name, diff)
		}
	}
	assert.Equal(t, ">ab", sequential.Text)
	assert.Equal(t, "xy", sequential.Extra["m"].(map[string]any)["s"])
}

func TestDeltaIsZero(t *testing.T) {
	assert.True(t, Delta{}.IsZero())
	assert.False(t, Delta{Language: "r"}.IsZero())
	assert.False(t, Delta{Extra: map[string]any{"k": 1}}.IsZero())
}
