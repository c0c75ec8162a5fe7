package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePartialJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]any
		ok   bool
	}{
		{name: "complete", in: `{"language": "python", "code": "x"}`, want: map[string]any{"language": "python", "code": "x"}, ok: true},
		{name: "open string", in: `{"code": "print(`, want: map[string]any{"code": "print("}, ok: true},
		{name: "dangling escape", in: `{"code": "a\`, want: map[string]any{"code": "a"}, ok: true},
		{name: "escaped quote", in: `{"code": "say \"hi`, want: map[string]any{"code": `say "hi`}, ok: true},
		{name: "nested", in: `{"a": {"b": [1, 2`, want: map[string]any{"a": map[string]any{"b": []any{1.0, 2.0}}}, ok: true},
		{name: "key without value", in: `{"code"`, ok: false},
		{name: "trailing colon", in: `{"code": `, ok: false},
		{name: "mismatched", in: `{"a": ]`, ok: false},
		{name: "empty", in: ``, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parsePartialJSON(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
