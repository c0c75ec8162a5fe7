package agentloop

import "maps"

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation history. Assistant messages are
// built up from Deltas while a response streams, then receive execution
// output.
type Message struct {
	Role     Role   `json:"role" yaml:"role"`
	Text     string `json:"text,omitempty" yaml:"text,omitempty"`
	Language string `json:"language,omitempty" yaml:"language,omitempty"`
	Code     string `json:"code,omitempty" yaml:"code,omitempty"`
	Output   string `json:"output,omitempty" yaml:"output,omitempty"`
	// Image is a data URL attached by vision mode.
	Image string `json:"image,omitempty" yaml:"image,omitempty"`
	// Executed is set once output collection for Code has started, so an
	// empty Output can be told apart from code that never ran.
	Executed bool           `json:"executed,omitempty" yaml:"executed,omitempty"`
	Extra    map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// UserMessage returns a user-role message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

// SystemMessage returns a system-role message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Text: text}
}

// Delta is an incremental update to the in-progress assistant message. A
// field is present when it is non-empty.
type Delta struct {
	Text     string         `json:"text,omitempty"`
	Language string         `json:"language,omitempty"`
	Code     string         `json:"code,omitempty"`
	Output   string         `json:"output,omitempty"`
	Image    string         `json:"image,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// IsZero reports whether the delta carries nothing.
func (d Delta) IsZero() bool {
	return d.Text == "" && d.Language == "" && d.Code == "" &&
		d.Output == "" && d.Image == "" && len(d.Extra) == 0
}

// MergeDelta applies d to m and returns the result. String fields present in
// d are appended; fields absent from d are left alone. Extra is merged key by
// key, recursing into nested maps. m is not modified.
func MergeDelta(m Message, d Delta) Message {
	m.Text += d.Text
	m.Language += d.Language
	m.Code += d.Code
	m.Output += d.Output
	m.Image += d.Image
	if len(d.Extra) > 0 {
		m.Extra = mergeMaps(m.Extra, d.Extra)
	}
	return m
}

// Merge combines two deltas emitted in order into one. Applying the result
// to a message is equivalent to applying d and then next.
func (d Delta) Merge(next Delta) Delta {
	d.Text += next.Text
	d.Language += next.Language
	d.Code += next.Code
	d.Output += next.Output
	d.Image += next.Image
	if len(next.Extra) > 0 {
		d.Extra = mergeMaps(d.Extra, next.Extra)
	}
	return d
}

// mergeMaps returns a new map holding dst with src merged in.
func mergeMaps(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	maps.Copy(out, dst)
	for k, v := range src {
		cur, ok := out[k]
		if !ok {
			out[k] = v
			continue
		}
		out[k] = mergeValues(cur, v)
	}
	return out
}

// mergeValues concatenates strings and recurses into maps. Any other
// combination takes the newer value.
func mergeValues(cur, next any) any {
	switch c := cur.(type) {
	case string:
		if n, ok := next.(string); ok {
			return c + n
		}
	case map[string]any:
		if n, ok := next.(map[string]any); ok {
			return mergeMaps(c, n)
		}
	}
	return next
}
