package generator

import "encoding/json"

// parsePartialJSON decodes a JSON object that may have been cut off
// mid-stream by closing any open string, array or object. It reports false
// when the prefix cannot be completed into valid JSON yet.
func parsePartialJSON(s string) (map[string]any, bool) {
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err == nil {
		return out, true
	}

	var (
		closers  []byte
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			closers = append(closers, '}')
		case '[':
			closers = append(closers, ']')
		case '}', ']':
			if len(closers) == 0 || closers[len(closers)-1] != c {
				return nil, false
			}
			closers = closers[:len(closers)-1]
		}
	}

	completed := []byte(s)
	if inString {
		if escaped {
			// Drop the dangling backslash of an incomplete escape.
			completed = completed[:len(completed)-1]
		}
		completed = append(completed, '"')
	}
	for i := len(closers) - 1; i >= 0; i-- {
		completed = append(completed, closers[i])
	}
	if err := json.Unmarshal(completed, &out); err != nil {
		return nil, false
	}
	return out, true
}
