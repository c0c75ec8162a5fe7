package generator

import (
	"strings"

	"github.com/martinemde/interpreter/agentloop"
	"github.com/martinemde/interpreter/unifiedllm"
)

const fence = "```"

// defaultFenceLanguage is used for fences without an info string.
const defaultFenceLanguage = "python"

type markdownState int

const (
	inText markdownState = iota
	inInfo
	inCode
	closed
)

// markdownParser extracts the first fenced code block from streamed text.
// Text before the fence is message text; the info string becomes the
// language. Parsing stops at the closing fence, since a message carries at
// most one code block.
type markdownParser struct {
	state    markdownState
	buf      string
	codeSeen bool
}

func (p *markdownParser) Feed(ev unifiedllm.StreamEvent) []agentloop.Delta {
	if ev.Type != unifiedllm.TextDelta || p.state == closed {
		return nil
	}
	p.buf += ev.Delta
	return p.scan()
}

func (p *markdownParser) Done() bool { return p.state == closed }

func (p *markdownParser) scan() []agentloop.Delta {
	var out []agentloop.Delta
	for {
		switch p.state {
		case inText:
			before, after, found := strings.Cut(p.buf, fence)
			if !found {
				keep := pendingPrefix(p.buf, fence)
				if text := p.buf[:len(p.buf)-keep]; text != "" {
					out = append(out, agentloop.Delta{Text: text})
				}
				p.buf = p.buf[len(p.buf)-keep:]
				return out
			}
			if before != "" {
				out = append(out, agentloop.Delta{Text: before})
			}
			p.buf = after
			p.state = inInfo

		case inInfo:
			info, after, found := strings.Cut(p.buf, "\n")
			if !found {
				return out
			}
			language := strings.TrimSpace(info)
			if language == "" {
				language = defaultFenceLanguage
			}
			out = append(out, agentloop.Delta{Language: language})
			p.buf = after
			p.state = inCode

		case inCode:
			if !p.codeSeen && strings.HasPrefix(p.buf, fence) {
				p.buf = ""
				p.state = closed
				return out
			}
			code, _, found := strings.Cut(p.buf, "\n"+fence)
			if found {
				if code != "" {
					out = append(out, agentloop.Delta{Code: code})
				}
				p.buf = ""
				p.state = closed
				return out
			}
			keep := pendingPrefix(p.buf, "\n"+fence)
			if code := p.buf[:len(p.buf)-keep]; code != "" {
				out = append(out, agentloop.Delta{Code: code})
				p.codeSeen = true
			}
			p.buf = p.buf[len(p.buf)-keep:]
			return out

		default:
			return out
		}
	}
}

// Finish flushes text held back while waiting for a possible fence.
func (p *markdownParser) Finish() []agentloop.Delta {
	rest := p.buf
	p.buf = ""
	if rest == "" {
		return nil
	}
	switch p.state {
	case inText:
		return []agentloop.Delta{{Text: rest}}
	case inInfo:
		// A fence that never got past its info string is just text.
		return []agentloop.Delta{{Text: fence + rest}}
	case inCode:
		return []agentloop.Delta{{Code: rest}}
	}
	return nil
}

// pendingPrefix returns the length of the longest suffix of s that is a
// proper prefix of marker.
func pendingPrefix(s, marker string) int {
	for n := min(len(marker)-1, len(s)); n > 0; n-- {
		if strings.HasSuffix(s, marker[:n]) {
			return n
		}
	}
	return 0
}
