package computer

import (
	"context"
	"iter"
)

// LineKind discriminates the payload of an OutputLine.
type LineKind string

const (
	LineOutput LineKind = "output"
	LineImage  LineKind = "image"
	LineHTML   LineKind = "html"
	LineActive LineKind = "active_line"
)

// OutputLine is one unit yielded by an execution session. Exactly one
// payload field is meaningful, selected by Kind.
type OutputLine struct {
	Kind       LineKind `json:"kind"`
	Output     string   `json:"output,omitempty"`
	Image      string   `json:"image,omitempty"` // base64 PNG
	HTML       string   `json:"html,omitempty"`
	ActiveLine int      `json:"active_line,omitempty"` // 1-based; 0 clears
}

// Text returns an output line carrying console text.
func Text(s string) OutputLine {
	return OutputLine{Kind: LineOutput, Output: s}
}

// Image returns an output line carrying a base64 encoded PNG.
func Image(b64 string) OutputLine {
	return OutputLine{Kind: LineImage, Image: b64}
}

// HTML returns an output line carrying renderable markup.
func HTML(markup string) OutputLine {
	return OutputLine{Kind: LineHTML, HTML: markup}
}

// ActiveLine returns a marker for the line currently executing.
func ActiveLine(n int) OutputLine {
	return OutputLine{Kind: LineActive, ActiveLine: n}
}

// ExecutionSession is a long-lived interpreter for one language. Run may be
// called repeatedly; state defined by one call is visible to the next until
// Terminate. Stop interrupts in-flight work without discarding state.
type ExecutionSession interface {
	Run(ctx context.Context, code string) iter.Seq2[OutputLine, error]
	Stop()
	Terminate() error
}
