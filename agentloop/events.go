package agentloop

import "github.com/martinemde/interpreter/computer"

// EventKind identifies the type of response event.
type EventKind string

const (
	EventStartOfMessage EventKind = "start_of_message"
	EventEndOfMessage   EventKind = "end_of_message"
	EventStartOfCode    EventKind = "start_of_code"
	EventEndOfCode      EventKind = "end_of_code"
	EventDelta          EventKind = "delta"
	EventExecuting      EventKind = "executing"
	EventStartOfOutput  EventKind = "start_of_output"
	EventEndOfOutput    EventKind = "end_of_output"
	EventActiveLine     EventKind = "active_line"
	EventOutput         EventKind = "output"
	EventImage          EventKind = "image"
	EventHTML           EventKind = "html"
	EventLoopDetection  EventKind = "loop_detection"
	EventBudgetExceeded EventKind = "budget_exceeded"
)

// Event is one item of the stream produced by Session.Respond. Only the
// fields relevant to Kind are set.
type Event struct {
	Kind EventKind `json:"kind"`
	// Delta is the raw generator fragment for EventDelta.
	Delta Delta `json:"delta,omitzero"`
	// Language and Code describe the block about to run for EventExecuting.
	Language string `json:"language,omitempty"`
	Code     string `json:"code,omitempty"`
	// Output is console text, or the notice text for loop detection and
	// budget events.
	Output string `json:"output,omitempty"`
	// ActiveLine is the executing line; nil clears the marker.
	ActiveLine *int   `json:"active_line,omitempty"`
	Image      string `json:"image,omitempty"` // base64 PNG
	HTML       string `json:"html,omitempty"`
}

// eventFromLine converts an execution output line into the event forwarded
// to the caller.
func eventFromLine(line computer.OutputLine) Event {
	switch line.Kind {
	case computer.LineActive:
		n := line.ActiveLine
		return Event{Kind: EventActiveLine, ActiveLine: &n}
	case computer.LineImage:
		return Event{Kind: EventImage, Image: line.Image}
	case computer.LineHTML:
		return Event{Kind: EventHTML, HTML: line.HTML}
	default:
		return Event{Kind: EventOutput, Output: line.Output}
	}
}
