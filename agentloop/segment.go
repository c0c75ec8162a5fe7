package agentloop

// SegmentKind classifies the part of a response currently streaming.
type SegmentKind string

const (
	SegmentNone    SegmentKind = ""
	SegmentMessage SegmentKind = "message"
	SegmentCode    SegmentKind = "code"
)

// Classifier tracks which segment a delta stream is in and produces the
// boundary events around it. The zero value is ready for a new turn.
type Classifier struct {
	current SegmentKind
}

// Current returns the open segment.
func (c *Classifier) Current() SegmentKind {
	return c.current
}

// Push returns the boundary events d causes, followed by d itself.
// Text marks a message segment; language or code marks a code segment.
// Fields are considered in that order, so a delta carrying both text and
// code closes the message it opened.
func (c *Classifier) Push(d Delta) []Event {
	var events []Event
	for _, kind := range deltaSegments(d) {
		if kind == c.current {
			continue
		}
		if c.current != SegmentNone {
			events = append(events, endEvent(c.current))
		}
		c.current = kind
		events = append(events, startEvent(kind))
	}
	return append(events, Event{Kind: EventDelta, Delta: d})
}

// Finish closes the open segment, if any, and resets the classifier.
func (c *Classifier) Finish() []Event {
	if c.current == SegmentNone {
		return nil
	}
	ev := endEvent(c.current)
	c.current = SegmentNone
	return []Event{ev}
}

func deltaSegments(d Delta) []SegmentKind {
	var kinds []SegmentKind
	if d.Text != "" {
		kinds = append(kinds, SegmentMessage)
	}
	if d.Language != "" {
		kinds = append(kinds, SegmentCode)
	}
	if d.Code != "" {
		kinds = append(kinds, SegmentCode)
	}
	return kinds
}

func startEvent(kind SegmentKind) Event {
	if kind == SegmentCode {
		return Event{Kind: EventStartOfCode}
	}
	return Event{Kind: EventStartOfMessage}
}

func endEvent(kind SegmentKind) Event {
	if kind == SegmentCode {
		return Event{Kind: EventEndOfCode}
	}
	return Event{Kind: EventEndOfMessage}
}
