package agentloop

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
)

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

// assertWellFormed checks that segment boundaries never nest, never repeat a
// start without an end and are all closed.
func assertWellFormed(t *testing.T, events []Event) {
	t.Helper()
	open := EventKind("")
	for i, ev := range events {
		switch ev.Kind {
		case EventStartOfMessage, EventStartOfCode:
			if open != "" {
				t.Fatalf("event %d: %s while %s is open", i, ev.Kind, open)
			}
			open = ev.Kind
		case EventEndOfMessage:
			if open != EventStartOfMessage {
				t.Fatalf("event %d: end_of_message without start", i)
			}
			open = ""
		case EventEndOfCode:
			if open != EventStartOfCode {
				t.Fatalf("event %d: end_of_code without start", i)
			}
			open = ""
		}
	}
	if open != "" {
		t.Fatalf("%s never closed", open)
	}
}

func classifyAll(deltas []Delta) []Event {
	var c Classifier
	var events []Event
	for _, d := range deltas {
		events = append(events, c.Push(d)...)
	}
	return append(events, c.Finish()...)
}

func TestClassifierTextThenCode(t *testing.T) {
	events := classifyAll([]Delta{{Text: "Sure"}, {Text: "."}, {Language: "python"}, {Code: "print(1)"}})

	assert.Equal(t, []EventKind{
		EventStartOfMessage, EventDelta, EventDelta, EventEndOfMessage,
		EventStartOfCode, EventDelta, EventDelta, EventEndOfCode,
	}, kinds(events))
	assertWellFormed(t, events)
}

func TestClassifierLanguageAndCodeInOneDelta(t *testing.T) {
	events := classifyAll([]Delta{{Language: "shell", Code: "ls"}})
	assert.Equal(t, []EventKind{EventStartOfCode, EventDelta, EventEndOfCode}, kinds(events))
}

func TestClassifierTextAndCodeInOneDelta(t *testing.T) {
	events := classifyAll([]Delta{{Text: "run:", Code: "ls"}})
	assert.Equal(t, []EventKind{
		EventStartOfMessage, EventEndOfMessage, EventStartOfCode, EventDelta, EventEndOfCode,
	}, kinds(events))
}

func TestClassifierDeltaWithoutSegmentFields(t *testing.T) {
	var c Classifier
	events := c.Push(Delta{Output: "x"})
	assert.Equal(t, []EventKind{EventDelta}, kinds(events))
	assert.Equal(t, SegmentNone, c.Current())
	assert.Empty(t, c.Finish())
}

func TestClassifierFinishResets(t *testing.T) {
	var c Classifier
	c.Push(Delta{Code: "1"})
	assert.Equal(t, SegmentCode, c.Current())
	assert.Equal(t, []EventKind{EventEndOfCode}, kinds(c.Finish()))
	assert.Equal(t, SegmentNone, c.Current())
}

func TestClassifierBoundariesAlwaysWellFormed(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	pick := func(s string) string {
		if r.IntN(2) == 0 {
			return ""
		}
		return s
	}
	for range 500 {
		deltas := make([]Delta, r.IntN(12))
		for i := range deltas {
			deltas[i] = Delta{Text: pick("t"), Language: pick("py"), Code: pick("c"), Output: pick("o")}
		}
		events := classifyAll(deltas)
		assertWellFormed(t, events)

		deltaCount := 0
		for _, ev := range events {
			if ev.Kind == EventDelta {
				deltaCount++
			}
		}
		assert.Equal(t, len(deltas), deltaCount, "every delta is forwarded exactly once")
	}
}
