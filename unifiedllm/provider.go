package unifiedllm

import "context"

// ProviderAdapter is the interface every provider backend must implement.
type ProviderAdapter interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic", "local").
	Name() string

	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream sends a request and returns a channel of stream events. The
	// channel is closed when the stream ends or ctx is cancelled.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}

// ToolCallingSupporter is implemented by adapters that can stream
// structured tool calls rather than plain text only.
type ToolCallingSupporter interface {
	SupportsToolCalling() bool
}

// sendEvent delivers ev unless ctx is done. It reports whether the event
// was delivered.
func sendEvent(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
