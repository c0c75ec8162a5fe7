package unifiedllm

import (
	"context"
	"testing"
)

// mockAdapter is a test double for ProviderAdapter.
type mockAdapter struct {
	name     string
	response *Response
	err      error
	events   []StreamEvent
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func (m *mockAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan StreamEvent, len(m.events))
	for _, e := range m.events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func newMockAdapter(name, text string) *mockAdapter {
	return &mockAdapter{
		name: name,
		response: &Response{
			ID:       "test_resp",
			Model:    "test-model",
			Provider: name,
			Message: Message{
				Role:    RoleAssistant,
				Content: []ContentPart{TextPart(text)},
			},
			FinishReason: FinishReason{Reason: "stop"},
			Usage:        Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
		},
	}
}

func TestClientComplete(t *testing.T) {
	mock := newMockAdapter("test-provider", "Hello!")
	client := NewClient(
		WithProvider("test-provider", mock),
		WithDefaultProvider("test-provider"),
	)

	resp, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "Hello!" {
		t.Errorf("expected text %q, got %q", "Hello!", resp.Text())
	}
	if resp.Provider != "test-provider" {
		t.Errorf("expected provider %q, got %q", "test-provider", resp.Provider)
	}
}

func TestClientProviderRouting(t *testing.T) {
	openai := newMockAdapter("openai", "OpenAI response")
	anthropic := newMockAdapter("anthropic", "Anthropic response")

	client := NewClient(
		WithProvider("openai", openai),
		WithProvider("anthropic", anthropic),
		WithDefaultProvider("openai"),
	)

	// Explicit provider.
	resp, err := client.Complete(context.Background(), Request{
		Model:    "claude-3-5-sonnet-latest",
		Messages: []Message{UserMessage("Hi")},
		Provider: "anthropic",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "Anthropic response" {
		t.Errorf("expected Anthropic response, got %q", resp.Text())
	}

	// Default provider.
	resp, err = client.Complete(context.Background(), Request{
		Model:    "gpt-4o",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "OpenAI response" {
		t.Errorf("expected OpenAI response, got %q", resp.Text())
	}
}

func TestClientNoProvider(t *testing.T) {
	client := NewClient()
	_, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	if err == nil {
		t.Fatal("expected error for no provider")
	}
	if _, ok := err.(*ConfigurationError); !ok {
		t.Errorf("expected ConfigurationError, got %T", err)
	}
}

func TestClientMiddleware(t *testing.T) {
	mock := newMockAdapter("test", "response")
	called := false

	mw := func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		called = true
		return next(ctx, req)
	}

	client := NewClient(
		WithProvider("test", mock),
		WithMiddleware(mw),
	)

	_, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("middleware was not called")
	}
}

func TestClientMiddlewareOrder(t *testing.T) {
	mock := newMockAdapter("test", "response")
	var order []int

	mw1 := func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		order = append(order, 1)
		resp, err := next(ctx, req)
		order = append(order, -1)
		return resp, err
	}
	mw2 := func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		order = append(order, 2)
		resp, err := next(ctx, req)
		order = append(order, -2)
		return resp, err
	}

	client := NewClient(
		WithProvider("test", mock),
		WithMiddleware(mw1, mw2),
	)

	_, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Onion pattern: first registered runs first for request, reverse for response.
	expected := []int{1, 2, -2, -1}
	if len(order) != len(expected) {
		t.Fatalf("expected %d middleware calls, got %d", len(expected), len(order))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("position %d: expected %d, got %d", i, v, order[i])
		}
	}
}

func TestClientStream(t *testing.T) {
	mock := &mockAdapter{
		name: "test",
		events: []StreamEvent{
			{Type: StreamStart},
			{Type: TextStart, TextID: "t0"},
			{Type: TextDelta, Delta: "Hello", TextID: "t0"},
			{Type: TextDelta, Delta: " world", TextID: "t0"},
			{Type: TextEnd, TextID: "t0"},
			{Type: StreamFinish, FinishReason: &FinishReason{Reason: "stop"}},
		},
	}

	client := NewClient(WithProvider("test", mock))
	ch, err := client.Stream(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var events []StreamEvent
	for event := range ch {
		events = append(events, event)
	}
	if len(events) != 6 {
		t.Fatalf("expected 6 events, got %d", len(events))
	}
	if events[0].Type != StreamStart {
		t.Errorf("expected StreamStart, got %q", events[0].Type)
	}
	if events[2].Delta != "Hello" {
		t.Errorf("expected delta %q, got %q", "Hello", events[2].Delta)
	}
}

func TestClientRegisterProvider(t *testing.T) {
	client := NewClient()
	mock := newMockAdapter("dynamic", "dynamic response")
	client.RegisterProvider("dynamic", mock)

	resp, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "dynamic response" {
		t.Errorf("expected %q, got %q", "dynamic response", resp.Text())
	}
}

func TestClientAutoSingleProviderDefault(t *testing.T) {
	mock := newMockAdapter("only", "only response")
	client := NewClient(WithProvider("only", mock))

	resp, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "only response" {
		t.Errorf("expected %q, got %q", "only response", resp.Text())
	}
}

func TestClientRoutesByCatalogProvider(t *testing.T) {
	openai := newMockAdapter("openai", "OpenAI response")
	anthropic := newMockAdapter("anthropic", "Anthropic response")

	client := NewClient(
		WithProvider("openai", openai),
		WithProvider("anthropic", anthropic),
		WithDefaultProvider("openai"),
	)

	resp, err := client.Complete(context.Background(), Request{
		Model:    "sonnet",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "Anthropic response" {
		t.Errorf("expected catalog routing to anthropic, got %q", resp.Text())
	}
}

func TestClientStreamMiddleware(t *testing.T) {
	mock := &mockAdapter{
		name:   "test",
		events: []StreamEvent{{Type: StreamStart}, {Type: StreamFinish}},
	}
	var seen []string
	mw := func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error) {
		seen = append(seen, req.Provider)
		return next(ctx, req)
	}

	client := NewClient(WithProvider("test", mock), WithStreamMiddleware(mw))
	client.Use(mw)

	ch, err := client.Stream(context.Background(), Request{Model: "test-model"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for range ch {
	}
	if len(seen) != 2 || seen[0] != "test" {
		t.Errorf("expected both middleware to see provider %q, got %v", "test", seen)
	}
}

type toolMockAdapter struct {
	mockAdapter
	tools bool
}

func (m *toolMockAdapter) SupportsToolCalling() bool { return m.tools }

func TestClientSupportsToolCalling(t *testing.T) {
	client := NewClient(
		WithProvider("openai", &toolMockAdapter{mockAdapter: mockAdapter{name: "openai"}, tools: true}),
		WithProvider("plain", newMockAdapter("plain", "x")),
		WithDefaultProvider("openai"),
	)
	if !client.SupportsToolCalling(Request{Model: "gpt-4o"}) {
		t.Error("expected openai adapter to support tool calling")
	}
	if client.SupportsToolCalling(Request{Provider: "plain"}) {
		t.Error("expected adapter without the capability to report false")
	}
	if client.SupportsToolCalling(Request{Provider: "missing"}) {
		t.Error("expected unknown provider to report false")
	}
}
