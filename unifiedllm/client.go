package unifiedllm

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// Middleware wraps a provider call. It receives the request and a next function
// that calls the downstream handler, and returns the response.
type Middleware func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error)

// StreamMiddleware wraps a streaming provider call.
type StreamMiddleware func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error)

// Client holds registered provider adapters, routes requests by provider
// identifier, and applies middleware.
type Client struct {
	providers       map[string]ProviderAdapter
	defaultProvider string
	middleware      []Middleware
	streamMW        []StreamMiddleware
	mu              sync.RWMutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers a provider adapter.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) {
		c.providers[name] = adapter
	}
}

// WithDefaultProvider sets the default provider name.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithMiddleware adds middleware to the client.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

// WithStreamMiddleware adds stream middleware to the client.
func WithStreamMiddleware(mw ...StreamMiddleware) ClientOption {
	return func(c *Client) {
		c.streamMW = append(c.streamMW, mw...)
	}
}

// NewClient creates a new Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		providers: make(map[string]ProviderAdapter),
	}
	for _, opt := range opts {
		opt(c)
	}
	// If no default and exactly one provider, use it.
	if c.defaultProvider == "" && len(c.providers) == 1 {
		for name := range c.providers {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterProvider adds a provider adapter to the client.
func (c *Client) RegisterProvider(name string, adapter ProviderAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[name] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = name
	}
}

// Use appends stream middleware after construction.
func (c *Client) Use(mw ...StreamMiddleware) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamMW = append(c.streamMW, mw...)
}

// SupportsToolCalling reports whether the adapter that would serve req can
// stream structured tool calls.
func (c *Client) SupportsToolCalling(req Request) bool {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return false
	}
	if tc, ok := adapter.(ToolCallingSupporter); ok {
		return tc.SupportsToolCalling()
	}
	return false
}

// resolveProvider determines which provider adapter to use for a request:
// the explicit provider, then the catalog provider of the model when
// registered, then the default.
func (c *Client) resolveProvider(req Request) (ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		if info := GetModelInfo(req.Model); info != nil {
			if _, ok := c.providers[info.Provider]; ok {
				name = info.Provider
			}
		}
	}
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "no provider specified and no default provider configured",
		}}
	}

	adapter, ok := c.providers[name]
	if !ok {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("provider %q is not registered", name),
		}}
	}
	return adapter, nil
}

// Complete sends a blocking request through middleware to the resolved provider.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}

	if req.Provider == "" {
		req.Provider = adapter.Name()
	}

	handler := func(ctx context.Context, r Request) (*Response, error) {
		return adapter.Complete(ctx, r)
	}

	// Apply middleware in reverse order so first registered runs first.
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw := c.middleware[i]
		next := handler
		handler = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}

	return handler(ctx, req)
}

// Stream sends a streaming request through middleware to the resolved provider.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}

	if req.Provider == "" {
		req.Provider = adapter.Name()
	}

	handler := func(ctx context.Context, r Request) (<-chan StreamEvent, error) {
		return adapter.Stream(ctx, r)
	}

	c.mu.RLock()
	streamMW := append([]StreamMiddleware(nil), c.streamMW...)
	c.mu.RUnlock()

	for i := len(streamMW) - 1; i >= 0; i-- {
		mw := streamMW[i]
		next := handler
		handler = func(ctx context.Context, r Request) (<-chan StreamEvent, error) {
			return mw(ctx, r, next)
		}
	}

	return handler(ctx, req)
}

// Close releases resources held by all registered providers.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var firstErr error
	for _, adapter := range c.providers {
		if closer, ok := adapter.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// NewClientFromEnv creates a Client by scanning environment variables for API
// keys. OPENAI_API_KEY registers the streaming OpenAI adapter; ANTHROPIC_API_KEY
// registers a gollm adapter for anthropic.
func NewClientFromEnv() *Client {
	c := NewClient()

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.RegisterProvider("openai", NewOpenAIAdapter("openai", key))
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		adapter, err := NewGollmAdapter("anthropic", key)
		if err == nil {
			c.RegisterProvider("anthropic", adapter)
		}
	}

	return c
}
