package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmAdapter wraps a gollm.LLM instance and implements ProviderAdapter.
// gollm flattens a conversation into a single prompt and streams plain text,
// so this adapter only serves text (markdown) generation.
type GollmAdapter struct {
	provider string
	llm      gollm.LLM
	model    string
}

// GollmAdapterOption configures a GollmAdapter.
type GollmAdapterOption func(*gollmAdapterConfig)

type gollmAdapterConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key for the adapter.
func WithAPIKey(key string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.apiKey = key
	}
}

// WithModel sets the default model for the adapter.
func WithModel(model string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.maxTokens = n
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.temperature = t
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewGollmAdapter creates a new GollmAdapter for the given provider.
// If apiKey is empty, gollm will attempt to read it from environment variables.
func NewGollmAdapter(provider string, apiKey string, opts ...GollmAdapterOption) (*GollmAdapter, error) {
	cfg := &gollmAdapterConfig{
		apiKey:      apiKey,
		maxTokens:   4096,
		temperature: 0,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		if info := GetLatestModel(provider, ""); info != nil {
			model = info.ID
		} else {
			model = "gpt-4o-mini"
		}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // We handle retries ourselves.
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}

	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}

	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", provider, err)
	}

	return &GollmAdapter{
		provider: provider,
		llm:      llm,
		model:    model,
	}, nil
}

// NewGollmAdapterFromLLM wraps an existing gollm.LLM instance.
func NewGollmAdapterFromLLM(provider string, llm gollm.LLM) *GollmAdapter {
	return &GollmAdapter{
		provider: provider,
		llm:      llm,
	}
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

// SupportsToolCalling reports false: gollm streams text only.
func (a *GollmAdapter) SupportsToolCalling() bool {
	return false
}

// Complete sends a blocking request and returns the full response.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := a.translateRequest(req)
	a.applyRequestOptions(req)

	text, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, a.translateError(err)
	}

	return a.buildResponse(req, text), nil
}

// Stream sends a streaming request and returns a channel of StreamEvent objects.
func (a *GollmAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	prompt := a.translateRequest(req)
	a.applyRequestOptions(req)

	ch := make(chan StreamEvent, 64)

	if !a.llm.SupportsStreaming() {
		// Generate the full response and emit it as a single delta.
		go func() {
			defer close(ch)
			if !sendEvent(ctx, ch, StreamEvent{Type: StreamStart}) {
				return
			}

			text, err := a.llm.Generate(ctx, prompt)
			if err != nil {
				sendEvent(ctx, ch, StreamEvent{Type: StreamError, Error: a.translateError(err)})
				return
			}

			textID := "text_0"
			resp := a.buildResponse(req, text)
			for _, ev := range []StreamEvent{
				{Type: TextStart, TextID: textID},
				{Type: TextDelta, Delta: text, TextID: textID},
				{Type: TextEnd, TextID: textID},
				{Type: StreamFinish, FinishReason: &resp.FinishReason, Usage: &resp.Usage, Model: resp.Model},
			} {
				if !sendEvent(ctx, ch, ev) {
					return
				}
			}
		}()
		return ch, nil
	}

	stream, err := a.llm.Stream(ctx, prompt)
	if err != nil {
		return nil, a.translateError(err)
	}

	go func() {
		defer close(ch)
		defer stream.Close()

		if !sendEvent(ctx, ch, StreamEvent{Type: StreamStart}) {
			return
		}

		textID := "text_0"
		started := false
		var fullText strings.Builder

		for {
			token, err := stream.Next(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				sendEvent(ctx, ch, StreamEvent{Type: StreamError, Error: a.translateError(err)})
				return
			}
			if token == nil {
				continue
			}

			if !started {
				if !sendEvent(ctx, ch, StreamEvent{Type: TextStart, TextID: textID}) {
					return
				}
				started = true
			}

			if !sendEvent(ctx, ch, StreamEvent{Type: TextDelta, Delta: token.Text, TextID: textID}) {
				return
			}
			fullText.WriteString(token.Text)
		}

		if started && !sendEvent(ctx, ch, StreamEvent{Type: TextEnd, TextID: textID}) {
			return
		}

		resp := a.buildResponse(req, fullText.String())
		sendEvent(ctx, ch, StreamEvent{
			Type:         StreamFinish,
			FinishReason: &resp.FinishReason,
			Usage:        &resp.Usage,
			Model:        resp.Model,
		})
	}()

	return ch, nil
}

// translateRequest flattens a unified Request into a gollm Prompt.
func (a *GollmAdapter) translateRequest(req Request) *gollm.Prompt {
	var systemPrompt string
	var parts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt += msg.TextContent() + "\n"
		case RoleUser:
			if text := msg.TextContent(); text != "" {
				parts = append(parts, text)
			}
		case RoleAssistant:
			if text := msg.TextContent(); text != "" {
				parts = append(parts, "[Assistant]: "+text)
			}
		case RoleTool:
			for _, part := range msg.Content {
				if part.Kind != ContentToolResult || part.ToolResult == nil {
					continue
				}
				prefix := "[Tool Result]"
				if part.ToolResult.IsError {
					prefix = "[Tool Error]"
				}
				parts = append(parts, prefix+": "+part.ToolResult.Content)
			}
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollm.PromptOption
	if systemPrompt != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(systemPrompt), gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

// applyRequestOptions applies request-level parameters to the gollm LLM.
func (a *GollmAdapter) applyRequestOptions(req Request) {
	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

// buildResponse constructs a unified Response from the generated text.
func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	// gollm doesn't expose usage; estimate from text length.
	input := estimateTokens(req)
	output := len(text) / 4

	return &Response{
		ID:       "resp_" + uuid.New().String()[:8],
		Model:    model,
		Provider: a.provider,
		Message: Message{
			Role:    RoleAssistant,
			Content: []ContentPart{TextPart(text)},
		},
		FinishReason: FinishReason{Reason: "stop", Raw: "stop"},
		Usage: Usage{
			InputTokens:  input,
			OutputTokens: output,
			TotalTokens:  input + output,
		},
	}
}

// translateError converts a gollm error into the unified error hierarchy.
func (a *GollmAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()

	// gollm only surfaces provider failures as text.
	msgLower := strings.ToLower(msg)
	switch {
	case strings.Contains(msgLower, "401") || strings.Contains(msgLower, "unauthorized") || strings.Contains(msgLower, "invalid key") || strings.Contains(msgLower, "invalid api key"):
		return &AuthenticationError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 401,
		}}
	case strings.Contains(msgLower, "403") || strings.Contains(msgLower, "forbidden"):
		return &AccessDeniedError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 403,
		}}
	case strings.Contains(msgLower, "404") || strings.Contains(msgLower, "not found"):
		return &NotFoundError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 404,
		}}
	case strings.Contains(msgLower, "429") || strings.Contains(msgLower, "rate limit"):
		return &RateLimitError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 429, Retryable: true,
		}}
	case strings.Contains(msgLower, "context length") || strings.Contains(msgLower, "too many tokens"):
		return &ContextLengthError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 413,
		}}
	case strings.Contains(msgLower, "500") || strings.Contains(msgLower, "internal server"):
		return &ServerError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 500, Retryable: true,
		}}
	case strings.Contains(msgLower, "timeout"):
		return &RequestTimeoutError{SDKError: SDKError{Message: msg, Cause: err}}
	case strings.Contains(msgLower, "content filter") || strings.Contains(msgLower, "safety"):
		return &ContentFilterError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider,
		}}
	default:
		return &ProviderError{
			SDKError:  SDKError{Message: msg, Cause: err},
			Provider:  a.provider,
			Retryable: true,
		}
	}
}

// estimateTokens provides a rough token count estimate from request messages.
func estimateTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			switch part.Kind {
			case ContentText:
				total += len(part.Text) / 4
			case ContentToolResult:
				if part.ToolResult != nil {
					total += len(part.ToolResult.Content) / 4
				}
			}
		}
	}
	if total == 0 {
		total = 10
	}
	return total
}
