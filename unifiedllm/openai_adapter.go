package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// DefaultLocalBaseURL is where OpenAI-compatible local servers (LM Studio,
// llama.cpp, Ollama) listen by default.
const DefaultLocalBaseURL = "http://localhost:1234/v1"

// OpenAIAdapter implements ProviderAdapter on the go-openai chat completions
// API. It serves the hosted OpenAI API and any OpenAI-compatible server.
type OpenAIAdapter struct {
	provider string
	client   *openai.Client
	model    string
	tools    bool
}

// OpenAIOption configures an OpenAIAdapter.
type OpenAIOption func(*openAIAdapterConfig)

type openAIAdapterConfig struct {
	baseURL string
	model   string
	noTools bool
}

// WithBaseURL points the adapter at an OpenAI-compatible endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openAIAdapterConfig) {
		c.baseURL = url
	}
}

// WithDefaultModel sets the model used when a request names none.
func WithDefaultModel(model string) OpenAIOption {
	return func(c *openAIAdapterConfig) {
		c.model = model
	}
}

// WithoutToolCalling marks the endpoint as unable to stream tool calls, as is
// common for local servers.
func WithoutToolCalling() OpenAIOption {
	return func(c *openAIAdapterConfig) {
		c.noTools = true
	}
}

// NewOpenAIAdapter creates an adapter registered under provider.
func NewOpenAIAdapter(provider, apiKey string, opts ...OpenAIOption) *OpenAIAdapter {
	cfg := &openAIAdapterConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.baseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.baseURL, "/")
	}
	model := cfg.model
	if model == "" {
		if info := GetLatestModel(provider, ""); info != nil {
			model = info.ID
		}
	}
	return &OpenAIAdapter{
		provider: provider,
		client:   openai.NewClientWithConfig(clientCfg),
		model:    model,
		tools:    !cfg.noTools,
	}
}

// NewLocalAdapter creates an adapter for a local OpenAI-compatible server.
// Local servers ignore the key but the client requires one.
func NewLocalAdapter(baseURL string, opts ...OpenAIOption) *OpenAIAdapter {
	if baseURL == "" {
		baseURL = DefaultLocalBaseURL
	}
	opts = append([]OpenAIOption{WithBaseURL(baseURL), WithDefaultModel("local")}, opts...)
	return NewOpenAIAdapter("local", "dummy", opts...)
}

// Name returns the provider identifier.
func (a *OpenAIAdapter) Name() string {
	return a.provider
}

// SupportsToolCalling reports whether the endpoint streams tool calls.
func (a *OpenAIAdapter) SupportsToolCalling() bool {
	return a.tools
}

// Complete sends a blocking chat completion request.
func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	creq := a.translateRequest(req)
	resp, err := a.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, a.translateError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{
			SDKError: SDKError{Message: "no choices in response"},
			Provider: a.provider,
		}
	}
	choice := resp.Choices[0]

	var parts []ContentPart
	if choice.Message.Content != "" {
		parts = append(parts, TextPart(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		parts = append(parts, ToolCallPart(tc.ID, tc.Function.Name, []byte(tc.Function.Arguments)))
	}

	return &Response{
		ID:           resp.ID,
		Model:        resp.Model,
		Provider:     a.provider,
		Message:      Message{Role: RoleAssistant, Content: parts},
		FinishReason: translateFinishReason(string(choice.FinishReason)),
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

// Stream opens a streaming chat completion. Errors opening the stream are
// returned directly so callers can retry; errors mid-stream arrive as
// StreamError events.
func (a *OpenAIAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	creq := a.translateRequest(req)
	creq.Stream = true
	// Local servers commonly reject stream_options.
	if a.provider != "local" {
		creq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	stream, err := a.client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return nil, a.translateError(err)
	}

	ch := make(chan StreamEvent, 64)
	go func() {
		defer close(ch)
		defer stream.Close()
		a.pump(ctx, stream, creq.Model, ch)
	}()
	return ch, nil
}

type streamedToolCall struct {
	id   string
	name string
}

func (a *OpenAIAdapter) pump(ctx context.Context, stream *openai.ChatCompletionStream, model string, ch chan<- StreamEvent) {
	if !sendEvent(ctx, ch, StreamEvent{Type: StreamStart, Model: model}) {
		return
	}

	const textID = "text_0"
	textStarted := false
	calls := map[int]*streamedToolCall{}
	var order []int
	var usage *Usage
	finish := FinishReason{Reason: "stop", Raw: "stop"}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			sendEvent(ctx, ch, StreamEvent{Type: StreamError, Error: a.translateError(err)})
			return
		}
		if resp.Model != "" {
			model = resp.Model
		}
		if resp.Usage != nil {
			usage = &Usage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
				TotalTokens:  resp.Usage.TotalTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			finish = translateFinishReason(string(choice.FinishReason))
		}

		if choice.Delta.Content != "" {
			if !textStarted {
				if !sendEvent(ctx, ch, StreamEvent{Type: TextStart, TextID: textID}) {
					return
				}
				textStarted = true
			}
			if !sendEvent(ctx, ch, StreamEvent{Type: TextDelta, Delta: choice.Delta.Content, TextID: textID}) {
				return
			}
		}

		for i, tc := range choice.Delta.ToolCalls {
			idx := i
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, seen := calls[idx]
			if !seen {
				call = &streamedToolCall{id: tc.ID, name: tc.Function.Name}
				if call.id == "" {
					call.id = fmt.Sprintf("call_%d", idx)
				}
				calls[idx] = call
				order = append(order, idx)
				if !sendEvent(ctx, ch, StreamEvent{Type: ToolCallStart, ToolCall: &ToolCall{ID: call.id, Name: call.name}}) {
					return
				}
			} else if tc.Function.Name != "" && call.name == "" {
				call.name = tc.Function.Name
			}
			if tc.Function.Arguments == "" {
				continue
			}
			if !sendEvent(ctx, ch, StreamEvent{
				Type:     ToolCallDelta,
				ToolCall: &ToolCall{ID: call.id, Name: call.name, RawArguments: tc.Function.Arguments},
			}) {
				return
			}
		}
	}

	if textStarted && !sendEvent(ctx, ch, StreamEvent{Type: TextEnd, TextID: textID}) {
		return
	}
	for _, idx := range order {
		call := calls[idx]
		if !sendEvent(ctx, ch, StreamEvent{Type: ToolCallEnd, ToolCall: &ToolCall{ID: call.id, Name: call.name}}) {
			return
		}
	}
	sendEvent(ctx, ch, StreamEvent{Type: StreamFinish, FinishReason: &finish, Usage: usage, Model: model})
}

func (a *OpenAIAdapter) translateRequest(req Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = a.model
	}
	creq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
	}
	if req.Temperature != nil {
		creq.Temperature = float32(*req.Temperature)
	}
	if req.MaxTokens != nil {
		creq.MaxTokens = *req.MaxTokens
	}
	if a.tools {
		for _, t := range req.ToolDefs {
			creq.Tools = append(creq.Tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		if len(creq.Tools) > 0 && req.ToolChoice != "" {
			creq.ToolChoice = req.ToolChoice
		}
	}
	for _, msg := range req.Messages {
		creq.Messages = append(creq.Messages, translateMessage(msg))
	}
	return creq
}

func translateMessage(msg Message) openai.ChatCompletionMessage {
	switch msg.Role {
	case RoleTool:
		out := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleTool, ToolCallID: msg.ToolCallID}
		for _, part := range msg.Content {
			if part.Kind == ContentToolResult && part.ToolResult != nil {
				out.Content += part.ToolResult.Content
				if out.ToolCallID == "" {
					out.ToolCallID = part.ToolResult.ToolCallID
				}
			}
		}
		return out
	case RoleAssistant:
		out := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.TextContent()}
		for _, call := range msg.ToolCalls() {
			out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: string(call.Arguments),
				},
			})
		}
		return out
	}

	role := openai.ChatMessageRoleUser
	if msg.Role == RoleSystem {
		role = openai.ChatMessageRoleSystem
	}
	images := msg.Images()
	if len(images) == 0 {
		return openai.ChatCompletionMessage{Role: role, Content: msg.TextContent()}
	}

	out := openai.ChatCompletionMessage{Role: role}
	for _, part := range msg.Content {
		switch {
		case part.Kind == ContentText:
			out.MultiContent = append(out.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: part.Text,
			})
		case part.Kind == ContentImage && part.Image != nil:
			detail := openai.ImageURLDetailAuto
			if part.Image.Detail != "" {
				detail = openai.ImageURLDetail(part.Image.Detail)
			}
			out.MultiContent = append(out.MultiContent, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: part.Image.URL, Detail: detail},
			})
		}
	}
	return out
}

func translateFinishReason(raw string) FinishReason {
	switch raw {
	case "stop", "length", "content_filter":
		return FinishReason{Reason: raw, Raw: raw}
	case "tool_calls", "function_call":
		return FinishReason{Reason: "tool_calls", Raw: raw}
	case "":
		return FinishReason{Reason: "stop"}
	default:
		return FinishReason{Reason: "other", Raw: raw}
	}
}

// translateError converts a go-openai error into the unified error hierarchy.
func (a *OpenAIAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: err}}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
		return ErrorFromStatusCode(apiErr.HTTPStatusCode, apiErr.Message, a.provider, code, err, nil)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return ErrorFromStatusCode(reqErr.HTTPStatusCode, reqErr.Error(), a.provider, "", err, nil)
	}

	var netErr net.Error
	var opErr *net.OpError
	if errors.As(err, &netErr) || errors.As(err, &opErr) {
		return &NetworkError{SDKError: SDKError{Message: fmt.Sprintf("%s unreachable", a.provider), Cause: err}}
	}

	return &ProviderError{
		SDKError:  SDKError{Message: err.Error(), Cause: err},
		Provider:  a.provider,
		Retryable: true,
	}
}
