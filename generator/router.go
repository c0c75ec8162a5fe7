package generator

import (
	"context"
	"errors"

	"github.com/martinemde/interpreter/agentloop"
	"github.com/martinemde/interpreter/unifiedllm"
	"go.uber.org/zap"
)

const (
	// LocalProvider is the client provider name used in local mode.
	LocalProvider = "local"

	defaultContextWindow = 8000
	defaultMaxTokens     = 1000
)

// deltaParser turns provider stream events into message deltas.
type deltaParser interface {
	Feed(ev unifiedllm.StreamEvent) []agentloop.Delta
	Finish() []agentloop.Delta
	// Done reports that the rest of the stream is not needed.
	Done() bool
}

// Router adapts a unifiedllm client to agentloop.Generator. It uses the
// execute function when both the request and the provider support tool
// calling, and falls back to parsing markdown fences otherwise.
type Router struct {
	client    *unifiedllm.Client
	logger    *zap.Logger
	languages []string
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithLanguages restricts the language argument of the execute function.
func WithLanguages(languages []string) Option {
	return func(r *Router) {
		r.languages = languages
	}
}

// NewRouter creates a Router over client.
func NewRouter(client *unifiedllm.Client, opts ...Option) *Router {
	r := &Router{client: client, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stream implements agentloop.Generator.
func (r *Router) Stream(ctx context.Context, req agentloop.GenerateRequest) (<-chan agentloop.Chunk, error) {
	llmReq, functionCalling := r.request(req)
	r.logger.Debug("opening generation stream",
		zap.String("model", llmReq.Model),
		zap.Bool("function_calling", functionCalling),
		zap.Int("messages", len(llmReq.Messages)),
	)

	streamCtx, cancel := context.WithCancel(ctx)
	events, err := r.client.Stream(streamCtx, llmReq)
	if err != nil {
		cancel()
		return nil, err
	}

	var parser deltaParser = &markdownParser{}
	if functionCalling {
		parser = &functionCallParser{}
	}
	out := make(chan agentloop.Chunk)
	go func() {
		defer close(out)
		defer func() {
			// Unblock the provider, then let it wind down.
			cancel()
			for range events {
			}
		}()
		pump(streamCtx, events, parser, out)
	}()
	return out, nil
}

// request builds the provider request and reports whether function calling
// is used.
func (r *Router) request(req agentloop.GenerateRequest) (unifiedllm.Request, bool) {
	llmReq := unifiedllm.Request{Model: req.Model}
	if req.Local {
		llmReq.Provider = LocalProvider
	}

	contextWindow, maxTokens := req.ContextWindow, req.MaxTokens
	if info := unifiedllm.GetModelInfo(req.Model); info != nil {
		if contextWindow == 0 {
			contextWindow = info.ContextWindow
		}
		if maxTokens == 0 && info.MaxOutput != nil {
			maxTokens = *info.MaxOutput
		}
	}
	if contextWindow == 0 {
		contextWindow = defaultContextWindow
	}
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	llmReq.MaxTokens = &maxTokens

	functionCalling := req.FunctionCalling && r.client.SupportsToolCalling(llmReq)
	llmReq.Messages = trimToContext(toLLMMessages(req.Messages, functionCalling, req.Vision), contextWindow, maxTokens)
	if functionCalling {
		llmReq.ToolDefs = []unifiedllm.ToolDefinition{executeTool(r.languages)}
		llmReq.ToolChoice = "auto"
	}
	return llmReq, functionCalling
}

func pump(ctx context.Context, events <-chan unifiedllm.StreamEvent, parser deltaParser, out chan<- agentloop.Chunk) {
	for ev := range events {
		if ev.Type == unifiedllm.StreamError {
			err := ev.Error
			if err == nil {
				err = errors.New("generation stream failed")
			}
			send(ctx, out, agentloop.Chunk{Err: err})
			return
		}
		for _, d := range parser.Feed(ev) {
			if !send(ctx, out, agentloop.Chunk{Delta: d}) {
				return
			}
		}
		if parser.Done() {
			return
		}
	}
	for _, d := range parser.Finish() {
		if !send(ctx, out, agentloop.Chunk{Delta: d}) {
			return
		}
	}
}

func send(ctx context.Context, out chan<- agentloop.Chunk, c agentloop.Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
