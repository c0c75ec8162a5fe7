package agentloop

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/martinemde/interpreter/computer"
	"github.com/martinemde/interpreter/unifiedllm"
	"go.uber.org/zap"
)

// Generator produces the delta stream for one assistant turn. The channel is
// closed when the stream ends; implementations stop sending once ctx is done.
type Generator interface {
	Stream(ctx context.Context, req GenerateRequest) (<-chan Chunk, error)
}

// Chunk is one item of a generator stream. A non-nil Err ends the stream.
type Chunk struct {
	Delta Delta
	Err   error
}

// GenerateRequest is what the session asks a Generator for.
type GenerateRequest struct {
	// Messages starts with the system message, followed by the history.
	Messages        []Message
	Model           string
	ContextWindow   int
	MaxTokens       int
	FunctionCalling bool
	Local           bool
	Vision          bool
}

// Executor runs code blocks. *computer.Registry implements it.
type Executor interface {
	Run(ctx context.Context, language, code string) iter.Seq2[computer.OutputLine, error]
	Supports(language string) bool
	Languages() []string
	Stop()
	Terminate() error
}

// ImageRenderer turns HTML output into a PNG for vision mode.
type ImageRenderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// SessionConfig holds configuration for a session.
type SessionConfig struct {
	Model               string `json:"model"`
	FallbackModel       string `json:"fallback_model"`
	ContextWindow       int    `json:"context_window"` // 0 = catalog default
	MaxTokens           int    `json:"max_tokens"`     // 0 = catalog default
	FunctionCalling     bool   `json:"function_calling"`
	Local               bool   `json:"local"`
	Vision              bool   `json:"vision"`
	MaxOutput           int    `json:"max_output"` // characters of stored output
	SystemMessage       string `json:"system_message,omitempty"`
	CustomInstructions  string `json:"custom_instructions,omitempty"`
	WorkingDir          string `json:"working_dir,omitempty"`
	EnableLoopDetection bool   `json:"enable_loop_detection"`
	LoopDetectionWindow int    `json:"loop_detection_window"`
}

// DefaultSessionConfig returns the default configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Model:               "gpt-4o",
		FallbackModel:       unifiedllm.FallbackModelID,
		FunctionCalling:     true,
		MaxOutput:           DefaultMaxOutput,
		LoopDetectionWindow: 6,
	}
}

const (
	noOutput     = "No output"
	visionNotice = "Sending image output to the vision model..."
)

// Session owns one conversation: its history, the generator that extends it
// and the executor that runs the code it produces.
type Session struct {
	id       string
	gen      Generator
	exec     Executor
	logger   *zap.Logger
	metrics  *Metrics
	renderer ImageRenderer
	retry    unifiedllm.RetryPolicy

	respondMu sync.Mutex // held for the duration of a response

	mu              sync.Mutex
	config          SessionConfig
	history         []Message
	pendingFallback *ModelAccessError
	closed          bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithMetrics records session activity on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithImageRenderer enables HTML screenshots in vision mode.
func WithImageRenderer(r ImageRenderer) Option {
	return func(s *Session) {
		s.renderer = r
	}
}

// WithRetryPolicy sets the policy used when opening a generation stream.
func WithRetryPolicy(p unifiedllm.RetryPolicy) Option {
	return func(s *Session) {
		s.retry = p
	}
}

// NewSession creates a session. A nil config selects DefaultSessionConfig.
func NewSession(gen Generator, exec Executor, config *SessionConfig, opts ...Option) *Session {
	cfg := DefaultSessionConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = DefaultMaxOutput
	}
	if cfg.FallbackModel == "" {
		cfg.FallbackModel = unifiedllm.FallbackModelID
	}

	s := &Session{
		id:     uuid.New().String(),
		gen:    gen,
		exec:   exec,
		config: cfg,
		logger: zap.NewNop(),
		retry:  unifiedllm.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session_id", s.id))
	if s.retry.OnRetry == nil {
		s.retry.OnRetry = func(err error, attempt int, delay time.Duration) {
			s.logger.Warn("retrying generation", zap.Error(err), zap.Int("attempt", attempt), zap.Duration("delay", delay))
		}
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Config returns a copy of the current configuration.
func (s *Session) Config() SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Messages returns a copy of the conversation history.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// SetMessages replaces the conversation history.
func (s *Session) SetMessages(messages []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = slices.Clone(messages)
}

// Chat appends a user message and responds to it.
func (s *Session) Chat(ctx context.Context, input string) iter.Seq2[Event, error] {
	return s.run(ctx, func() {
		s.appendMessage(UserMessage(input))
	})
}

// Respond runs the response loop over the current history: generate, run
// any code the assistant wrote, feed the output back and repeat until the
// assistant answers without code. Breaking out of the range cancels the
// loop; if code is running its session is interrupted.
//
// Fatal generation failures are yielded as a single error: *CredentialError,
// *ModelAccessError, *LocalBackendError, or the underlying error. A budget
// overrun ends the loop with an EventBudgetExceeded notice instead.
func (s *Session) Respond(ctx context.Context) iter.Seq2[Event, error] {
	return s.run(ctx, nil)
}

func (s *Session) run(ctx context.Context, prelude func()) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		if !s.respondMu.TryLock() {
			yield(Event{}, ErrSessionBusy)
			return
		}
		defer s.respondMu.Unlock()

		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			yield(Event{}, ErrSessionClosed)
			return
		}
		if prelude != nil {
			prelude()
		}
		s.respond(ctx, yield)
	}
}

func (s *Session) respond(ctx context.Context, yield func(Event, error) bool) {
	lastUnsupported := ""
	for {
		if err := ctx.Err(); err != nil {
			yield(Event{}, err)
			return
		}
		s.metrics.turn()

		req := s.request()
		s.appendMessage(Message{Role: RoleAssistant})

		ok, err := s.generate(ctx, req, yield)
		if err != nil {
			s.discardEmptyTurn()
			var budget *unifiedllm.BudgetExceededError
			if errors.As(err, &budget) {
				s.metrics.generationError("budget")
				s.logger.Info("budget exceeded", zap.Float64("spend", budget.Spend), zap.Float64("limit", budget.Limit))
				yield(Event{Kind: EventBudgetExceeded, Output: budgetNotice(budget)}, nil)
				return
			}
			yield(Event{}, s.classifyGenerationError(err, req))
			return
		}
		if !ok {
			return
		}

		last := s.lastMessage()
		if last.Code == "" {
			return
		}

		language := computer.NormalizeLanguage(last.Language)
		code := last.Code
		if !s.exec.Supports(language) {
			notice := fmt.Sprintf("`%s` disabled or not supported.", language)
			s.updateLast(func(m *Message) { m.Output = notice })
			s.metrics.execution(language, "unsupported")
			if !yield(Event{Kind: EventOutput, Output: notice}, nil) {
				return
			}
			// One more turn lets the assistant try another way; the same
			// code twice means it will not.
			if code == lastUnsupported {
				return
			}
			lastUnsupported = code
			continue
		}

		// Notebook-style shell escape.
		if language == computer.LangPython && strings.HasPrefix(code, "!") {
			code = code[1:]
			language = computer.LangShell
			s.updateLast(func(m *Message) {
				m.Code = code
				m.Language = language
			})
		}

		if !yield(Event{Kind: EventExecuting, Language: language, Code: code}, nil) {
			s.exec.Stop()
			return
		}
		if err := ctx.Err(); err != nil {
			s.exec.Stop()
			yield(Event{}, err)
			return
		}
		if !yield(Event{Kind: EventStartOfOutput}, nil) {
			return
		}
		if !s.execute(ctx, language, code, yield) {
			return
		}
		if !yield(Event{Kind: EventActiveLine}, nil) {
			return
		}
		if !yield(Event{Kind: EventEndOfOutput}, nil) {
			return
		}
		if !s.checkLoop(yield) {
			return
		}
	}
}

// request snapshots the configuration and history into a GenerateRequest.
func (s *Session) request() GenerateRequest {
	s.mu.Lock()
	cfg := s.config
	history := slices.Clone(s.history)
	s.mu.Unlock()

	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, SystemMessage(BuildSystemMessage(cfg, s.exec.Languages())))
	for _, m := range history {
		if m.Executed && m.Output == "" {
			m.Output = noOutput
		}
		messages = append(messages, m)
	}
	return GenerateRequest{
		Messages:        messages,
		Model:           cfg.Model,
		ContextWindow:   cfg.ContextWindow,
		MaxTokens:       cfg.MaxTokens,
		FunctionCalling: cfg.FunctionCalling,
		Local:           cfg.Local,
		Vision:          cfg.Vision,
	}
}

// generate streams one assistant turn into the last message. It returns
// false without an error when the consumer stopped.
func (s *Session) generate(ctx context.Context, req GenerateRequest, yield func(Event, error) bool) (bool, error) {
	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks, err := unifiedllm.Retry(genCtx, s.retry, func(ctx context.Context) (<-chan Chunk, error) {
		return s.gen.Stream(ctx, req)
	})
	if err != nil {
		return false, err
	}

	var cls Classifier
	for chunk := range chunks {
		if chunk.Err != nil {
			return false, chunk.Err
		}
		if chunk.Delta.IsZero() {
			continue
		}
		s.updateLast(func(m *Message) { *m = MergeDelta(*m, chunk.Delta) })
		for _, ev := range cls.Push(chunk.Delta) {
			if !yield(ev, nil) {
				return false, nil
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	for _, ev := range cls.Finish() {
		if !yield(ev, nil) {
			return false, nil
		}
	}
	return true, nil
}

// classifyGenerationError maps a generation failure to the error reported
// to the caller.
func (s *Session) classifyGenerationError(err error, req GenerateRequest) error {
	var abort *unifiedllm.AbortError
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.As(err, &abort) {
		return err
	}

	text := strings.ToLower(err.Error())
	var (
		auth     *unifiedllm.AuthenticationError
		denied   *unifiedllm.AccessDeniedError
		notFound *unifiedllm.NotFoundError
	)
	fallback := s.Config().FallbackModel

	switch {
	case (!req.Local && (errors.As(err, &auth) || strings.Contains(text, "auth"))) || strings.Contains(text, "api key"):
		s.metrics.generationError("credential")
		s.logger.Warn("generation failed: credentials", zap.Error(err))
		return &CredentialError{Err: err}
	case !req.Local && req.Model != fallback &&
		(errors.As(err, &denied) || errors.As(err, &notFound) || strings.Contains(text, "access")):
		s.metrics.generationError("model_access")
		s.logger.Warn("generation failed: model access", zap.String("model", req.Model), zap.Error(err))
		mae := &ModelAccessError{Model: req.Model, Fallback: fallback, Err: err}
		s.mu.Lock()
		s.pendingFallback = mae
		s.mu.Unlock()
		return mae
	case req.Local:
		s.metrics.generationError("local")
		s.logger.Warn("generation failed: local backend", zap.Error(err))
		return &LocalBackendError{Err: err}
	default:
		s.metrics.generationError("other")
		s.logger.Warn("generation failed", zap.Error(err))
		return err
	}
}

func budgetNotice(err *unifiedllm.BudgetExceededError) string {
	return fmt.Sprintf("Max budget exceeded\n\nSession spend: $%.4f\nMax budget: $%.4f\n\n"+
		"Run again with a higher --max-budget to proceed.", err.Spend, err.Limit)
}

// execute dispatches code and folds its output into the last message. It
// returns false when the response must end.
func (s *Session) execute(ctx context.Context, language, code string, yield func(Event, error) bool) bool {
	s.updateLast(func(m *Message) {
		m.Executed = true
		m.Output = ""
	})
	cfg := s.Config()
	s.logger.Debug("executing code", zap.String("language", language), zap.Int("bytes", len(code)))

	var execErr error
	for line, err := range s.exec.Run(ctx, language, code) {
		if err != nil {
			// The executor ends the sequence after an error.
			execErr = err
			continue
		}
		if !yield(eventFromLine(line), nil) {
			s.metrics.execution(language, "abandoned")
			return false
		}
		if line.Kind == computer.LineOutput {
			s.appendOutput(line.Output, cfg.MaxOutput)
		}
		if cfg.Vision {
			if b64 := s.imageFor(ctx, line); b64 != "" {
				if !yield(Event{Kind: EventOutput, Output: visionNotice}, nil) {
					s.metrics.execution(language, "abandoned")
					return false
				}
				s.updateLast(func(m *Message) { m.Image = "data:image/png;base64," + b64 })
			}
		}
	}

	if execErr != nil {
		if ctx.Err() != nil {
			s.metrics.execution(language, "cancelled")
			yield(Event{}, ctx.Err())
			return false
		}
		// Execution failures are shown to the assistant so it can adapt.
		s.metrics.execution(language, "error")
		s.logger.Debug("execution failed", zap.String("language", language), zap.Error(execErr))
		text := strings.TrimSpace(execErr.Error())
		s.updateLast(func(m *Message) { m.Output = text })
		return yield(Event{Kind: EventOutput, Output: text}, nil)
	}
	s.metrics.execution(language, "ok")
	return true
}

// appendOutput adds one output line to the last message, keeping it within
// maxOutput characters.
func (s *Session) appendOutput(text string, maxOutput int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return
	}
	m := &s.history[len(s.history)-1]
	combined := m.Output + "\n" + text
	truncated := TruncateOutput(combined, maxOutput)
	if truncated != combined {
		s.metrics.truncated()
	}
	m.Output = strings.TrimSpace(truncated)
}

// imageFor returns the base64 PNG carried or rendered from line, if any.
func (s *Session) imageFor(ctx context.Context, line computer.OutputLine) string {
	switch line.Kind {
	case computer.LineImage:
		return line.Image
	case computer.LineHTML:
		if s.renderer == nil {
			return ""
		}
		png, err := s.renderer.RenderHTML(ctx, line.HTML)
		if err != nil {
			s.logger.Warn("render html for vision", zap.Error(err))
			return ""
		}
		return base64.StdEncoding.EncodeToString(png)
	}
	return ""
}

// checkLoop appends a notice when recent executions repeat.
func (s *Session) checkLoop(yield func(Event, error) bool) bool {
	s.mu.Lock()
	enabled := s.config.EnableLoopDetection
	window := s.config.LoopDetectionWindow
	history := slices.Clone(s.history)
	s.mu.Unlock()

	if !enabled || !DetectLoop(history, window) {
		return true
	}
	warning := fmt.Sprintf("Loop detected: the last %d code blocks follow a repeating pattern. Try a different approach.", window)
	s.appendMessage(UserMessage(warning))
	s.logger.Info("execution loop detected", zap.Int("window", window))
	return yield(Event{Kind: EventLoopDetection, Output: warning}, nil)
}

// AcceptFallback switches to the fallback model offered by the last
// *ModelAccessError. Respond again to continue the conversation.
func (s *Session) AcceptFallback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingFallback == nil {
		return ErrNoFallbackPending
	}
	model := s.pendingFallback.Fallback
	s.pendingFallback = nil

	s.config.Model = model
	s.config.ContextWindow = 16000
	s.config.MaxTokens = 4096
	s.config.FunctionCalling = true
	if info := unifiedllm.GetModelInfo(model); info != nil {
		s.config.ContextWindow = info.ContextWindow
		if info.MaxOutput != nil {
			s.config.MaxTokens = *info.MaxOutput
		}
		s.config.FunctionCalling = info.SupportsTools
	}
	s.logger.Info("switched to fallback model", zap.String("model", model))
	return nil
}

// Stop interrupts running code in every language session. Session state is
// kept.
func (s *Session) Stop() {
	s.exec.Stop()
}

// Reset terminates all language sessions and clears the history.
func (s *Session) Reset() error {
	s.mu.Lock()
	s.history = nil
	s.pendingFallback = nil
	s.mu.Unlock()
	return s.exec.Terminate()
}

// Close terminates all language sessions. Later responses fail with
// ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.exec.Terminate()
}

func (s *Session) appendMessage(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, m)
}

// lastMessage and updateLast tolerate a history emptied by Reset while a
// response is still running.
func (s *Session) lastMessage() Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return Message{}
	}
	return s.history[len(s.history)-1]
}

func (s *Session) updateLast(fn func(*Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return
	}
	fn(&s.history[len(s.history)-1])
}

// discardEmptyTurn drops the in-progress assistant message if the failed
// generation left nothing in it.
func (s *Session) discardEmptyTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.history)
	if n == 0 {
		return
	}
	last := s.history[n-1]
	if last.Role == RoleAssistant && last.Text == "" && last.Code == "" && last.Language == "" {
		s.history = s.history[:n-1]
	}
}
