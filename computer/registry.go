package computer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// ErrUnsupportedLanguage is returned by Run for identifiers without a factory.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Registry owns at most one ExecutionSession per language identifier. Sessions
// are created on first use and reused until Terminate.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]ExecutionSession
	factories map[string]Factory
	opts      Options
	logger    *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger handed to the registry and its sessions.
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithWorkingDir sets the directory sessions start in.
func WithWorkingDir(dir string) RegistryOption {
	return func(r *Registry) {
		r.opts.WorkingDir = dir
	}
}

// WithSecretFiltering toggles removal of credential variables from the
// environment of child processes.
func WithSecretFiltering(on bool) RegistryOption {
	return func(r *Registry) {
		r.opts.FilterSecrets = on
	}
}

// WithFactory registers or replaces the factory for a language.
func WithFactory(language string, f Factory) RegistryOption {
	return func(r *Registry) {
		r.factories[language] = f
	}
}

// WithFactories replaces the whole factory table.
func WithFactories(factories map[string]Factory) RegistryOption {
	return func(r *Registry) {
		r.factories = make(map[string]Factory, len(factories))
		for lang, f := range factories {
			r.factories[lang] = f
		}
	}
}

// NewRegistry creates a Registry backed by DefaultFactories.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions:  make(map[string]ExecutionSession),
		factories: DefaultFactories(),
		opts:      Options{FilterSecrets: true},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.opts.Logger = r.logger
	return r
}

// Languages returns the sorted identifiers the registry can run.
func (r *Registry) Languages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	langs := make([]string, 0, len(r.factories))
	for lang := range r.factories {
		langs = append(langs, lang)
	}
	slices.Sort(langs)
	return langs
}

// Supports reports whether language has a factory.
func (r *Registry) Supports(language string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.factories[language]
	return ok
}

// session returns the live session for language, creating it if needed.
func (r *Registry) session(language string) (ExecutionSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s := r.sessions[language]; s != nil {
		return s, nil
	}
	factory, ok := r.factories[language]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
	s, err := factory(r.opts)
	if err != nil {
		return nil, fmt.Errorf("create %s session: %w", language, err)
	}
	// A nil session is recorded so Terminate can report it.
	r.sessions[language] = s
	if s == nil {
		return nil, fmt.Errorf("create %s session: factory returned no session", language)
	}
	r.logger.Debug("created execution session", zap.String("language", language))
	return s, nil
}

// Run executes code in the session for language. If the consumer stops
// iterating early, or ctx is cancelled, the owning session is stopped; other
// sessions are untouched.
func (r *Registry) Run(ctx context.Context, language, code string) iter.Seq2[OutputLine, error] {
	return func(yield func(OutputLine, error) bool) {
		s, err := r.session(language)
		if err != nil {
			yield(OutputLine{}, err)
			return
		}

		r.logger.Debug("dispatching code", zap.String("language", language), zap.Int("bytes", len(code)))
		for line, err := range s.Run(ctx, code) {
			if !yield(line, err) {
				r.logger.Debug("execution abandoned, stopping session", zap.String("language", language))
				s.Stop()
				return
			}
			if err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			s.Stop()
		}
	}
}

// Stop interrupts every registered session. Sessions stay usable.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s != nil {
			s.Stop()
		}
	}
}

// Terminate destroys every registered session and clears the registry.
func (r *Registry) Terminate() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]ExecutionSession)
	r.mu.Unlock()

	var errs []error
	for lang, s := range sessions {
		if s == nil {
			// Should not happen once factories are well behaved.
			r.logger.Warn("skipping uninitialized session on terminate", zap.String("language", lang))
			continue
		}
		if err := s.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("terminate %s: %w", lang, err))
		}
	}
	return errors.Join(errs...)
}
