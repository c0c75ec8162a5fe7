package computer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"
)

// goSession interprets Go in-process with yaegi. Declarations and imports
// persist across runs like a REPL.
type goSession struct {
	opts   Options
	logger *zap.Logger

	runMu  sync.Mutex
	mu     sync.Mutex
	interp *interp.Interpreter
	out    *runWriter
	cancel context.CancelFunc
}

func newGoSession(opts Options) (ExecutionSession, error) {
	return &goSession{
		opts:   opts,
		logger: opts.logger().With(zap.String("language", LangGo)),
		out:    &runWriter{},
	}, nil
}

// runWriter splits interpreter output into lines and forwards them to the
// active run. Writes outside a run, or after it was cancelled, are dropped.
type runWriter struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	lines chan<- string
	done  <-chan struct{}
}

func (w *runWriter) attach(lines chan<- string, done <-chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines, w.done = lines, done
	w.buf.Reset()
}

// detach flushes a trailing partial line and stops forwarding.
func (w *runWriter) detach() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.send(w.buf.String())
		w.buf.Reset()
	}
	w.lines, w.done = nil, nil
}

func (w *runWriter) send(line string) {
	if w.lines == nil {
		return
	}
	select {
	case w.lines <- line:
	case <-w.done:
	}
}

func (w *runWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lines == nil {
		return len(p), nil
	}
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Incomplete line: keep it for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			return len(p), nil
		}
		w.send(strings.TrimSuffix(line, "\n"))
	}
}

func (s *goSession) interpreter() (*interp.Interpreter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interp != nil {
		return s.interp, nil
	}
	i := interp.New(interp.Options{Stdout: s.out, Stderr: s.out})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load go stdlib symbols: %w", err)
	}
	s.logger.Debug("created go interpreter")
	s.interp = i
	return i, nil
}

func (s *goSession) Run(ctx context.Context, code string) iter.Seq2[OutputLine, error] {
	return func(yield func(OutputLine, error) bool) {
		s.runMu.Lock()
		defer s.runMu.Unlock()

		i, err := s.interpreter()
		if err != nil {
			yield(OutputLine{}, err)
			return
		}

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		s.mu.Lock()
		s.cancel = cancel
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			s.cancel = nil
			s.mu.Unlock()
		}()

		lines := make(chan string, 64)
		evalDone := make(chan error, 1)
		s.out.attach(lines, runCtx.Done())
		go func() {
			_, err := i.EvalWithContext(runCtx, code)
			s.out.detach()
			evalDone <- err
			close(lines)
		}()

		consumer := true
		for line := range lines {
			if consumer && !yield(Text(line), nil) {
				consumer = false
				cancel()
			}
		}
		err = <-evalDone
		if !consumer {
			return
		}

		switch {
		case err == nil:
		case ctx.Err() != nil:
			yield(OutputLine{}, ctx.Err())
		case errors.Is(err, context.Canceled):
			yield(Text("Execution interrupted"), nil)
		default:
			// Compile and runtime errors are program output.
			yield(Text(strings.TrimSpace(err.Error())), nil)
		}
	}
}

// Stop cancels the in-flight evaluation. Interpreter state is kept.
func (s *goSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Terminate discards the interpreter; the next Run starts a fresh one.
func (s *goSession) Terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.interp = nil
	return nil
}
