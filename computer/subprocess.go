package computer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	endMarkerPrefix = "##end_of_execution:"
	// drainTimeout bounds how long a run waits for an abandoned run's end
	// marker before restarting the process.
	drainTimeout = 2 * time.Second
	// exitGrace bounds how long buffered output is collected after the
	// process exits.
	exitGrace = 200 * time.Millisecond
)

// replConfig describes how to drive one persistent interpreter process.
type replConfig struct {
	language string
	// argv resolves the command line; it fails when the interpreter is not
	// installed.
	argv func() ([]string, error)
	// preamble is written to stdin once after the process starts.
	preamble string
	// encode renders code into stdin bytes that run it and then print marker.
	encode func(code, marker string) ([]byte, error)
	// parse converts a console line; returning false drops it.
	parse func(line string) (OutputLine, bool)
}

// process is one running interpreter and the goroutines pumping its output.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	output *os.File
	lines  chan string
	exited chan struct{}
	quit   chan struct{}
	group  *errgroup.Group

	exitErr   error
	busy      atomic.Bool
	pending   string // marker of an abandoned run; guarded by runMu
	closeOnce sync.Once
}

func (p *process) hasExited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// subprocessSession runs code in a long-lived interpreter process, framing
// each run with a unique end marker printed after the code finishes.
// stdout and stderr share one pipe so their lines interleave in order.
type subprocessSession struct {
	cfg    replConfig
	opts   Options
	logger *zap.Logger

	runMu sync.Mutex // serializes runs
	mu    sync.Mutex // guards proc
	proc  *process
}

func newSubprocessSession(cfg replConfig, opts Options) *subprocessSession {
	return &subprocessSession{
		cfg:    cfg,
		opts:   opts,
		logger: opts.logger().With(zap.String("language", cfg.language)),
	}
}

func (s *subprocessSession) start() (*process, error) {
	argv, err := s.cfg.argv()
	if err != nil {
		return nil, fmt.Errorf("%s interpreter not available: %w", s.cfg.language, err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = s.opts.WorkingDir
	cmd.Env = s.opts.environ()
	// Own process group so Stop can signal the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%s stdin: %w", s.cfg.language, err)
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%s output pipe: %w", s.cfg.language, err)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("start %s: %w", s.cfg.language, err)
	}
	// The child holds its own copy of the write end.
	w.Close()

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		output: r,
		lines:  make(chan string, 1024),
		exited: make(chan struct{}),
		quit:   make(chan struct{}),
		group:  new(errgroup.Group),
	}
	p.group.Go(func() error {
		defer close(p.lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
		for sc.Scan() {
			select {
			case p.lines <- strings.TrimRight(sc.Text(), "\r"):
			case <-p.quit:
				return nil
			}
		}
		if err := sc.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
			return err
		}
		return nil
	})
	p.group.Go(func() error {
		p.exitErr = cmd.Wait()
		close(p.exited)
		return nil
	})

	s.logger.Debug("started interpreter", zap.Strings("argv", argv), zap.Int("pid", cmd.Process.Pid))

	if s.cfg.preamble != "" {
		if _, err := io.WriteString(stdin, s.cfg.preamble); err != nil {
			s.teardown(p)
			return nil, fmt.Errorf("%s preamble: %w", s.cfg.language, err)
		}
	}
	return p, nil
}

// teardown kills the process group and waits for the pumps to finish.
func (s *subprocessSession) teardown(p *process) {
	p.closeOnce.Do(func() {
		if p.cmd.Process != nil {
			_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
		}
		close(p.quit)
		_ = p.stdin.Close()
		_ = p.output.Close()
		if err := p.group.Wait(); err != nil {
			s.logger.Debug("output pump ended with error", zap.Error(err))
		}
		s.logger.Debug("interpreter stopped", zap.Int("pid", p.cmd.Process.Pid))
	})
	s.mu.Lock()
	if s.proc == p {
		s.proc = nil
	}
	s.mu.Unlock()
}

// ready returns a live process with no run in flight, restarting it when the
// previous one died or an abandoned run never finished.
func (s *subprocessSession) ready(ctx context.Context) (*process, error) {
	s.mu.Lock()
	p := s.proc
	s.mu.Unlock()

	if p != nil && p.pending != "" && !s.drain(ctx, p) {
		s.logger.Debug("abandoned run did not finish, restarting interpreter")
		s.teardown(p)
		p = nil
	}
	if p != nil && p.hasExited() {
		s.teardown(p)
		p = nil
	}
	if p != nil {
		return p, nil
	}

	p, err := s.start()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.proc = p
	s.mu.Unlock()
	return p, nil
}

// drain discards output until the pending marker appears.
func (s *subprocessSession) drain(ctx context.Context, p *process) bool {
	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()
	for {
		select {
		case line, ok := <-p.lines:
			if !ok {
				return false
			}
			if strings.Contains(line, p.pending) {
				p.pending = ""
				p.busy.Store(false)
				return true
			}
		case <-p.exited:
			return false
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func (s *subprocessSession) emit(line string, yield func(OutputLine, error) bool) bool {
	if s.cfg.parse != nil {
		if ol, keep := s.cfg.parse(line); keep {
			return yield(ol, nil)
		}
		return true
	}
	return yield(Text(line), nil)
}

// Run writes code to the interpreter and streams its output until the end
// marker. Abandoning the sequence early leaves the marker pending; the next
// Run drains it first.
func (s *subprocessSession) Run(ctx context.Context, code string) iter.Seq2[OutputLine, error] {
	return func(yield func(OutputLine, error) bool) {
		s.runMu.Lock()
		defer s.runMu.Unlock()

		p, err := s.ready(ctx)
		if err != nil {
			yield(OutputLine{}, err)
			return
		}

		marker := endMarkerPrefix + strings.ReplaceAll(uuid.NewString(), "-", "") + "##"
		payload, err := s.cfg.encode(code, marker)
		if err != nil {
			yield(OutputLine{}, fmt.Errorf("encode %s code: %w", s.cfg.language, err))
			return
		}

		p.pending = marker
		p.busy.Store(true)
		if _, err := p.stdin.Write(payload); err != nil {
			s.teardown(p)
			yield(OutputLine{}, fmt.Errorf("%s session: write code: %w", s.cfg.language, err))
			return
		}

		for {
			select {
			case line, ok := <-p.lines:
				if !ok {
					s.finishExited(p, marker, yield)
					return
				}
				if done, cont := s.handleLine(p, line, marker, yield); done || !cont {
					return
				}
			case <-p.exited:
				s.finishExited(p, marker, yield)
				return
			case <-ctx.Done():
				s.Stop()
				yield(OutputLine{}, ctx.Err())
				return
			}
		}
	}
}

// handleLine emits line, reporting whether the marker ended the run and
// whether the consumer wants more.
func (s *subprocessSession) handleLine(p *process, line, marker string, yield func(OutputLine, error) bool) (done, cont bool) {
	if before, _, found := strings.Cut(line, marker); found {
		p.pending = ""
		p.busy.Store(false)
		if before != "" {
			s.emit(before, yield)
		}
		return true, true
	}
	return false, s.emit(line, yield)
}

// finishExited flushes output buffered before the process died, then reports
// the exit unless the run had already completed.
func (s *subprocessSession) finishExited(p *process, marker string, yield func(OutputLine, error) bool) {
	grace := time.NewTimer(exitGrace)
	defer grace.Stop()
flush:
	for {
		select {
		case line, ok := <-p.lines:
			if !ok {
				break flush
			}
			if done, cont := s.handleLine(p, line, marker, yield); done || !cont {
				s.teardown(p)
				return
			}
		case <-grace.C:
			break flush
		}
	}

	s.teardown(p)
	// Safe to read: teardown waited for the process goroutines.
	exitErr := p.exitErr
	s.logger.Debug("interpreter exited during run", zap.Error(exitErr))
	if exitErr != nil {
		yield(OutputLine{}, fmt.Errorf("%s process exited: %w", s.cfg.language, exitErr))
		return
	}
	yield(OutputLine{}, fmt.Errorf("%s process exited", s.cfg.language))
}

// Stop interrupts the running code with SIGINT to the process group.
func (s *subprocessSession) Stop() {
	s.mu.Lock()
	p := s.proc
	s.mu.Unlock()
	if p == nil || !p.busy.Load() || p.hasExited() {
		return
	}
	s.logger.Debug("interrupting interpreter")
	_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGINT)
}

// Terminate kills the interpreter. A later Run starts a fresh one.
func (s *subprocessSession) Terminate() error {
	s.mu.Lock()
	p := s.proc
	s.mu.Unlock()
	if p != nil {
		s.teardown(p)
	}
	return nil
}
