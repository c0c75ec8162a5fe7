package computer

import (
	"bufio"
	"context"
	"fmt"
	"iter"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// oneShotSession starts a fresh process per run. It suits interpreters with
// no useful REPL, so no state carries between runs.
type oneShotSession struct {
	language string
	argv     func() ([]string, error)
	opts     Options
	logger   *zap.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

func newAppleScriptSession(opts Options) (ExecutionSession, error) {
	return &oneShotSession{
		language: LangAppleScript,
		argv: func() ([]string, error) {
			bin, err := lookPath("osascript")
			if err != nil {
				return nil, err
			}
			return []string{bin, "-"}, nil
		},
		opts:   opts,
		logger: opts.logger().With(zap.String("language", LangAppleScript)),
	}, nil
}

func (s *oneShotSession) Run(ctx context.Context, code string) iter.Seq2[OutputLine, error] {
	return func(yield func(OutputLine, error) bool) {
		argv, err := s.argv()
		if err != nil {
			yield(OutputLine{}, fmt.Errorf("%s interpreter not available: %w", s.language, err))
			return
		}
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Dir = s.opts.WorkingDir
		cmd.Env = s.opts.environ()
		cmd.Stdin = strings.NewReader(code)
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

		r, w, err := os.Pipe()
		if err != nil {
			yield(OutputLine{}, err)
			return
		}
		cmd.Stdout = w
		cmd.Stderr = w
		if err := cmd.Start(); err != nil {
			r.Close()
			w.Close()
			yield(OutputLine{}, fmt.Errorf("start %s: %w", s.language, err))
			return
		}
		w.Close()
		defer r.Close()

		s.mu.Lock()
		s.cmd = cmd
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			s.cmd = nil
			s.mu.Unlock()
		}()

		sc := bufio.NewScanner(r)
		for sc.Scan() {
			if !yield(Text(sc.Text()), nil) {
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
				_ = cmd.Wait()
				return
			}
		}
		if err := cmd.Wait(); err != nil {
			if ctx.Err() != nil {
				yield(OutputLine{}, ctx.Err())
				return
			}
			s.logger.Debug("script failed", zap.Error(err))
		}
	}
}

func (s *oneShotSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		_ = syscall.Kill(-s.cmd.Process.Pid, syscall.SIGINT)
	}
}

func (s *oneShotSession) Terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		_ = syscall.Kill(-s.cmd.Process.Pid, syscall.SIGKILL)
	}
	return nil
}
