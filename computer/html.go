package computer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"sync"
)

// htmlSession "runs" markup by saving it to a file and handing it back as an
// HTML line for display or rendering.
type htmlSession struct {
	dir string

	mu    sync.Mutex
	files []string
}

func newHTMLSession(Options) (ExecutionSession, error) {
	return &htmlSession{dir: os.TempDir()}, nil
}

func (s *htmlSession) Run(ctx context.Context, code string) iter.Seq2[OutputLine, error] {
	return func(yield func(OutputLine, error) bool) {
		f, err := os.CreateTemp(s.dir, "interpreter-*.html")
		if err != nil {
			yield(OutputLine{}, fmt.Errorf("save html: %w", err))
			return
		}
		_, werr := f.WriteString(code)
		cerr := f.Close()
		if werr != nil || cerr != nil {
			yield(OutputLine{}, fmt.Errorf("save html: %w", errors.Join(werr, cerr)))
			return
		}
		s.mu.Lock()
		s.files = append(s.files, f.Name())
		s.mu.Unlock()

		if !yield(HTML(code), nil) {
			return
		}
		yield(Text(fmt.Sprintf("HTML saved to %s", f.Name())), nil)
	}
}

func (s *htmlSession) Stop() {}

// Terminate removes the saved files.
func (s *htmlSession) Terminate() error {
	s.mu.Lock()
	files := s.files
	s.files = nil
	s.mu.Unlock()
	var errs []error
	for _, name := range files {
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
