package computer

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSession struct {
	mu           sync.Mutex
	lines        []OutputLine
	runs         []string
	stops        int
	terminates   int
	terminateErr error
}

func (f *fakeSession) Run(_ context.Context, code string) iter.Seq2[OutputLine, error] {
	return func(yield func(OutputLine, error) bool) {
		f.mu.Lock()
		f.runs = append(f.runs, code)
		lines := f.lines
		f.mu.Unlock()
		for _, l := range lines {
			if !yield(l, nil) {
				return
			}
		}
	}
}

func (f *fakeSession) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeSession) Terminate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminates++
	return f.terminateErr
}

type countingFactory struct {
	calls    int
	sessions []*fakeSession
	lines    []OutputLine
}

func (c *countingFactory) factory(Options) (ExecutionSession, error) {
	c.calls++
	s := &fakeSession{lines: c.lines}
	c.sessions = append(c.sessions, s)
	return s, nil
}

func collect(t *testing.T, seq iter.Seq2[OutputLine, error]) []OutputLine {
	t.Helper()
	var out []OutputLine
	for line, err := range seq {
		require.NoError(t, err)
		out = append(out, line)
	}
	return out
}

func TestRegistryCreatesLazilyAndReuses(t *testing.T) {
	py := &countingFactory{lines: []OutputLine{Text("4")}}
	sh := &countingFactory{}
	r := NewRegistry(WithFactories(map[string]Factory{"python": py.factory, "shell": sh.factory}))

	assert.Equal(t, 0, py.calls, "no session before first use")

	ctx := context.Background()
	assert.Equal(t, []OutputLine{Text("4")}, collect(t, r.Run(ctx, "python", "print(2+2)")))
	collect(t, r.Run(ctx, "python", "print(x)"))

	assert.Equal(t, 1, py.calls)
	assert.Equal(t, 0, sh.calls)
	assert.Equal(t, []string{"print(2+2)", "print(x)"}, py.sessions[0].runs)
}

func TestRegistryAbandonStopsOwningSessionOnly(t *testing.T) {
	py := &countingFactory{lines: []OutputLine{Text("a")}}
	sh := &countingFactory{lines: []OutputLine{Text("1"), Text("2"), Text("3")}}
	r := NewRegistry(WithFactories(map[string]Factory{"python": py.factory, "shell": sh.factory}))
	ctx := context.Background()

	collect(t, r.Run(ctx, "python", "x = 1"))
	for line, err := range r.Run(ctx, "shell", "seq 3") {
		require.NoError(t, err)
		assert.Equal(t, "1", line.Output)
		break
	}

	assert.Equal(t, 1, sh.sessions[0].stops)
	assert.Equal(t, 0, py.sessions[0].stops)
}

func TestRegistryStopReachesEverySession(t *testing.T) {
	py := &countingFactory{}
	sh := &countingFactory{}
	r := NewRegistry(WithFactories(map[string]Factory{"python": py.factory, "shell": sh.factory}))
	ctx := context.Background()
	collect(t, r.Run(ctx, "python", "1"))
	collect(t, r.Run(ctx, "shell", "true"))

	r.Stop()

	assert.Equal(t, 1, py.sessions[0].stops)
	assert.Equal(t, 1, sh.sessions[0].stops)
	// Stop keeps sessions registered.
	collect(t, r.Run(ctx, "python", "2"))
	assert.Equal(t, 1, py.calls)
}

func TestRegistryTerminateClears(t *testing.T) {
	py := &countingFactory{}
	r := NewRegistry(WithFactories(map[string]Factory{"python": py.factory}))
	ctx := context.Background()
	collect(t, r.Run(ctx, "python", "1"))

	require.NoError(t, r.Terminate())
	assert.Equal(t, 1, py.sessions[0].terminates)

	collect(t, r.Run(ctx, "python", "2"))
	assert.Equal(t, 2, py.calls, "terminate forces a fresh session")
}

func TestRegistryTerminateJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry(WithFactories(map[string]Factory{
		"python": func(Options) (ExecutionSession, error) { return &fakeSession{terminateErr: boom}, nil },
	}))
	collect(t, r.Run(context.Background(), "python", "1"))

	err := r.Terminate()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "terminate python")
}

func TestRegistryUnsupportedLanguage(t *testing.T) {
	r := NewRegistry(WithFactories(map[string]Factory{}))
	var got error
	for _, err := range r.Run(context.Background(), "cobol", "DISPLAY 'HI'") {
		got = err
	}
	assert.ErrorIs(t, got, ErrUnsupportedLanguage)
	assert.False(t, r.Supports("cobol"))
}

func TestRegistryLanguageKeysAreCaseSensitive(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.Supports("python"))
	assert.False(t, r.Supports("Python"))
	assert.Equal(t, SupportedLanguages(), r.Languages())
}

func TestRegistryTerminateSkipsUninitializedSession(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	r := NewRegistry(
		WithLogger(zap.New(core)),
		WithFactories(map[string]Factory{
			"python": func(Options) (ExecutionSession, error) { return nil, nil },
		}),
	)

	var got error
	for _, err := range r.Run(context.Background(), "python", "1") {
		got = err
	}
	require.Error(t, got)

	require.NoError(t, r.Terminate())
	entries := logs.FilterMessage("skipping uninitialized session on terminate").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "python", entries[0].ContextMap()["language"])
}

func TestRegistryStopsOnCancelledContext(t *testing.T) {
	sh := &countingFactory{lines: []OutputLine{Text("1")}}
	r := NewRegistry(WithFactories(map[string]Factory{"shell": sh.factory}))

	ctx, cancel := context.WithCancel(context.Background())
	for range r.Run(ctx, "shell", "sleep 10") {
		cancel()
	}
	assert.Equal(t, 1, sh.sessions[0].stops)
}

func TestFilterEnvironment(t *testing.T) {
	env := []string{
		"PATH=/usr/bin",
		"OPENAI_API_KEY=sk-secret",
		"GITHUB_TOKEN=ghp",
		"DB_PASSWORD=hunter2",
		"EDITOR=vim",
		"malformed",
	}
	assert.Equal(t, []string{"PATH=/usr/bin", "EDITOR=vim"}, filterEnvironment(env))
}

func TestNormalizeLanguage(t *testing.T) {
	assert.Equal(t, "python", NormalizeLanguage("  Python\n"))
	assert.Equal(t, "shell", NormalizeLanguage("SHELL"))
}
