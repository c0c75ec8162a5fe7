// Package vision renders HTML output to PNG so that vision-capable models
// can see what a display-only result looks like.
package vision

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

const (
	defaultWidth  = 1280
	defaultHeight = 800
)

// ErrClosed is returned by RenderHTML after Close.
var ErrClosed = errors.New("vision: renderer closed")

// Renderer screenshots HTML in a headless Chromium driven over the DevTools
// protocol. The browser is started on first use and shared by all renders.
type Renderer struct {
	logger     *zap.Logger
	bin        string
	controlURL string
	width      int
	height     int

	mu       sync.Mutex
	launch   *launcher.Launcher
	browser  *rod.Browser
	isClosed bool
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithLogger sets the renderer logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Renderer) { r.logger = logger }
}

// WithBrowserBin launches the given Chromium binary instead of the one rod
// finds or downloads.
func WithBrowserBin(bin string) Option {
	return func(r *Renderer) { r.bin = bin }
}

// WithControlURL connects to an already running browser instead of
// launching one.
func WithControlURL(url string) Option {
	return func(r *Renderer) { r.controlURL = url }
}

// WithViewport sets the page size used for screenshots.
func WithViewport(width, height int) Option {
	return func(r *Renderer) {
		r.width = width
		r.height = height
	}
}

// NewRenderer creates a Renderer. No browser is started until the first
// render.
func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{logger: zap.NewNop(), width: defaultWidth, height: defaultHeight}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Available reports whether a local browser can be found without
// downloading one.
func Available() bool {
	_, ok := launcher.LookPath()
	return ok
}

// RenderHTML loads html into a fresh page and returns a full-page PNG.
func (r *Renderer) RenderHTML(ctx context.Context, html string) ([]byte, error) {
	browser, err := r.ensureBrowser(ctx)
	if err != nil {
		return nil, err
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("vision: open page: %w", err)
	}
	defer func() { _ = page.Close() }()

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             r.width,
		Height:            r.height,
		DeviceScaleFactor: 1,
	}).Call(page); err != nil {
		return nil, fmt.Errorf("vision: set viewport: %w", err)
	}
	if err := page.SetDocumentContent(html); err != nil {
		return nil, fmt.Errorf("vision: load html: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("vision: wait for load: %w", err)
	}
	png, err := page.Screenshot(true, nil)
	if err != nil {
		return nil, fmt.Errorf("vision: screenshot: %w", err)
	}
	return png, nil
}

func (r *Renderer) ensureBrowser(ctx context.Context) (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isClosed {
		return nil, ErrClosed
	}
	if r.browser != nil {
		if _, err := r.browser.Version(); err == nil {
			return r.browser, nil
		}
		r.logger.Warn("browser connection lost, relaunching")
		r.shutdownLocked()
	}

	controlURL := r.controlURL
	if controlURL == "" {
		l := launcher.New().Headless(true)
		if r.bin != "" {
			l = l.Bin(r.bin)
		}
		url, err := l.Context(ctx).Launch()
		if err != nil {
			return nil, fmt.Errorf("vision: launch browser: %w", err)
		}
		r.launch = l
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		r.shutdownLocked()
		return nil, fmt.Errorf("vision: connect to browser: %w", err)
	}
	r.logger.Debug("browser connected", zap.String("control_url", controlURL))
	r.browser = browser
	return browser, nil
}

func (r *Renderer) shutdownLocked() {
	if r.browser != nil {
		if err := r.browser.Close(); err != nil {
			r.logger.Debug("closing browser", zap.Error(err))
		}
		r.browser = nil
	}
	if r.launch != nil {
		r.launch.Kill()
		r.launch.Cleanup()
		r.launch = nil
	}
}

// Close shuts the browser down. It is safe to call more than once.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.isClosed = true
	r.shutdownLocked()
	return nil
}
