// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cua-tester/api/schemas"
	"github.com/xkilldash9x/cua-tester/internal/config"
)

// Session is a single browser tab driven by the agent.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	cfg    config.BrowserConfig
	logger *zap.Logger

	onClose func()

	mu       sync.Mutex
	isClosed bool
}

func newSession(ctx context.Context, cancel context.CancelFunc, cfg config.BrowserConfig, logger *zap.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		logger: logger.Named("session").With(zap.String("session_id", id)),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// GetContext returns the chromedp target context.
func (s *Session) GetContext() context.Context { return s.ctx }

// Viewport returns the emulated viewport size in CSS pixels.
func (s *Session) Viewport() (width, height int) {
	return s.cfg.DisplayWidth, s.cfg.DisplayHeight
}

// initialize launches the target and pins the viewport to the display size
// so model coordinates map one-to-one onto CSS pixels.
func (s *Session) initialize(ctx context.Context) error {
	// The first Run allocates the browser and binds its process to the
	// context it receives, so it must be the tab context itself.
	if err := chromedp.Run(s.ctx); err != nil {
		return fmt.Errorf("failed to start browser tab: %w", err)
	}
	return s.Run(ctx,
		emulation.SetDeviceMetricsOverride(int64(s.cfg.DisplayWidth), int64(s.cfg.DisplayHeight), 1, false),
	)
}

// Run executes chromedp actions bounded by both the session lifetime and ctx.
func (s *Session) Run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Navigate loads url and waits for the document to be ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating to URL", zap.String("url", url))

	navTimeout := s.cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 60 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, navTimeout)
	defer cancel()

	if err := s.Run(navCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("navigation timed out after %s: %w", navTimeout, err)
		}
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// Screenshot captures the viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) (*schemas.Screenshot, error) {
	var buf []byte
	err := s.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return &schemas.Screenshot{Data: buf, MIMEType: "image/png", CapturedAt: time.Now().UTC()}, nil
}

// Close cancels the tab. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	// Cancel waits on the allocation and would leave the tab's own cancel
	// blocked if no browser was ever started.
	var err error
	if c := chromedp.FromContext(s.ctx); c != nil && c.Browser != nil {
		err = chromedp.Cancel(s.ctx)
	}
	s.cancel()
	if s.onClose != nil {
		s.onClose()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close browser tab: %w", err)
	}
	return nil
}
