package pinboard

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// CaptureResult holds both artifacts of one page visit.
type CaptureResult struct {
	Screenshot []byte
	HTML       string
}

// Capturer renders a page and returns its screenshot and frozen DOM.
type Capturer interface {
	Capture(ctx context.Context, pageURL string) (CaptureResult, error)
}

// CaptureConfig controls the headless browser.
type CaptureConfig struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	ViewportWidth     int
	ViewportHeight    int
}

// ChromeCapturer implements Capturer using chromedp and headless Chrome.
// One exec allocator is shared across captures; MaxParallel bounds
// concurrent tabs.
type ChromeCapturer struct {
	cfg         CaptureConfig
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromeCapturer starts the shared browser allocator.
func NewChromeCapturer(cfg CaptureConfig) (*ChromeCapturer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 1920
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = 1080
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &ChromeCapturer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context, shutting the browser down.
func (c *ChromeCapturer) Close() {
	c.allocCancel()
}

// Capture opens the page in a fresh tab, waits for load, and returns a
// viewport screenshot plus the rendered DOM. The tab is always closed,
// including on timeout.
func (c *ChromeCapturer) Capture(ctx context.Context, pageURL string) (CaptureResult, error) {
	if err := c.acquire(ctx); err != nil {
		return CaptureResult{}, err
	}
	defer c.release()

	taskCtx, taskCancel := chromedp.NewContext(c.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, c.cfg.NavigationTimeout)
	defer cancel()

	// Stop early when the caller's context ends first.
	go func() {
		select {
		case <-ctx.Done():
			taskCancel()
		case <-taskCtx.Done():
		}
	}()

	var (
		shot []byte
		html string
	)
	actions := []chromedp.Action{
		network.Enable(),
		emulation.SetDeviceMetricsOverride(int64(c.cfg.ViewportWidth), int64(c.cfg.ViewportHeight), 2, false),
	}
	if c.cfg.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(c.cfg.UserAgent))
	}
	actions = append(actions,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.CaptureScreenshot(&shot),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return CaptureResult{}, fmt.Errorf("capture %s: %w", pageURL, err)
	}

	return CaptureResult{Screenshot: shot, HTML: html}, nil
}

func (c *ChromeCapturer) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ChromeCapturer) release() {
	if c.limiter != nil {
		<-c.limiter
	}
}
