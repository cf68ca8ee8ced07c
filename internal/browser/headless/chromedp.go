// Package headless captures screenshots with chromedp and headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/shotcast/internal/browser"
	"github.com/JakeFAU/shotcast/internal/capture"
)

// Config controls the behavior of the chromedp driver.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// IdleTimeout bounds the wait for the networkIdle lifecycle event. The
	// capture proceeds when it elapses.
	IdleTimeout    time.Duration
	ViewportWidth  int
	ViewportHeight int
	JPEGQuality    int
}

// ErrClosed is returned by Capture after Close.
var ErrClosed = errors.New("chromedp driver is closed")

// launchFunc starts a browser and returns its context. cancel releases the
// browser and its allocator.
type launchFunc func() (ctx context.Context, cancel context.CancelFunc, err error)

// Driver implements capture.Driver. One Chrome process is shared; every
// capture runs in its own browser context so cookies and storage never leak
// between requests. A browser that failed to start or has gone away is
// launched again on the next capture.
type Driver struct {
	cfg     Config
	limiter chan struct{}
	launch  launchFunc

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
	closed        bool
}

// NewChromedp creates a driver backed by chromedp. Chrome is launched on the
// first capture.
func NewChromedp(cfg Config) (*Driver, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	cfg = withDefaults(cfg)
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	return &Driver{
		cfg:     cfg,
		limiter: limiter,
		launch:  chromeLauncher(cfg),
	}, nil
}

func chromeLauncher(cfg Config) launchFunc {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return func() (context.Context, context.CancelFunc, error) {
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)
		cancel := func() {
			browserCancel()
			allocCancel()
		}
		if err := chromedp.Run(browserCtx); err != nil {
			cancel()
			return nil, nil, err
		}
		return browserCtx, cancel, nil
	}
}

func withDefaults(cfg Config) Config {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Second
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 1280
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = 800
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 80
	}
	return cfg
}

// Close shuts Chrome down. Later captures fail with ErrClosed.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.resetLocked()
	return nil
}

// session returns the live browser context, launching Chrome when there is
// none or the previous one has ended.
func (d *Driver) session() (context.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if d.browserCtx != nil && d.browserCtx.Err() == nil {
		return d.browserCtx, nil
	}
	d.resetLocked()
	ctx, cancel, err := d.launch()
	if err != nil {
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	d.browserCtx, d.browserCancel = ctx, cancel
	return ctx, nil
}

// invalidate drops bctx if it is still the current session.
func (d *Driver) invalidate(bctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browserCtx == bctx {
		d.resetLocked()
	}
}

// alive reports whether the browser behind bctx still answers.
func alive(bctx context.Context) bool {
	if bctx.Err() != nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(bctx, 5*time.Second)
	defer cancel()
	_, err := chromedp.Targets(pingCtx)
	return err == nil
}

func (d *Driver) resetLocked() {
	if d.browserCancel != nil {
		d.browserCancel()
	}
	d.browserCtx, d.browserCancel = nil, nil
}

// Capture navigates to opts.TargetURL in a fresh browser context, waits for
// the page to settle, and returns the encoded screenshot.
func (d *Driver) Capture(ctx context.Context, opts capture.CaptureOptions) ([]byte, error) {
	if err := d.acquire(ctx); err != nil {
		return nil, err
	}
	defer d.release()
	bctx, err := d.session()
	if err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(bctx, chromedp.WithNewBrowserContext())
	defer tabCancel()
	// Tear the tab down as soon as the caller gives up.
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	idle := make(chan struct{})
	var idleOnce sync.Once
	chromedp.ListenTarget(tabCtx, func(ev any) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == "networkIdle" {
			idleOnce.Do(func() { close(idle) })
		}
	})

	navCtx, navCancel := context.WithTimeout(tabCtx, d.cfg.NavigationTimeout)
	defer navCancel()
	if err := chromedp.Run(navCtx,
		emulation.SetDeviceMetricsOverride(int64(d.cfg.ViewportWidth), int64(d.cfg.ViewportHeight), 1, false),
		page.SetLifecycleEventsEnabled(true),
		chromedp.Navigate(opts.TargetURL),
	); err != nil {
		if ctx.Err() == nil && !alive(bctx) {
			d.invalidate(bctx)
		}
		return nil, fmt.Errorf("navigate: %w", err)
	}

	d.waitIdle(ctx, idle)

	if err := browser.Settle(ctx, opts.DelaySecs, opts.OnSettle); err != nil {
		return nil, err
	}

	var buf []byte
	shotCtx, shotCancel := context.WithTimeout(tabCtx, d.cfg.NavigationTimeout)
	defer shotCancel()
	err = chromedp.Run(shotCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = screenshotParams(opts.ImageType, d.cfg.JPEGQuality).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	if len(buf) == 0 {
		return nil, browser.ErrEmptyImage
	}
	return buf, nil
}

// waitIdle is best effort: pages with long-polling never go idle.
func (d *Driver) waitIdle(ctx context.Context, idle <-chan struct{}) {
	timer := time.NewTimer(d.cfg.IdleTimeout)
	defer timer.Stop()
	select {
	case <-idle:
	case <-timer.C:
	case <-ctx.Done():
	}
}

func screenshotParams(imageType capture.ImageType, quality int) *page.CaptureScreenshotParams {
	params := page.CaptureScreenshot().WithFromSurface(true)
	if imageType == capture.ImageJPEG {
		return params.WithFormat(page.CaptureScreenshotFormatJpeg).WithQuality(int64(quality))
	}
	return params.WithFormat(page.CaptureScreenshotFormatPng)
}

func (d *Driver) acquire(ctx context.Context) error {
	if d.limiter == nil {
		return nil
	}
	select {
	case d.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (d *Driver) release() {
	if d.limiter == nil {
		return
	}
	select {
	case <-d.limiter:
	default:
	}
}
