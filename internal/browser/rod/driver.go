// Package roddriver captures screenshots with go-rod, as an alternative to
// the chromedp driver.
package roddriver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/JakeFAU/shotcast/internal/browser"
	"github.com/JakeFAU/shotcast/internal/capture"
)

// Config controls the rod driver.
type Config struct {
	// RemoteURL connects to an already running Chrome instead of launching one.
	RemoteURL         string
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	IdleTimeout       time.Duration
	ViewportWidth     int
	ViewportHeight    int
	JPEGQuality       int
	// Stealth patches common headless fingerprints before navigation.
	Stealth bool
}

// Driver implements capture.Driver with one shared browser and an incognito
// context per capture.
type Driver struct {
	cfg     Config
	limiter chan struct{}

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// New validates cfg. The browser is launched on first use.
func New(cfg Config) (*Driver, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
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
	d := &Driver{cfg: cfg}
	if cfg.MaxParallel > 0 {
		d.limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return d, nil
}

func (d *Driver) connect() (*rod.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browser != nil {
		return d.browser, nil
	}
	wsURL := d.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true).Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		wsURL = u
		d.lnch = l
	}
	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if d.lnch != nil {
			d.lnch.Cleanup()
			d.lnch = nil
		}
		return nil, fmt.Errorf("connect chrome: %w", err)
	}
	d.browser = b
	return b, nil
}

// drop forgets b if it is still the shared browser.
func (d *Driver) drop(b *rod.Browser) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browser != b {
		return
	}
	_ = b.Close()
	d.browser = nil
	if d.lnch != nil {
		d.lnch.Cleanup()
		d.lnch = nil
	}
}

// Close shuts the browser down.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	if d.browser != nil {
		err = d.browser.Close()
		d.browser = nil
	}
	if d.lnch != nil {
		d.lnch.Cleanup()
		d.lnch = nil
	}
	return err
}

// Capture renders opts.TargetURL in a fresh incognito context.
func (d *Driver) Capture(ctx context.Context, opts capture.CaptureOptions) ([]byte, error) {
	if err := d.acquire(ctx); err != nil {
		return nil, err
	}
	defer d.release()

	b, err := d.connect()
	if err != nil {
		return nil, err
	}
	incog, err := b.Incognito()
	if err != nil {
		// The browser is unreachable; connect again on the next capture.
		d.drop(b)
		return nil, fmt.Errorf("open incognito context: %w", err)
	}
	defer func() {
		_ = incog.Close()
	}()

	var tab *rod.Page
	if d.cfg.Stealth {
		tab, err = stealth.Page(incog)
	} else {
		tab, err = incog.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	// Closed through the unbound handle so a cancelled ctx still closes it.
	defer func() {
		_ = tab.Close()
	}()
	pg := tab.Context(ctx)

	nav := pg.Timeout(d.cfg.NavigationTimeout)
	if err := nav.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             d.cfg.ViewportWidth,
		Height:            d.cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}
	if d.cfg.UserAgent != "" {
		if err := nav.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: d.cfg.UserAgent}); err != nil {
			return nil, fmt.Errorf("set user-agent: %w", err)
		}
	}
	if err := nav.Navigate(opts.TargetURL); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := nav.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}
	// Best effort; some pages never go idle.
	_ = pg.Timeout(d.cfg.IdleTimeout).WaitIdle(d.cfg.IdleTimeout)

	if err := browser.Settle(ctx, opts.DelaySecs, opts.OnSettle); err != nil {
		return nil, err
	}

	data, err := pg.Timeout(d.cfg.NavigationTimeout).Screenshot(false, screenshotRequest(opts.ImageType, d.cfg.JPEGQuality))
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	if len(data) == 0 {
		return nil, browser.ErrEmptyImage
	}
	return data, nil
}

func screenshotRequest(imageType capture.ImageType, quality int) *proto.PageCaptureScreenshot {
	if imageType == capture.ImageJPEG {
		q := quality
		return &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatJpeg, Quality: &q}
	}
	return &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}
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
