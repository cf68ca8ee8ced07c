// Package collyprobe checks target reachability with a lightweight HEAD
// request before a browser tab is spent on it.
package collyprobe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/shotcast/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Prober implements capture.Prober using the Colly collector. Any HTTP
// response, including 4xx and 5xx, counts as reachable; only transport
// failures (DNS, refused connections, TLS, timeouts) fail the probe.
type Prober struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Prober.
func New(cfg Config) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	return &Prober{cfg: cfg, baseCollector: c}
}

// Probe issues a HEAD request for targetURL.
func (p *Prober) Probe(ctx context.Context, targetURL string) error {
	collector := p.baseCollector.Clone()
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(p.cfg.Timeout)

	var probeErr error
	collector.OnError(func(r *colly.Response, err error) {
		// With ParseHTTPErrorResponse, a response with a status code means
		// the host answered.
		if r != nil && r.StatusCode > 0 {
			return
		}
		probeErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Head(targetURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("probe canceled: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			err = probeErr
		}
		if err != nil {
			metrics.ObserveProbeFailure(targetURL)
			return fmt.Errorf("target unreachable: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
