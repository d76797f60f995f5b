// Package collyfetcher implements the plain-HTTP Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/complyscan/site-analyser/internal/analysis"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Waiter spaces outbound requests; *ratelimit.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher implements analysis.Fetcher using the Colly collector. An HTTP
// error status is reported as data on the FetchResult (Reachable=false plus
// error text); only transport-level breakage returns a Go error.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       Waiter
	logger        *zap.Logger
}

// New builds a Fetcher. The limiter is optional; nil disables pacing.
func New(cfg Config, limiter Waiter, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	// Error statuses must reach OnResponse: a blocked page's body is
	// analysis input, not a failed visit.
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport())
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		limiter:       limiter,
		logger:        logger,
	}
}

// Fetch executes a single HTTP GET and captures the page.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (analysis.FetchResult, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return analysis.FetchResult{}, err
		}
	}

	var (
		result   analysis.FetchResult
		captured bool
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		result = buildResult(r, time.Since(start))
		captured = true
	})
	collector.OnError(func(r *colly.Response, err error) {
		// Colly routes HTTP error statuses here with the response attached.
		if r != nil && r.StatusCode >= 400 {
			result = buildResult(r, time.Since(start))
			captured = true
			return
		}
		fetchErr = err
	})

	finished, visitErr := f.runCollector(ctx, collector, rawURL)
	if !finished {
		// Canceled while the visit goroutine may still be writing; the
		// partial result must not be read.
		return analysis.FetchResult{}, visitErr
	}
	if captured {
		f.logger.Debug("page fetched",
			zap.String("url", rawURL),
			zap.Int("status", result.StatusCode),
			zap.Bool("reachable", result.Reachable),
			zap.Duration("dur", result.LoadTime),
		)
		return result, nil
	}
	if fetchErr != nil {
		return analysis.FetchResult{}, fmt.Errorf("fetch %s: %w", rawURL, fetchErr)
	}
	if visitErr != nil {
		return analysis.FetchResult{}, visitErr
	}
	return analysis.FetchResult{}, fmt.Errorf("fetch %s: no response captured", rawURL)
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string) (bool, error) {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return false, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return true, fmt.Errorf("visit %s: %w", rawURL, err)
		}
		return true, nil
	}
}

func buildResult(r *colly.Response, dur time.Duration) analysis.FetchResult {
	res := analysis.FetchResult{
		FinalURL:   r.Request.URL.String(),
		StatusCode: r.StatusCode,
		HTML:       string(r.Body),
		LoadTime:   dur,
		Reachable:  r.StatusCode > 0 && r.StatusCode < 400,
	}
	if r.Headers != nil {
		res.Headers = r.Headers.Clone()
	}
	if !res.Reachable {
		res.Error = fmt.Sprintf("HTTP %d %s", r.StatusCode, http.StatusText(r.StatusCode))
	}
	res.Title = pageTitle(res.HTML)
	return res
}

// pageTitle extracts the <title> text, collapsing surrounding whitespace.
func pageTitle(html string) string {
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
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
