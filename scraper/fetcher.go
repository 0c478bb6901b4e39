package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-reviews/config"
	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"
)

const (
	ctxBody   = "body"
	ctxStatus = "status"
	ctxStart  = "start"
)

// Fetcher issues single GET requests against the storefront API and returns
// the raw JSON body. It never retries.
type Fetcher struct {
	collector *colly.Collector
	limiter   *rate.Limiter
	metrics   *Metrics

	requestCount int64
	errorCount   int64

	mu           sync.Mutex
	errorsByType map[string]int
}

// NewFetcher builds a synchronous colly collector configured from cfg.
func NewFetcher(cfg *config.Config, metrics *Metrics) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	f := &Fetcher{
		collector:    collector,
		metrics:      metrics,
		errorsByType: make(map[string]int),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	f.configureHandlers()
	return f, nil
}

// WithTransport swaps the HTTP transport, mainly for tests.
func (f *Fetcher) WithTransport(rt http.RoundTripper) {
	f.collector.WithTransport(rt)
}

// FetchJSON performs one GET of endpoint with query and returns the body.
func (f *Fetcher) FetchJSON(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	target := endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	if err := ctx.Err(); err != nil {
		return nil, &TransportError{URL: target, Err: classifyError(err, 0)}
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{URL: target, Err: classifyError(err, 0)}
		}
	}

	reqCtx := colly.NewContext()
	hdr := http.Header{}
	hdr.Set("Accept", "application/json")

	// colly takes no context; an abandoned request finishes in the background
	// within the collector's own timeout.
	done := make(chan error, 1)
	go func() {
		done <- f.collector.Request(http.MethodGet, target, nil, reqCtx, hdr)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		return nil, &TransportError{URL: target, Err: classifyError(ctx.Err(), 0)}
	}
	status, _ := reqCtx.GetAny(ctxStatus).(int)
	if err != nil {
		return nil, f.fail(target, classifyError(err, status), status)
	}

	body, _ := reqCtx.GetAny(ctxBody).([]byte)
	if !json.Valid(body) {
		return nil, f.fail(target, ErrMalformed{Err: errors.New("response body is not valid JSON")}, status)
	}
	return body, nil
}

func (f *Fetcher) fail(target string, classified error, status int) error {
	atomic.AddInt64(&f.errorCount, 1)
	category := errorTypeLabel(classified)

	f.mu.Lock()
	f.errorsByType[category]++
	f.mu.Unlock()

	slog.Debug("request error",
		slog.String("url", target),
		slog.Int("status", status),
		slog.String("category", category),
		slog.Any("error", classified),
	)
	if f.metrics != nil {
		f.metrics.IncError(category)
	}
	return &TransportError{URL: target, Status: status, Err: classified}
}

func (f *Fetcher) configureHandlers() {
	f.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(ctxStart, time.Now())
		atomic.AddInt64(&f.requestCount, 1)
		if f.metrics != nil {
			f.metrics.IncRequest("started")
		}
	})

	f.collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxStatus, r.StatusCode)
		r.Ctx.Put(ctxBody, r.Body)
		f.observe(r)
		if f.metrics != nil {
			f.metrics.IncRequest("succeeded")
		}
	})

	f.collector.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Ctx == nil {
			return
		}
		r.Ctx.Put(ctxStatus, r.StatusCode)
		f.observe(r)
		if f.metrics != nil {
			f.metrics.IncRequest("failed")
		}
	})
}

func (f *Fetcher) observe(r *colly.Response) {
	if f.metrics == nil {
		return
	}
	if start, ok := r.Ctx.GetAny(ctxStart).(time.Time); ok {
		f.metrics.ObserveDuration(time.Since(start))
	}
}

// RequestCount is the number of requests issued so far.
func (f *Fetcher) RequestCount() int {
	return int(atomic.LoadInt64(&f.requestCount))
}

// ErrorCount is the number of failed requests so far.
func (f *Fetcher) ErrorCount() int {
	return int(atomic.LoadInt64(&f.errorCount))
}

// ErrorsByType returns a snapshot of failures per category.
func (f *Fetcher) ErrorsByType() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.errorsByType))
	for k, v := range f.errorsByType {
		out[k] = v
	}
	return out
}
