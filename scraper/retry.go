package scraper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-reviews/config"
)

// retrier re-runs a failed call with capped exponential backoff. Only
// transient transport categories are retried.
type retrier struct {
	maxRetries int
	base       time.Duration
	max        time.Duration
	metrics    *Metrics

	mu           sync.Mutex
	totalRetries int
}

func newRetrier(cfg *config.Config, metrics *Metrics) *retrier {
	return &retrier{
		maxRetries: cfg.MaxRetries,
		base:       cfg.RetryBackoff,
		max:        cfg.RetryBackoffMax,
		metrics:    metrics,
	}
}

// Do calls fn until it succeeds, fails permanently, or retries run out.
func (rm *retrier) Do(ctx context.Context, label string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !retryable(err) || attempt >= rm.maxRetries {
			return err
		}

		rm.mu.Lock()
		rm.totalRetries++
		rm.mu.Unlock()
		if rm.metrics != nil {
			rm.metrics.IncRetries()
		}

		delay := rm.backoff(attempt + 1)
		slog.Debug("retrying request",
			slog.String("target", label),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

func (rm *retrier) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rm.base
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := rm.max; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func (rm *retrier) TotalRetries() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.totalRetries
}
