package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-reviews/config"
	"github.com/aluiziolira/go-scrape-reviews/models"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

// drainTimeout bounds how long Close waits for in-flight products.
var drainTimeout = 5 * time.Minute

// Source fetches everything needed to normalize one product.
type Source interface {
	Aggregate(ctx context.Context, ref models.ProductRef) (*models.ProductBundle, error)
}

// Normalizer turns a fetched bundle into records.
type Normalizer interface {
	Normalize(b *models.ProductBundle) (*models.NormalizedProduct, error)
}

// Persister writes one record to every destination.
type Persister interface {
	Persist(ctx context.Context, rec *models.Record) PersistResult
}

// Recorder receives product and review outcomes for external metrics.
type Recorder interface {
	IncProduct(outcome string)
	IncReview(outcome string)
}

// Stages wires the pipeline to its collaborators. Recorder may be nil.
type Stages struct {
	Source     Source
	Normalizer Normalizer
	Persister  Persister
	RunLog     *RunLog
	Recorder   Recorder
}

// Pipeline processes products on a bounded pool of workers. A failure in one
// product never affects another.
type Pipeline struct {
	ctx    context.Context
	stages Stages
	refCh  chan models.ProductRef

	wg sync.WaitGroup

	seen *lru.Cache[string, struct{}]

	metrics metrics

	mu     sync.Mutex // guards closed
	closed bool

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline bound to ctx for all network and storage work.
func NewPipeline(ctx context.Context, stages Stages, cfg *config.Config) (*Pipeline, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if stages.Source == nil || stages.Normalizer == nil || stages.Persister == nil || stages.RunLog == nil {
		return nil, errors.New("pipeline: source, normalizer, persister and run log are required")
	}

	buffer := cfg.PipelineBufferSize
	if buffer <= 0 {
		buffer = 1
	}
	seen, err := lru.New[string, struct{}](max(cfg.DedupeMaxSize, 1))
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}

	return &Pipeline{
		ctx:      ctx,
		stages:   stages,
		refCh:    make(chan models.ProductRef, buffer),
		seen:     seen,
		metrics:  newMetrics(),
		shutdown: make(chan struct{}),
	}, nil
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues product references. Products already seen in this run
// are dropped. It blocks while the buffer is full.
func (p *Pipeline) Process(ctx context.Context, refs ...models.ProductRef) error {
	if p.isClosed() {
		return ErrPipelineClosed
	}

	for _, ref := range refs {
		if ref.ID == "" {
			p.metrics.addValidation("empty_product_id")
			continue
		}
		if seen, _ := p.seen.ContainsOrAdd(ref.ID, struct{}{}); seen {
			p.metrics.addValidation("duplicate_product")
			continue
		}
		if err := p.enqueue(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

// Close stops intake and waits for in-flight products to finish.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.refCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(drainTimeout):
		return fmt.Errorf("%w after %s", ErrPipelineCloseTimeout, drainTimeout)
	}
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m := p.GetMetrics()
				slog.Info("pipeline progress",
					slog.Int64("processed_products", m["processed_products"].(int64)),
					slog.Int64("skipped_products", m["skipped_products"].(int64)),
					slog.Int64("reviews_saved", m["reviews_saved"].(int64)),
					slog.Int64("reviews_failed", m["reviews_failed"].(int64)),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	for ref := range p.refCh {
		p.handle(ref)
	}
}

func (p *Pipeline) handle(ref models.ProductRef) {
	runlog := p.stages.RunLog
	runlog.Begin(ref)

	// Products still queued when the run is aborted are not fetched.
	if err := p.ctx.Err(); err != nil {
		p.skip(ref, fmt.Errorf("product %s dropped: %w", ref.ID, err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			p.skip(ref, fmt.Errorf("panic processing product %s: %v", ref.ID, r))
		}
	}()

	bundle, err := p.stages.Source.Aggregate(p.ctx, ref)
	if err != nil {
		p.skip(ref, err)
		return
	}
	product, err := p.stages.Normalizer.Normalize(bundle)
	if err != nil {
		p.skip(ref, err)
		return
	}

	runlog.Start(ref.ID, product.Title, len(product.Reviews))
	if product.Skipped > 0 {
		p.metrics.addValidations("skipped_review", product.Skipped)
	}

	if product.Detail != nil {
		if err := p.stages.Persister.Persist(p.ctx, product.Detail).Err(); err != nil {
			p.metrics.incrementDetailFailed()
			runlog.Fail(ref.ID, product.Detail.Key, err)
		}
	}

	// Reviews are persisted one at a time so the counters only move after
	// both destinations have answered.
	for _, rec := range product.Reviews {
		err := p.stages.Persister.Persist(p.ctx, rec).Err()
		if logErr := runlog.Record(ref.ID, rec.Key, err); logErr != nil {
			slog.Error("run log rejected outcome", slog.String("error", logErr.Error()))
			continue
		}
		if err != nil {
			p.metrics.incrementReviews(false)
			p.record(func(r Recorder) { r.IncReview("failed") })
			continue
		}
		p.metrics.incrementReviews(true)
		p.record(func(r Recorder) { r.IncReview("saved") })
	}

	entry := runlog.Finish(ref.ID)
	p.metrics.incrementProcessed()
	p.record(func(r Recorder) { r.IncProduct("done") })
	slog.Debug("product persisted",
		slog.String("product_id", ref.ID),
		slog.Int("reviews", entry.Total),
		slog.Int("failed", entry.Failed),
	)
}

func (p *Pipeline) skip(ref models.ProductRef, err error) {
	p.stages.RunLog.Skip(ref.ID, err)
	p.metrics.incrementSkipped()
	p.record(func(r Recorder) { r.IncProduct("skipped") })
	slog.Warn("product skipped",
		slog.String("product_id", ref.ID),
		slog.String("reason", reasonOf(err)),
		slog.String("error", err.Error()),
	)
}

func (p *Pipeline) record(fn func(Recorder)) {
	if p.stages.Recorder != nil {
		fn(p.stages.Recorder)
	}
}

func (p *Pipeline) enqueue(ctx context.Context, ref models.ProductRef) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case <-ctx.Done():
		return ctx.Err()
	case p.refCh <- ref:
		return nil
	}
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu            sync.Mutex
	processed     int64
	skipped       int64
	detailFailed  int64
	reviewsSaved  int64
	reviewsFailed int64
	validation    map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) incrementSkipped() {
	m.mu.Lock()
	m.skipped++
	m.mu.Unlock()
}

func (m *metrics) incrementDetailFailed() {
	m.mu.Lock()
	m.detailFailed++
	m.mu.Unlock()
}

func (m *metrics) incrementReviews(saved bool) {
	m.mu.Lock()
	if saved {
		m.reviewsSaved++
	} else {
		m.reviewsFailed++
	}
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.addValidations(kind, 1)
}

func (m *metrics) addValidations(kind string, n int) {
	m.mu.Lock()
	m.validation[kind] += n
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_products": m.processed,
		"skipped_products":   m.skipped,
		"detail_failed":      m.detailFailed,
		"reviews_saved":      m.reviewsSaved,
		"reviews_failed":     m.reviewsFailed,
		"validation_errors":  copyValidation,
	}
}
