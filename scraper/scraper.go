package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-reviews/config"
	"github.com/aluiziolira/go-scrape-reviews/models"
	"golang.org/x/sync/errgroup"
)

// ProductSink receives product references discovered by the walk.
type ProductSink interface {
	Process(ctx context.Context, refs ...models.ProductRef) error
}

// Scraper discovers products and hands them to a sink.
type Scraper struct {
	cfg        *config.Config
	fetcher    *Fetcher
	client     *Client
	catalog    *CatalogPaginator
	aggregator *Aggregator
	Metrics    *Metrics

	discovered int64
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	metrics := NewMetrics()
	fetcher, err := NewFetcher(cfg, metrics)
	if err != nil {
		return nil, err
	}
	client := NewClient(cfg, fetcher, metrics)
	reviews := NewReviewPaginator(client, cfg.ReviewPageSize, cfg.MaxReviewPages)

	return &Scraper{
		cfg:        cfg,
		fetcher:    fetcher,
		client:     client,
		catalog:    NewCatalogPaginator(client, cfg.CatalogPageSize, cfg.MaxPages),
		aggregator: NewAggregator(client, reviews),
		Metrics:    metrics,
	}, nil
}

// Fetcher exposes the underlying HTTP fetcher.
func (s *Scraper) Fetcher() *Fetcher {
	return s.fetcher
}

// Aggregator is the per-product fetch stage used by the pipeline.
func (s *Scraper) Aggregator() *Aggregator {
	return s.aggregator
}

// Run submits the configured target to sink. In catalog mode every filter
// choice of every media type is walked; any catalog-level failure aborts the
// run. Failures of individual products are the sink's concern.
func (s *Scraper) Run(ctx context.Context, sink ProductSink) (*models.RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	var err error
	switch s.cfg.Target {
	case config.TargetProduct:
		// The media type of a lone product is unknown, so it is left empty
		// and categorized as an application.
		err = s.submit(ctx, sink, models.ProductRef{ID: s.cfg.ProductID})
	default:
		err = s.walkCatalog(ctx, sink)
	}

	result := &models.RunResult{
		StartTime:          start,
		EndTime:            time.Now(),
		ProductsDiscovered: int(atomic.LoadInt64(&s.discovered)),
		ErrorCount:         s.fetcher.ErrorCount(),
		ErrorsByType:       s.fetcher.ErrorsByType(),
		RetryCount:         s.client.TotalRetries(),
		RequestCount:       s.fetcher.RequestCount(),
		PageCount:          s.catalog.PageCount(),
	}
	if err != nil {
		return result, fmt.Errorf("catalog walk: %w", err)
	}
	return result, nil
}

func (s *Scraper) walkCatalog(ctx context.Context, sink ProductSink) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.CatalogParallelism)

	for _, mediaType := range s.cfg.MediaTypes {
		choices, err := s.client.FilterChoices(gctx, mediaType)
		if err != nil {
			if walkErr := g.Wait(); walkErr != nil {
				return walkErr
			}
			return fmt.Errorf("filter choices for %s: %w", mediaType, err)
		}
		slog.Info("catalog filters loaded",
			slog.String("media_type", mediaType),
			slog.Int("choices", len(choices)),
		)

		for _, choice := range choices {
			g.Go(func() error {
				return s.walkList(gctx, sink, mediaType, choice)
			})
		}
	}
	return g.Wait()
}

func (s *Scraper) walkList(ctx context.Context, sink ProductSink, mediaType, choice string) error {
	count := 0
	for ref, err := range s.catalog.Products(ctx, mediaType, choice) {
		if err != nil {
			return fmt.Errorf("list %s/%s: %w", mediaType, choice, err)
		}
		if err := s.submit(ctx, sink, ref); err != nil {
			return err
		}
		count++
	}
	slog.Debug("catalog list walked",
		slog.String("media_type", mediaType),
		slog.String("choice", choice),
		slog.Int("products", count),
	)
	return nil
}

func (s *Scraper) submit(ctx context.Context, sink ProductSink, ref models.ProductRef) error {
	atomic.AddInt64(&s.discovered, 1)
	if s.Metrics != nil {
		s.Metrics.IncDiscovered()
	}
	if err := sink.Process(ctx, ref); err != nil {
		return fmt.Errorf("submit %s: %w", ref.ID, err)
	}
	return nil
}
