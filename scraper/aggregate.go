package scraper

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aluiziolira/go-scrape-reviews/models"
	"golang.org/x/sync/errgroup"
)

type productSource interface {
	Detail(ctx context.Context, productID string) (json.RawMessage, error)
	RatingSummary(ctx context.Context, productID string) (json.RawMessage, error)
}

// Aggregator fetches the three resources that make up one product.
type Aggregator struct {
	source  productSource
	reviews *ReviewPaginator
}

// NewAggregator joins detail and rating lookups with a review paginator.
func NewAggregator(source productSource, reviews *ReviewPaginator) *Aggregator {
	return &Aggregator{source: source, reviews: reviews}
}

// Aggregate fetches detail, rating summary and all reviews concurrently.
// If any of them fails the product yields nothing.
func (a *Aggregator) Aggregate(ctx context.Context, ref models.ProductRef) (*models.ProductBundle, error) {
	bundle := &models.ProductBundle{Ref: ref}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		detail, err := a.source.Detail(gctx, ref.ID)
		if err != nil {
			return fmt.Errorf("detail %s: %w", ref.ID, err)
		}
		bundle.Detail = detail
		return nil
	})
	g.Go(func() error {
		rating, err := a.source.RatingSummary(gctx, ref.ID)
		if err != nil {
			return fmt.Errorf("rating summary %s: %w", ref.ID, err)
		}
		bundle.Rating = rating
		return nil
	})
	g.Go(func() error {
		reviews, err := a.reviews.All(gctx, ref.ID)
		if err != nil {
			return fmt.Errorf("reviews %s: %w", ref.ID, err)
		}
		bundle.Reviews = reviews
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bundle, nil
}
