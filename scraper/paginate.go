package scraper

import (
	"context"
	"encoding/json"
	"iter"
	"sync/atomic"

	"github.com/aluiziolira/go-scrape-reviews/models"
)

type reviewPager interface {
	ReviewsPage(ctx context.Context, productID string, page, size int) (*ReviewPage, error)
}

type catalogPager interface {
	ProductsPage(ctx context.Context, mediaType, listName string, page, size int) (*CatalogPage, error)
}

// ReviewPaginator collects every review of a product.
type ReviewPaginator struct {
	source   reviewPager
	pageSize int
	maxPages int
}

// NewReviewPaginator pages through source with a fixed page size, giving up
// after maxPages pages that all claim more data.
func NewReviewPaginator(source reviewPager, pageSize, maxPages int) *ReviewPaginator {
	return &ReviewPaginator{source: source, pageSize: pageSize, maxPages: maxPages}
}

// All returns the concatenated items of every review page, starting at 1 and
// stopping at the first page whose hasMorePages flag is false.
func (p *ReviewPaginator) All(ctx context.Context, productID string) ([]json.RawMessage, error) {
	var items []json.RawMessage
	for page := 1; ; page++ {
		if page > p.maxPages {
			return nil, &TransportError{URL: "reviews/" + productID, Err: ErrPageLimit{Pages: p.maxPages}}
		}
		resp, err := p.source.ReviewsPage(ctx, productID, page, p.pageSize)
		if err != nil {
			return nil, err
		}
		items = append(items, resp.Items...)
		if !resp.HasMorePages {
			return items, nil
		}
	}
}

// CatalogPaginator walks a computed products list.
type CatalogPaginator struct {
	source   catalogPager
	pageSize int
	maxPages int
	pages    int64
}

// NewCatalogPaginator pages through source with a fixed page size.
func NewCatalogPaginator(source catalogPager, pageSize, maxPages int) *CatalogPaginator {
	return &CatalogPaginator{source: source, pageSize: pageSize, maxPages: maxPages}
}

// Products lazily yields the product references of one (media type, choice)
// list. Every call starts again from page 1. A non-nil error is yielded at
// most once and ends the sequence.
func (p *CatalogPaginator) Products(ctx context.Context, mediaType, choiceID string) iter.Seq2[models.ProductRef, error] {
	return func(yield func(models.ProductRef, error) bool) {
		page := 1
		for fetched := 0; ; fetched++ {
			if fetched >= p.maxPages {
				yield(models.ProductRef{}, &TransportError{
					URL: "catalog/" + mediaType + "/" + choiceID,
					Err: ErrPageLimit{Pages: p.maxPages},
				})
				return
			}

			resp, err := p.source.ProductsPage(ctx, mediaType, choiceID, page, p.pageSize)
			if err != nil {
				yield(models.ProductRef{}, err)
				return
			}
			atomic.AddInt64(&p.pages, 1)

			for _, id := range resp.ProductIDs {
				ref := models.ProductRef{ID: id, MediaType: mediaType, ChoiceID: choiceID}
				if !yield(ref, nil) {
					return
				}
			}

			if resp.NextPage < 0 || len(resp.ProductIDs) == 0 {
				return
			}
			next := resp.NextPage
			if next <= page {
				next = page + 1
			}
			page = next
		}
	}
}

// PageCount is the number of catalog pages fetched so far.
func (p *CatalogPaginator) PageCount() int {
	return int(atomic.LoadInt64(&p.pages))
}
