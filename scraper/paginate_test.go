package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/aluiziolira/go-scrape-reviews/models"
)

type fakeReviews struct {
	pages    int // pages that exist; every earlier page has more
	infinite bool
	calls    int32
	failAt   int
}

func (fr *fakeReviews) ReviewsPage(ctx context.Context, productID string, page, size int) (*ReviewPage, error) {
	atomic.AddInt32(&fr.calls, 1)
	if page == fr.failAt {
		return nil, &TransportError{URL: "reviews", Err: ErrServer{Err: errors.New("boom")}}
	}
	resp := &ReviewPage{HasMorePages: fr.infinite || page < fr.pages}
	for i := 0; i < size; i++ {
		resp.Items = append(resp.Items, json.RawMessage(fmt.Sprintf(`{"reviewId":"%s-%d-%d"}`, productID, page, i)))
	}
	return resp, nil
}

func TestReviewPaginatorCollectsAllPages(t *testing.T) {
	for _, k := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("pages_%d", k), func(t *testing.T) {
			source := &fakeReviews{pages: k}
			items, err := NewReviewPaginator(source, 3, 100).All(context.Background(), "P")
			if err != nil {
				t.Fatalf("all: %v", err)
			}
			if got := atomic.LoadInt32(&source.calls); int(got) != k {
				t.Fatalf("calls = %d, want %d", got, k)
			}
			if len(items) != 3*k {
				t.Fatalf("items = %d, want %d", len(items), 3*k)
			}
			if string(items[0]) != `{"reviewId":"P-1-0"}` {
				t.Fatalf("first item = %s", items[0])
			}
			last := fmt.Sprintf(`{"reviewId":"P-%d-2"}`, k)
			if string(items[len(items)-1]) != last {
				t.Fatalf("last item = %s, want %s", items[len(items)-1], last)
			}
		})
	}
}

func TestReviewPaginatorPageLimit(t *testing.T) {
	source := &fakeReviews{infinite: true}
	_, err := NewReviewPaginator(source, 1, 4).All(context.Background(), "P")

	var limit ErrPageLimit
	if !errors.As(err, &limit) || limit.Pages != 4 {
		t.Fatalf("err = %v, want page limit of 4", err)
	}
	if !IsTransport(err) {
		t.Fatalf("err = %v, want transport error", err)
	}
	if got := atomic.LoadInt32(&source.calls); got != 4 {
		t.Fatalf("calls = %d, want 4", got)
	}
}

func TestReviewPaginatorFailureDiscardsItems(t *testing.T) {
	source := &fakeReviews{pages: 5, failAt: 3}
	items, err := NewReviewPaginator(source, 2, 100).All(context.Background(), "P")
	if err == nil {
		t.Fatal("expected error")
	}
	if items != nil {
		t.Fatalf("items = %d, want none", len(items))
	}
}

type fakeCatalog struct {
	pages map[int]*CatalogPage
	calls []int
	err   error
}

func (fc *fakeCatalog) ProductsPage(ctx context.Context, mediaType, listName string, page, size int) (*CatalogPage, error) {
	fc.calls = append(fc.calls, page)
	if fc.err != nil {
		return nil, fc.err
	}
	if p, ok := fc.pages[page]; ok {
		return p, nil
	}
	return &CatalogPage{NextPage: -1}, nil
}

func collect(t *testing.T, p *CatalogPaginator) ([]models.ProductRef, error) {
	t.Helper()
	var refs []models.ProductRef
	for ref, err := range p.Products(context.Background(), "games", "TopFree") {
		if err != nil {
			return refs, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func TestCatalogPaginatorStopsOnNegativeNext(t *testing.T) {
	source := &fakeCatalog{pages: map[int]*CatalogPage{
		1: {ProductIDs: []string{"A", "B", "C"}, NextPage: -1},
		2: {ProductIDs: []string{"never"}, NextPage: -1},
	}}
	p := NewCatalogPaginator(source, 3, 10)

	refs, err := collect(t, p)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(refs) != 3 || refs[0].ID != "A" || refs[2].ID != "C" {
		t.Fatalf("refs = %+v", refs)
	}
	if refs[0].MediaType != "games" || refs[0].ChoiceID != "TopFree" {
		t.Fatalf("ref context = %+v", refs[0])
	}
	if len(source.calls) != 1 || p.PageCount() != 1 {
		t.Fatalf("calls = %v pages = %d, want one", source.calls, p.PageCount())
	}
}

func TestCatalogPaginatorFollowsNextPage(t *testing.T) {
	source := &fakeCatalog{pages: map[int]*CatalogPage{
		1: {ProductIDs: []string{"A"}, NextPage: 3},
		3: {ProductIDs: []string{"B"}, NextPage: 3},
		4: {ProductIDs: []string{"C"}, NextPage: -1},
	}}

	refs, err := collect(t, NewCatalogPaginator(source, 1, 10))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if fmt.Sprint(source.calls) != "[1 3 4]" {
		t.Fatalf("calls = %v, want [1 3 4]", source.calls)
	}
	if len(refs) != 3 {
		t.Fatalf("refs = %+v", refs)
	}
}

func TestCatalogPaginatorStopsOnEmptyPage(t *testing.T) {
	source := &fakeCatalog{pages: map[int]*CatalogPage{
		1: {ProductIDs: []string{"A"}, NextPage: 2},
		2: {NextPage: 3},
	}}

	refs, err := collect(t, NewCatalogPaginator(source, 1, 10))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(refs) != 1 || len(source.calls) != 2 {
		t.Fatalf("refs = %+v calls = %v", refs, source.calls)
	}
}

func TestCatalogPaginatorPageLimit(t *testing.T) {
	pages := make(map[int]*CatalogPage)
	for i := 1; i <= 10; i++ {
		pages[i] = &CatalogPage{ProductIDs: []string{fmt.Sprint(i)}, NextPage: i + 1}
	}
	source := &fakeCatalog{pages: pages}

	refs, err := collect(t, NewCatalogPaginator(source, 1, 3))
	var limit ErrPageLimit
	if !errors.As(err, &limit) {
		t.Fatalf("err = %v, want page limit", err)
	}
	if len(refs) != 3 || len(source.calls) != 3 {
		t.Fatalf("refs = %d calls = %v", len(refs), source.calls)
	}
}

func TestCatalogPaginatorEarlyBreak(t *testing.T) {
	source := &fakeCatalog{pages: map[int]*CatalogPage{
		1: {ProductIDs: []string{"A", "B"}, NextPage: 2},
		2: {ProductIDs: []string{"C"}, NextPage: -1},
	}}
	p := NewCatalogPaginator(source, 2, 10)

	for ref, err := range p.Products(context.Background(), "apps", "TopPaid") {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ref.ID == "A" {
			break
		}
	}
	if len(source.calls) != 1 {
		t.Fatalf("calls = %v, want only page 1", source.calls)
	}
}

type fakeProducts struct {
	detailErr error
	ratingErr error
}

func (fp *fakeProducts) Detail(ctx context.Context, productID string) (json.RawMessage, error) {
	if fp.detailErr != nil {
		return nil, fp.detailErr
	}
	return json.RawMessage(`{"productId":"` + productID + `"}`), nil
}

func (fp *fakeProducts) RatingSummary(ctx context.Context, productID string) (json.RawMessage, error) {
	if fp.ratingErr != nil {
		return nil, fp.ratingErr
	}
	return json.RawMessage(`{"averageRating":4.2}`), nil
}

func TestAggregatorBundlesAllParts(t *testing.T) {
	reviews := NewReviewPaginator(&fakeReviews{pages: 2}, 2, 10)
	agg := NewAggregator(&fakeProducts{}, reviews)

	ref := models.ProductRef{ID: "P1", MediaType: "apps"}
	bundle, err := agg.Aggregate(context.Background(), ref)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if bundle.Ref != ref {
		t.Fatalf("ref = %+v", bundle.Ref)
	}
	if string(bundle.Detail) != `{"productId":"P1"}` || string(bundle.Rating) != `{"averageRating":4.2}` {
		t.Fatalf("bundle = %s / %s", bundle.Detail, bundle.Rating)
	}
	if len(bundle.Reviews) != 4 {
		t.Fatalf("reviews = %d, want 4", len(bundle.Reviews))
	}
}

func TestAggregatorFailureYieldsNoBundle(t *testing.T) {
	tests := []struct {
		name     string
		products *fakeProducts
		reviews  *fakeReviews
	}{
		{name: "detail", products: &fakeProducts{detailErr: errors.New("detail down")}, reviews: &fakeReviews{pages: 1}},
		{name: "rating", products: &fakeProducts{ratingErr: errors.New("rating down")}, reviews: &fakeReviews{pages: 1}},
		{name: "reviews", products: &fakeProducts{}, reviews: &fakeReviews{pages: 3, failAt: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator(tt.products, NewReviewPaginator(tt.reviews, 2, 10))
			bundle, err := agg.Aggregate(context.Background(), models.ProductRef{ID: "P1"})
			if err == nil {
				t.Fatal("expected error")
			}
			if bundle != nil {
				t.Fatalf("bundle = %+v, want nil", bundle)
			}
		})
	}
}
