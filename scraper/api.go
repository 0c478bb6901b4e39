package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-reviews/config"
)

// JSONFetcher is the single-call capability the Client builds on.
type JSONFetcher interface {
	FetchJSON(ctx context.Context, endpoint string, query url.Values) ([]byte, error)
}

// CatalogPage is one page of a computed products list.
type CatalogPage struct {
	ProductIDs []string
	// NextPage is negative when the list is exhausted.
	NextPage int
}

// ReviewPage is one page of a product's reviews.
type ReviewPage struct {
	Items        []json.RawMessage `json:"items"`
	HasMorePages bool              `json:"hasMorePages"`
}

// Client wraps the storefront endpoints and applies retries.
type Client struct {
	fetcher JSONFetcher
	retry   *retrier
	baseURL string
}

// NewClient builds a Client for cfg.BaseURL.
func NewClient(cfg *config.Config, fetcher JSONFetcher, metrics *Metrics) *Client {
	return &Client{
		fetcher: fetcher,
		retry:   newRetrier(cfg, metrics),
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	var body []byte
	err := c.retry.Do(ctx, path, func() error {
		b, err := c.fetcher.FetchJSON(ctx, c.baseURL+path, query)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	return body, err
}

// FilterChoices lists the distinct filter choice IDs for a media type.
func (c *Client) FilterChoices(ctx context.Context, mediaType string) ([]string, error) {
	path := "/api/Reco/GetCollectionFiltersList"
	body, err := c.get(ctx, path, url.Values{"mediaType": {mediaType}})
	if err != nil {
		return nil, err
	}

	var groups []struct {
		Choices []struct {
			ChoiceID string `json:"choiceId"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &groups); err != nil {
		return nil, &TransportError{URL: c.baseURL + path, Err: ErrMalformed{Err: err}}
	}

	seen := make(map[string]struct{})
	var choices []string
	for _, group := range groups {
		for _, choice := range group.Choices {
			if choice.ChoiceID == "" {
				continue
			}
			if _, ok := seen[choice.ChoiceID]; ok {
				continue
			}
			seen[choice.ChoiceID] = struct{}{}
			choices = append(choices, choice.ChoiceID)
		}
	}
	return choices, nil
}

// ProductsPage fetches one page of the computed products list.
func (c *Client) ProductsPage(ctx context.Context, mediaType, listName string, page, size int) (*CatalogPage, error) {
	path := "/api/Reco/GetComputedProductsList"
	body, err := c.get(ctx, path, url.Values{
		"listName":           {listName},
		"pgNo":               {strconv.Itoa(page)},
		"noItems":            {strconv.Itoa(size)},
		"filteredCategories": {"AllProducts"},
		"mediaType":          {mediaType},
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		ProductsList []struct {
			ProductID string `json:"productId"`
		} `json:"productsList"`
		NextPageNumber *int `json:"nextPageNumber"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &TransportError{URL: c.baseURL + path, Err: ErrMalformed{Err: err}}
	}

	out := &CatalogPage{NextPage: -1}
	if resp.NextPageNumber != nil {
		out.NextPage = *resp.NextPageNumber
	}
	for _, p := range resp.ProductsList {
		if p.ProductID != "" {
			out.ProductIDs = append(out.ProductIDs, p.ProductID)
		}
	}
	return out, nil
}

// Detail fetches the product detail document.
func (c *Client) Detail(ctx context.Context, productID string) (json.RawMessage, error) {
	return c.get(ctx, "/api/pages/pdp", url.Values{"productId": {productID}})
}

// RatingSummary fetches the rating summary document.
func (c *Client) RatingSummary(ctx context.Context, productID string) (json.RawMessage, error) {
	return c.get(ctx, "/api/Products/GetReviewsSummary/"+url.PathEscape(productID), nil)
}

// ReviewsPage fetches one page of reviews.
func (c *Client) ReviewsPage(ctx context.Context, productID string, page, size int) (*ReviewPage, error) {
	path := "/api/products/getReviews/" + url.PathEscape(productID)
	body, err := c.get(ctx, path, url.Values{
		"pgNo":    {strconv.Itoa(page)},
		"noItems": {strconv.Itoa(size)},
	})
	if err != nil {
		return nil, err
	}

	var resp ReviewPage
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &TransportError{URL: c.baseURL + path, Err: ErrMalformed{Err: fmt.Errorf("decode reviews page %d: %w", page, err)}}
	}
	return &resp, nil
}

// TotalRetries is the number of retries scheduled by this client.
func (c *Client) TotalRetries() int {
	return c.retry.TotalRetries()
}
