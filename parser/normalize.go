// Package parser maps upstream storefront payloads onto the record schema.
package parser

import (
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-reviews/models"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Storage tiers every record is written to.
const (
	TierRaw   = "data_raw"
	TierClean = "data_clean"
)

var errMalformed = errors.New("payload is not valid JSON")

// Normalizer turns a ProductBundle into one detail record and one record per
// review. It performs no I/O; the clock and ID source are injectable.
type Normalizer struct {
	BaseURL  string
	Root     string
	Location *time.Location
	Now      func() time.Time
	NewID    func() string

	mu   sync.Mutex
	dirs map[string]string // product directory -> owning product id
}

// NewNormalizer builds a normalizer whose record paths are reported under root.
func NewNormalizer(baseURL, root string, loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{
		BaseURL:  strings.TrimSuffix(baseURL, "/"),
		Root:     root,
		Location: loc,
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

// Normalize builds the records for one product.
func (n *Normalizer) Normalize(b *models.ProductBundle) (*models.NormalizedProduct, error) {
	if b == nil {
		return nil, &NormalizationError{Field: "bundle", Err: errors.New("bundle is nil")}
	}
	if !gjson.ValidBytes(b.Detail) {
		return nil, &NormalizationError{ProductID: b.Ref.ID, Field: "detail", Err: errMalformed}
	}
	if len(b.Rating) > 0 && !gjson.ValidBytes(b.Rating) {
		return nil, &NormalizationError{ProductID: b.Ref.ID, Field: "rating", Err: errMalformed}
	}

	detail := gjson.ParseBytes(b.Detail)
	rating := gjson.ParseBytes(b.Rating)

	productID := detail.Get("productId").String()
	if productID == "" {
		productID = b.Ref.ID
	}
	title := detail.Get("title").String()
	dir := n.productDir(title, productID)

	base := n.baseRecord(b.Ref, productID, title, detail, rating)

	out := &models.NormalizedProduct{
		Ref:   b.Ref,
		Title: title,
	}

	detailRecord := base
	detailRecord.Kind = models.KindDetail
	detailRecord.Key = dir
	n.locate(&detailRecord, dir, dir)
	out.Detail = &detailRecord

	seen := make(map[string]struct{}, len(b.Reviews))
	for _, raw := range b.Reviews {
		if !gjson.ValidBytes(raw) {
			out.Skipped++
			continue
		}
		review := gjson.ParseBytes(raw)
		reviewID := review.Get("reviewId").String()
		if reviewID != "" {
			if _, dup := seen[reviewID]; dup {
				out.Skipped++
				continue
			}
			seen[reviewID] = struct{}{}
		}

		record := base
		record.Kind = models.KindReview
		record.DetailReviews = n.reviewDetail(review, reviewID)
		record.Key = reviewID
		if record.Key == "" {
			record.Key = record.DetailReviews.Username
			if review.Get("reviewerName").String() != "" {
				record.Key = n.NewID()
			}
		}
		n.locate(&record, dir, record.Key)
		out.Reviews = append(out.Reviews, &record)
	}

	return out, nil
}

// productDir names the directory holding a product's records. The first
// product to use a title keeps the plain name; later products with the same
// sanitized title get their id appended.
func (n *Normalizer) productDir(title, productID string) string {
	dir := SafeName(title)
	if dir == "" {
		return SafeName(productID)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.dirs == nil {
		n.dirs = make(map[string]string)
	}
	owner, claimed := n.dirs[dir]
	if !claimed {
		n.dirs[dir] = productID
		return dir
	}
	if owner == productID {
		return dir
	}
	return dir + "-" + SafeName(productID)
}

func (n *Normalizer) baseRecord(ref models.ProductRef, productID, title string, detail, rating gjson.Result) models.Record {
	now := n.Now()
	link := n.BaseURL + "/detail/" + productID
	releaseDate, releaseEpoch := Timestamp(detail.Get("releaseDateUtc"), n.Location)
	reviewInfo, ratingInfo := Breakdown(rating)

	return models.Record{
		ProductID: productID,

		Link:              link,
		Domain:            domainOf(n.BaseURL),
		Tag:               tagOf(link),
		CrawlingTime:      now.In(n.Location).Format(TimestampLayout),
		CrawlingTimeEpoch: now.UnixMilli(),

		ReviewsName:        title,
		ReleaseDate:        releaseDate,
		ReleaseDateEpoch:   releaseEpoch,
		Description:        optionalString(detail.Get("description")),
		Developer:          nonEmptyString(detail.Get("developerName")),
		Publisher:          nonEmptyString(detail.Get("publisherName")),
		Features:           passthrough(detail.Get("features")),
		WebsiteURL:         optionalString(detail.Get("appWebsiteUrl")),
		ProductRatings:     stringList(detail.Get("productRatings.#.description")),
		SystemRequirements: systemRequirements(detail.Get("systemRequirements")),
		ApproximateSize:    optionalInt(detail.Get("approximateSizeInBytes")),
		MaxInstallSize:     optionalInt(detail.Get("maxInstallSizeInBytes")),
		Permissions:        passthrough(detail.Get("permissionsRequired")),
		Message:            passthrough(detail.Get("appExtension.appExtMessage")),
		Installation:       passthrough(detail.Get("installationTerms")),
		AllowedPlatforms:   passthrough(detail.Get("allowedPlatforms")),
		Screenshots:        stringList(detail.Get("screenshots.#.url")),
		Category:           categoryOf(ref.MediaType),

		TotalReviews: optionalInt(rating.Get("reviewCount")),
		ReviewInfo:   reviewInfo,
		TotalRatings: optionalInt(detail.Get("ratingCount")),
		RatingInfo:   ratingInfo,
		ReviewsRating: models.RatingBlock{
			TotalRating: optionalFloat(rating.Get("averageRating")),
		},
	}
}

func (n *Normalizer) reviewDetail(review gjson.Result, reviewID string) *models.ReviewDetail {
	username := review.Get("reviewerName").String()
	if username == "" {
		username = n.NewID()
	}
	created, createdEpoch := Timestamp(review.Get("submittedDateTimeUtc"), n.Location)

	return &models.ReviewDetail{
		ReviewID:         reviewID,
		Username:         username,
		CreatedTime:      created,
		CreatedTimeEpoch: createdEpoch,
		Title:            optionalString(review.Get("title")),
		Rating:           optionalFloat(review.Get("rating")),
		Likes:            optionalInt(review.Get("helpfulPositive")),
		Dislikes:         optionalInt(review.Get("helpfulNegative")),
		Content:          optionalString(review.Get("reviewText")),
	}
}

// locate fills the storage paths of a record.
func (n *Normalizer) locate(r *models.Record, dir, key string) {
	name := SafeName(key)
	if name == "" {
		name = n.NewID()
	}
	r.RawPath = LogicalPath(TierRaw, r.Domain, dir, name)
	r.CleanPath = LogicalPath(TierClean, r.Domain, dir, name)
	r.PathDataRaw = joinRoot(n.Root, r.RawPath)
	r.PathDataClean = joinRoot(n.Root, r.CleanPath)
}

// LogicalPath is the backend-relative location of a record in a tier.
func LogicalPath(tier, domain, dir, name string) string {
	return strings.Join([]string{tier, "data_review", domain, dir, "json", name + ".json"}, "/")
}

func joinRoot(root, logical string) string {
	root = strings.TrimSuffix(root, "/")
	if root == "" {
		return logical
	}
	return root + "/" + logical
}

func systemRequirements(value gjson.Result) map[string][]models.Requirement {
	if !value.IsObject() {
		return nil
	}
	out := make(map[string][]models.Requirement)
	value.ForEach(func(category, group gjson.Result) bool {
		items := group.Get("items").Array()
		reqs := make([]models.Requirement, 0, len(items))
		for _, item := range items {
			reqs = append(reqs, models.Requirement{
				Name:        item.Get("name").String(),
				Description: item.Get("description").String(),
			})
		}
		out[category.String()] = reqs
		return true
	})
	return out
}

func domainOf(baseURL string) string {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return parsed.Host
}

// tagOf drops the scheme segments of a link, leaving host and path parts.
func tagOf(link string) []string {
	parts := strings.Split(link, "/")
	if len(parts) <= 2 {
		return []string{}
	}
	return parts[2:]
}

func categoryOf(mediaType string) string {
	if mediaType == "games" {
		return "game"
	}
	return "application"
}
