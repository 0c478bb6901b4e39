package models

// RecordKind distinguishes product-level records from per-review records.
type RecordKind string

const (
	KindDetail RecordKind = "detail"
	KindReview RecordKind = "review"
)

// Requirement is one system requirement line of a product.
type Requirement struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RatingBlock holds the aggregate rating of a product.
type RatingBlock struct {
	TotalRating       *float64 `json:"total_rating"`
	DetailTotalRating *float64 `json:"detail_total_rating"`
}

// ReviewDetail holds the review-level fields of a review record.
type ReviewDetail struct {
	ReviewID              string   `json:"review_id"`
	Username              string   `json:"username_reviews"`
	Image                 *string  `json:"image_reviews"`
	CreatedTime           *string  `json:"created_time"`
	CreatedTimeEpoch      *int64   `json:"created_time_epoch"`
	Email                 *string  `json:"email_reviews"`
	CompanyName           *string  `json:"company_name"`
	Location              *string  `json:"location_reviews"`
	Title                 *string  `json:"title_detail_reviews"`
	Rating                *float64 `json:"reviews_rating"`
	DetailRating          *float64 `json:"detail_reviews_rating"`
	Likes                 *int64   `json:"total_likes_reviews"`
	Dislikes              *int64   `json:"total_dislikes_reviews"`
	Replies               *int64   `json:"total_reply_reviews"`
	Content               *string  `json:"content_reviews"`
	ReplyContent          *string  `json:"reply_content_reviews"`
	DateOfExperience      *string  `json:"date_of_experience"`
	DateOfExperienceEpoch *int64   `json:"date_of_experience_epoch"`
}

// Record is the canonical output document. Detail records leave
// DetailReviews nil; review records carry both product and review fields.
type Record struct {
	Kind      RecordKind `json:"-"`
	Key       string     `json:"-"`
	ProductID string     `json:"-"`
	RawPath   string     `json:"-"`
	CleanPath string     `json:"-"`

	Link              string   `json:"link"`
	Domain            string   `json:"domain"`
	Tag               []string `json:"tag"`
	CrawlingTime      string   `json:"crawling_time"`
	CrawlingTimeEpoch int64    `json:"crawling_time_epoch"`
	PathDataRaw       string   `json:"path_data_raw"`
	PathDataClean     string   `json:"path_data_clean"`

	ReviewsName        string                   `json:"reviews_name"`
	ReleaseDate        *string                  `json:"release_date_reviews"`
	ReleaseDateEpoch   *int64                   `json:"release_date_epoch_reviews"`
	Description        *string                  `json:"description_reviews"`
	Developer          *string                  `json:"developer_reviews"`
	Publisher          *string                  `json:"publisher_reviews"`
	Features           any                      `json:"features_reviews"`
	WebsiteURL         *string                  `json:"website_url_reviews"`
	ProductRatings     []string                 `json:"product_ratings_reviews"`
	SystemRequirements map[string][]Requirement `json:"system_requirements_reviews"`
	ApproximateSize    *int64                   `json:"approximate_size_in_bytes_reviews"`
	MaxInstallSize     *int64                   `json:"maxInstall_size_in_bytes_reviews"`
	Permissions        any                      `json:"permissions_required_reviews"`
	Message            any                      `json:"message_reviews"`
	Installation       any                      `json:"installation_reviews"`
	AllowedPlatforms   any                      `json:"allowed_platforms_reviews"`
	Screenshots        []string                 `json:"screenshots_reviews"`
	Location           *string                  `json:"location_reviews"`
	Category           string                   `json:"category_reviews"`

	TotalReviews  *int64           `json:"total_reviews"`
	ReviewInfo    map[string]int64 `json:"review_info"`
	TotalRatings  *int64           `json:"total_ratings"`
	RatingInfo    map[string]int64 `json:"rating_info"`
	ReviewsRating RatingBlock      `json:"reviews_rating"`

	DetailReviews *ReviewDetail `json:"detail_reviews"`
}

// NormalizedProduct is everything the normalizer derives from one bundle.
type NormalizedProduct struct {
	Ref     ProductRef
	Title   string
	Detail  *Record
	Reviews []*Record
	Skipped int
}
