package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Target selects which products a run harvests.
const (
	TargetCatalog = "catalog"
	TargetProduct = "product"
)

// Backend selects where normalized records are stored.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// Config holds harvester configuration.
type Config struct {
	BaseURL    string   `yaml:"base_url"`
	Target     string   `yaml:"target"` // catalog or product
	ProductID  string   `yaml:"product_id"`
	MediaTypes []string `yaml:"media_types"`

	CatalogPageSize    int `yaml:"catalog_page_size"`
	ReviewPageSize     int `yaml:"review_page_size"`
	MaxPages           int `yaml:"max_pages"`
	MaxReviewPages     int `yaml:"max_review_pages"`
	Concurrency        int `yaml:"concurrency"`
	CatalogParallelism int `yaml:"catalog_parallelism"`
	PipelineBufferSize int `yaml:"pipeline_buffer_size"`
	DedupeMaxSize      int `yaml:"dedupe_max_size"`

	Parallelism       int           `yaml:"parallelism"`
	Delay             time.Duration `yaml:"delay"`
	RandomDelay       time.Duration `yaml:"random_delay"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax   time.Duration `yaml:"retry_backoff_max"`
	UserAgent         string        `yaml:"user_agent"`

	Backend    string `yaml:"backend"` // local or s3
	OutputDir  string `yaml:"output_dir"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Prefix   string `yaml:"s3_prefix"`
	S3Region   string `yaml:"s3_region"`
	S3Endpoint string `yaml:"s3_endpoint"`
	LogDir     string `yaml:"log_dir"`
	Timezone   string `yaml:"timezone"`

	Verbose     bool   `yaml:"verbose"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultConfig returns conservative defaults for the public storefront API.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:            "https://microsoft-store.azurewebsites.net",
		Target:             TargetCatalog,
		MediaTypes:         []string{"games", "apps"},
		CatalogPageSize:    100,
		ReviewPageSize:     25,
		MaxPages:           500,
		MaxReviewPages:     1000,
		Concurrency:        8,
		CatalogParallelism: 2,
		PipelineBufferSize: 256,
		DedupeMaxSize:      100000,
		Parallelism:        16,
		Delay:              0,
		RandomDelay:        0,
		RequestsPerSecond:  0,
		Timeout:            15 * time.Second,
		MaxRetries:         2,
		RetryBackoff:       200 * time.Millisecond,
		RetryBackoffMax:    2 * time.Second,
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Backend:            BackendLocal,
		OutputDir:          "data",
		LogDir:             "logs",
		Timezone:           "UTC",
		Verbose:            false,
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	switch c.Target {
	case TargetCatalog:
		if len(c.MediaTypes) == 0 {
			return fmt.Errorf("catalog target needs at least one media type")
		}
	case TargetProduct:
		if c.ProductID == "" {
			return fmt.Errorf("product target needs a product id")
		}
	default:
		return fmt.Errorf("target must be catalog or product")
	}

	if c.CatalogPageSize <= 0 || c.ReviewPageSize <= 0 {
		return fmt.Errorf("page sizes must be positive")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.MaxReviewPages <= 0 {
		return fmt.Errorf("max review pages must be positive")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.CatalogParallelism <= 0 {
		return fmt.Errorf("catalog parallelism must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	switch c.Backend {
	case BackendLocal:
		if c.OutputDir == "" {
			return fmt.Errorf("output dir cannot be empty")
		}
	case BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("s3 backend needs a bucket")
		}
	default:
		return fmt.Errorf("backend must be local or s3")
	}

	if c.LogDir == "" {
		return errors.New("log dir cannot be empty")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	return nil
}
