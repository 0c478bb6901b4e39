package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-reviews/config"
	"github.com/aluiziolira/go-scrape-reviews/models"
	"github.com/aluiziolira/go-scrape-reviews/parser"
	"github.com/aluiziolira/go-scrape-reviews/pipeline"
	"github.com/aluiziolira/go-scrape-reviews/scraper"
)

// options override values loaded from the YAML config. Zero values and -1
// leave the config untouched.
type options struct {
	Config string `short:"c" long:"config" env:"HARVEST_CONFIG" description:"Path to a YAML config file"`

	BaseURL    string   `long:"base-url" env:"HARVEST_BASE_URL" description:"Storefront API base URL"`
	Product    string   `long:"product" env:"HARVEST_PRODUCT" description:"Harvest one product id instead of walking the catalog"`
	MediaTypes []string `long:"media-type" env:"HARVEST_MEDIA_TYPES" env-delim:"," description:"Media type to walk (repeatable)"`

	MaxPages       int     `long:"pages" env:"HARVEST_MAX_PAGES" description:"Maximum catalog pages per list"`
	MaxReviewPages int     `long:"review-pages" env:"HARVEST_MAX_REVIEW_PAGES" description:"Maximum review pages per product"`
	Concurrency    int     `long:"concurrency" env:"HARVEST_CONCURRENCY" description:"Products processed at once"`
	Parallelism    int     `long:"parallel" env:"HARVEST_PARALLEL" description:"Concurrent HTTP requests"`
	RPS            float64 `long:"rps" env:"HARVEST_RPS" description:"Request rate limit per second (0 disables)"`
	Timeout        int     `long:"timeout" env:"HARVEST_TIMEOUT" description:"Per-request timeout (seconds)"`
	MaxRetries     int     `long:"max-retries" env:"HARVEST_MAX_RETRIES" default:"-1" description:"Maximum retry attempts per request"`

	Backend    string `long:"backend" env:"HARVEST_BACKEND" choice:"local" choice:"s3" description:"Record storage backend"`
	OutputDir  string `short:"o" long:"output" env:"HARVEST_OUTPUT_DIR" description:"Output root for the local backend"`
	S3Bucket   string `long:"s3-bucket" env:"HARVEST_S3_BUCKET" description:"Bucket for the s3 backend"`
	S3Prefix   string `long:"s3-prefix" env:"HARVEST_S3_PREFIX" description:"Key prefix for the s3 backend"`
	S3Region   string `long:"s3-region" env:"HARVEST_S3_REGION" description:"Region for the s3 backend"`
	S3Endpoint string `long:"s3-endpoint" env:"HARVEST_S3_ENDPOINT" description:"Custom S3-compatible endpoint"`

	LogDir      string `long:"log-dir" env:"HARVEST_LOG_DIR" description:"Directory for lifecycle and error logs"`
	Timezone    string `long:"timezone" env:"HARVEST_TIMEZONE" description:"IANA zone for record timestamps"`
	MetricsAddr string `long:"metrics-addr" env:"HARVEST_METRICS_ADDR" description:"Prometheus metrics listen address (e.g. :9090)"`
	Verbose     bool   `short:"v" long:"verbose" env:"HARVEST_VERBOSE" description:"Enable verbose logging"`
}

// apiTransport replaces the HTTP transport of the fetcher when set.
var apiTransport http.RoundTripper

func main() {
	var opts options
	if _, err := flags.NewParser(&opts, flags.Default).Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(2)
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	applyOptions(cfg, &opts)

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, dropping queued products")
	}()

	code := run(ctx, cfg)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config) int {
	slog.Info("starting harvest",
		slog.String("base_url", cfg.BaseURL),
		slog.String("target", cfg.Target),
		slog.Any("media_types", cfg.MediaTypes),
		slog.String("backend", cfg.Backend),
		slog.Int("concurrency", cfg.Concurrency),
	)

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		return 1
	}
	if apiTransport != nil {
		s.Fetcher().WithTransport(apiTransport)
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		slog.Error("creating store", slog.Any("error", err))
		return 1
	}

	runlog, err := pipeline.OpenRunLog(cfg.LogDir)
	if err != nil {
		slog.Error("opening run log", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := runlog.Close(); err != nil {
			slog.Error("close run log", slog.Any("error", err))
		}
	}()

	metricsServer := startMetricsServer(cfg.MetricsAddr, s.Metrics)

	// A fatal walk error cancels runCtx so queued products are dropped.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p, err := pipeline.NewPipeline(runCtx, pipeline.Stages{
		Source:     s.Aggregator(),
		Normalizer: parser.NewNormalizer(cfg.BaseURL, store.Root(), cfg.Location()),
		Persister:  pipeline.NewDualPersister(store),
		RunLog:     runlog,
		Recorder:   s.Metrics,
	}, cfg)
	if err != nil {
		slog.Error("creating pipeline", slog.Any("error", err))
		return 1
	}
	p.Start(cfg.Concurrency)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	exitCode := 0
	startTime := time.Now()
	result, runErr := s.Run(runCtx, p)
	if runErr != nil {
		slog.Error("harvest failed", slog.Any("error", runErr))
		exitCode = 1
		cancel()
	}

	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		exitCode = 1
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(result, time.Since(startTime), store.Root(), p.GetMetrics(), runlog.Entries())
	return exitCode
}

func applyOptions(cfg *config.Config, opts *options) {
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Product != "" {
		cfg.Target = config.TargetProduct
		cfg.ProductID = opts.Product
	}
	if len(opts.MediaTypes) > 0 {
		cfg.MediaTypes = opts.MediaTypes
	}
	if opts.MaxPages > 0 {
		cfg.MaxPages = opts.MaxPages
	}
	if opts.MaxReviewPages > 0 {
		cfg.MaxReviewPages = opts.MaxReviewPages
	}
	if opts.Concurrency > 0 {
		cfg.Concurrency = opts.Concurrency
	}
	if opts.Parallelism > 0 {
		cfg.Parallelism = opts.Parallelism
	}
	if opts.RPS > 0 {
		cfg.RequestsPerSecond = opts.RPS
	}
	if opts.Timeout > 0 {
		cfg.Timeout = time.Duration(opts.Timeout) * time.Second
	}
	if opts.MaxRetries >= 0 {
		cfg.MaxRetries = opts.MaxRetries
	}
	if opts.Backend != "" {
		cfg.Backend = opts.Backend
	}
	if opts.OutputDir != "" {
		cfg.OutputDir = opts.OutputDir
	}
	if opts.S3Bucket != "" {
		cfg.S3Bucket = opts.S3Bucket
	}
	if opts.S3Prefix != "" {
		cfg.S3Prefix = opts.S3Prefix
	}
	if opts.S3Region != "" {
		cfg.S3Region = opts.S3Region
	}
	if opts.S3Endpoint != "" {
		cfg.S3Endpoint = opts.S3Endpoint
	}
	if opts.LogDir != "" {
		cfg.LogDir = opts.LogDir
	}
	if opts.Timezone != "" {
		cfg.Timezone = opts.Timezone
	}
	if opts.MetricsAddr != "" {
		cfg.MetricsAddr = opts.MetricsAddr
	}
	if opts.Verbose {
		cfg.Verbose = true
	}
}

func newStore(ctx context.Context, cfg *config.Config) (pipeline.Store, error) {
	if cfg.Backend != config.BackendS3 {
		return pipeline.NewLocalStore(cfg.OutputDir), nil
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.S3Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return pipeline.NewS3Store(client, cfg.S3Bucket, cfg.S3Prefix), nil
}

func startMetricsServer(addr string, metrics *scraper.Metrics) *http.Server {
	if addr == "" || metrics == nil {
		return nil
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func printSummary(result *models.RunResult, duration time.Duration, root string, metrics map[string]interface{}, entries []models.RunLogEntry) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Harvest complete")

	var done, pending, reviews, saved, failed int
	for _, entry := range entries {
		switch entry.Status {
		case models.StatusDone:
			done++
		default:
			pending++
		}
		reviews += entry.Total
		saved += entry.Success
		failed += entry.Failed
	}

	if result != nil {
		fmt.Printf("  Discovered:    %d\n", result.ProductsDiscovered)
		fmt.Printf("  Catalog pages: %d\n", result.PageCount)
		successRate := 0.0
		if result.RequestCount > 0 {
			successRate = float64(result.RequestCount-result.ErrorCount) / float64(result.RequestCount) * 100
		}
		fmt.Printf("  Requests:      %d\n", result.RequestCount)
		fmt.Printf("  Success rate:  %.2f%%\n", successRate)
		fmt.Printf("  Errors:        %d\n", result.ErrorCount)
		fmt.Printf("  Retries:       %d\n", result.RetryCount)
		if len(result.ErrorsByType) > 0 {
			fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
		}
	}
	fmt.Printf("  Products done: %d\n", done)
	fmt.Printf("  Not done:      %d\n", pending)
	fmt.Printf("  Reviews:       %d (saved %d, failed %d)\n", reviews, saved, failed)
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	if duration.Seconds() > 0 {
		fmt.Printf("  Reviews/sec:   %.2f\n", float64(saved)/duration.Seconds())
	}
	fmt.Printf("  Output root:   %s\n", root)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
