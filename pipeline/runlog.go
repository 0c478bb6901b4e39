package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-reviews/models"
)

// ErrCounterOverflow is returned when more outcomes are recorded for a
// product than it has reviews.
var ErrCounterOverflow = errors.New("runlog: outcome exceeds review total")

// RunLog tracks per-product progress and appends structured entries to a
// lifecycle stream and an error stream.
type RunLog struct {
	lifecycle *slog.Logger
	errs      *slog.Logger
	closers   []io.Closer
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*models.RunLogEntry
}

// NewRunLog writes JSON lines to the given sinks.
func NewRunLog(lifecycle, errs io.Writer) *RunLog {
	return &RunLog{
		lifecycle: slog.New(slog.NewJSONHandler(lifecycle, nil)),
		errs:      slog.New(slog.NewJSONHandler(errs, nil)),
		now:       time.Now,
		entries:   make(map[string]*models.RunLogEntry),
	}
}

// OpenRunLog appends to lifecycle.jsonl and errors.jsonl inside dir.
func OpenRunLog(dir string) (*RunLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %q: %w", dir, err)
	}

	open := func(name string) (*os.File, error) {
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open %q: %w", path, err)
		}
		return f, nil
	}

	lifecycle, err := open("lifecycle.jsonl")
	if err != nil {
		return nil, err
	}
	errs, err := open("errors.jsonl")
	if err != nil {
		lifecycle.Close()
		return nil, err
	}

	l := NewRunLog(lifecycle, errs)
	l.closers = []io.Closer{lifecycle, errs}
	return l, nil
}

// Close releases any files opened by OpenRunLog.
func (l *RunLog) Close() error {
	var errs []error
	for _, c := range l.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.closers = nil
	return errors.Join(errs...)
}

// Begin registers a product as pending.
func (l *RunLog) Begin(ref models.ProductRef) {
	l.mu.Lock()
	l.entries[ref.ID] = &models.RunLogEntry{
		ProductID: ref.ID,
		Status:    models.StatusPending,
		StartedAt: l.now(),
	}
	l.mu.Unlock()

	l.lifecycle.Info("product pending",
		slog.String("product_id", ref.ID),
		slog.String("media_type", ref.MediaType),
		slog.String("choice_id", ref.ChoiceID),
	)
}

// Start moves a product to processing with its review total fixed.
func (l *RunLog) Start(productID, title string, total int) {
	l.mu.Lock()
	entry := l.entry(productID)
	entry.Title = title
	entry.Total = total
	entry.Success = 0
	entry.Failed = 0
	entry.Status = models.StatusProcessing
	l.mu.Unlock()

	l.lifecycle.Info("product processing",
		slog.String("product_id", productID),
		slog.String("title", title),
		slog.Int("total_data", total),
	)
}

// Record counts the outcome of one review persist. A nil err is a success.
func (l *RunLog) Record(productID, key string, err error) error {
	l.mu.Lock()
	entry := l.entry(productID)
	if entry.Status != models.StatusProcessing || entry.Success+entry.Failed >= entry.Total {
		l.mu.Unlock()
		return fmt.Errorf("%w: product %s key %s", ErrCounterOverflow, productID, key)
	}
	if err == nil {
		entry.Success++
	} else {
		entry.Failed++
	}
	success, failed := entry.Success, entry.Failed
	l.mu.Unlock()

	if err != nil {
		l.errs.Error("review failed",
			slog.String("product_id", productID),
			slog.String("key", key),
			slog.String("reason", reasonOf(err)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	l.lifecycle.Info("review saved",
		slog.String("product_id", productID),
		slog.String("key", key),
		slog.Int("total_success", success),
		slog.Int("total_failed", failed),
	)
	return nil
}

// Finish marks a product done once every review outcome is counted.
func (l *RunLog) Finish(productID string) models.RunLogEntry {
	l.mu.Lock()
	entry := l.entry(productID)
	entry.Status = models.StatusDone
	entry.FinishedAt = l.now()
	snapshot := *entry
	l.mu.Unlock()

	l.lifecycle.Info("product done",
		slog.String("product_id", productID),
		slog.String("title", snapshot.Title),
		slog.Int("total_data", snapshot.Total),
		slog.Int("total_success", snapshot.Success),
		slog.Int("total_failed", snapshot.Failed),
		slog.Duration("elapsed", snapshot.FinishedAt.Sub(snapshot.StartedAt)),
	)
	return snapshot
}

// Skip records a product that produced no records. It stays pending.
func (l *RunLog) Skip(productID string, err error) {
	l.mu.Lock()
	entry := l.entry(productID)
	entry.Error = err.Error()
	entry.FinishedAt = l.now()
	l.mu.Unlock()

	l.errs.Error("product skipped",
		slog.String("product_id", productID),
		slog.String("reason", reasonOf(err)),
		slog.String("error", err.Error()),
	)
}

// Fail logs an error that is not counted against the review totals, such as
// a failed detail record.
func (l *RunLog) Fail(productID, key string, err error) {
	l.errs.Error("record failed",
		slog.String("product_id", productID),
		slog.String("key", key),
		slog.String("reason", reasonOf(err)),
		slog.String("error", err.Error()),
	)
}

// Entry returns a copy of the entry for productID.
func (l *RunLog) Entry(productID string) (models.RunLogEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[productID]
	if !ok {
		return models.RunLogEntry{}, false
	}
	return *entry, true
}

// Entries returns copies of all entries ordered by product id.
func (l *RunLog) Entries() []models.RunLogEntry {
	l.mu.Lock()
	out := make([]models.RunLogEntry, 0, len(l.entries))
	for _, entry := range l.entries {
		out = append(out, *entry)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// entry must be called with mu held.
func (l *RunLog) entry(productID string) *models.RunLogEntry {
	entry, ok := l.entries[productID]
	if !ok {
		entry = &models.RunLogEntry{ProductID: productID, Status: models.StatusPending, StartedAt: l.now()}
		l.entries[productID] = entry
	}
	return entry
}

// reasonOf maps an error to a short tag for the error stream.
func reasonOf(err error) string {
	var tagged interface{ Reason() string }
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &tagged):
		return tagged.Reason()
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	default:
		return "unknown"
	}
}
