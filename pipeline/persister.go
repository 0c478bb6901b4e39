package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aluiziolira/go-scrape-reviews/models"
	"github.com/aluiziolira/go-scrape-reviews/parser"
)

// PersistenceError reports a destination that rejected a record.
type PersistenceError struct {
	Tier string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s (%s): %v", e.Path, e.Tier, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Reason is the run-log tag for this failure.
func (e *PersistenceError) Reason() string {
	return "persistence"
}

// Destination is the outcome of writing one record to one tier.
type Destination struct {
	Tier string
	Path string
	Err  error
}

// PersistResult collects the per-destination outcomes of one record.
type PersistResult struct {
	Key          string
	Destinations []Destination
}

// OK reports whether every destination succeeded.
func (r PersistResult) OK() bool {
	return r.Err() == nil
}

// Err joins the failures of all destinations, or returns nil.
func (r PersistResult) Err() error {
	var errs []error
	for _, d := range r.Destinations {
		if d.Err != nil {
			errs = append(errs, d.Err)
		}
	}
	return errors.Join(errs...)
}

// DualPersister writes every record to its raw and clean paths.
type DualPersister struct {
	store Store
}

// NewDualPersister persists through store.
func NewDualPersister(store Store) *DualPersister {
	return &DualPersister{store: store}
}

// Persist serializes rec once and writes identical bytes to both tiers.
// Each destination succeeds or fails on its own.
func (p *DualPersister) Persist(ctx context.Context, rec *models.Record) PersistResult {
	result := PersistResult{Key: rec.Key}
	targets := []Destination{
		{Tier: parser.TierRaw, Path: rec.RawPath},
		{Tier: parser.TierClean, Path: rec.CleanPath},
	}

	data, encErr := Encode(rec)
	for _, dest := range targets {
		switch {
		case encErr != nil:
			dest.Err = &PersistenceError{Tier: dest.Tier, Path: dest.Path, Err: encErr}
		case dest.Path == "":
			dest.Err = &PersistenceError{Tier: dest.Tier, Err: errors.New("record has no path for tier")}
		default:
			if err := p.store.Put(ctx, dest.Path, data); err != nil {
				dest.Err = &PersistenceError{Tier: dest.Tier, Path: dest.Path, Err: err}
			}
		}
		result.Destinations = append(result.Destinations, dest)
	}
	return result
}

// Encode renders a record as 2-space indented UTF-8 JSON.
func Encode(rec *models.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("encode record %s: %w", rec.Key, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
