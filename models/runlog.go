package models

import "time"

// Status is the lifecycle state of a product within a run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
)

// RunLogEntry tracks persistence outcomes for the reviews of one product.
// Success+Failed never exceeds Total, and equals it once Status is done.
type RunLogEntry struct {
	ProductID  string    `json:"product_id"`
	Title      string    `json:"title,omitempty"`
	Total      int       `json:"total_data"`
	Success    int       `json:"total_success"`
	Failed     int       `json:"total_failed"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// RunResult holds the overall result of a harvest run.
type RunResult struct {
	StartTime          time.Time
	EndTime            time.Time
	ProductsDiscovered int
	ErrorCount         int
	ErrorsByType       map[string]int
	RetryCount         int
	RequestCount       int
	PageCount          int
}
