package models

import (
	"errors"
	"time"
)

// RunStatus is the terminal state of a processing run as stored in the catalog.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunSuccess     RunStatus = "success"
	RunInterrupted RunStatus = "interrupted"
	RunFailed      RunStatus = "failed"
)

// Run represents one invocation of the processing pipeline
type Run struct {
	ID             int64
	RunID          string // UUID
	SourcePath     string
	SourceSize     int64
	OutputDir      string
	ProgressMode   string
	StartedAt      time.Time
	FinishedAt     time.Time
	Status         RunStatus
	ElementsRead   int
	RecordsRouted  int
	RecordsSkipped int
	ErrorMessage   string
	Categories     []CategoryCount
	Counts         []TypeCount
}

// CategoryCount is the number of rows a run appended to one table.
type CategoryCount struct {
	Category Category
	Rows     int
}

// TypeCount mirrors one record_counts entry of the run metadata.
type TypeCount struct {
	Key     string
	Count   int
	MinDate time.Time
	MaxDate time.Time
}

// Validate checks if the run has required fields
func (r *Run) Validate() error {
	if r.RunID == "" {
		return errors.New("run_id is required")
	}
	if r.SourcePath == "" {
		return errors.New("source_path is required")
	}
	switch r.Status {
	case RunRunning, RunSuccess, RunInterrupted, RunFailed:
	default:
		return errors.New("invalid status: " + string(r.Status))
	}
	return nil
}

// Duration returns the wall time of a finished run, or zero while running.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
