package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusPartial   = "partial"
)

const (
	ParseModeStructured = "structured"
	ParseModeFallback   = "fallback"
)

// FailedItem records why a single feed item was not imported.
type FailedItem struct {
	GUID   string `json:"guid,omitempty"`
	Title  string `json:"title,omitempty"`
	Reason string `json:"reason"`
}

// ImportRun is the audit entry for one feed source during one orchestrated pass.
// Counts satisfy Imported = NewInserted + Updated and Imported + FailedCount <= Fetched.
type ImportRun struct {
	ID          uuid.UUID    `db:"id"           json:"id"`
	ImportID    uuid.UUID    `db:"import_id"    json:"import_id"`
	FeedURL     string       `db:"feed_url"     json:"feed_url"`
	FeedName    string       `db:"feed_name"    json:"feed_name"`
	Status      string       `db:"status"       json:"status"`
	ParseMode   string       `db:"parse_mode"   json:"parse_mode"`
	Fetched     int          `db:"fetched"      json:"fetched"`
	Imported    int          `db:"imported"     json:"imported"`
	NewInserted int          `db:"new_inserted" json:"new_inserted"`
	Updated     int          `db:"updated"      json:"updated"`
	FailedCount int          `db:"failed_count" json:"failed_count"`
	Failed      []FailedItem `db:"failed_jobs"  json:"failed_jobs"`
	DurationMs  int64        `db:"duration_ms"  json:"duration_ms"`
	Error       *string      `db:"error"        json:"error,omitempty"`
	TaskID      *string      `db:"task_id"      json:"task_id,omitempty"`
	StartedAt   time.Time    `db:"started_at"   json:"started_at"`
	FinishedAt  *time.Time   `db:"finished_at"  json:"finished_at,omitempty"`
}

// IsTerminal reports whether the run has left the running state.
func (r *ImportRun) IsTerminal() bool {
	return r.Status != RunStatusRunning
}

// RunResult carries the final counts a worker writes onto an ImportRun.
type RunResult struct {
	Status      string
	Imported    int
	NewInserted int
	Updated     int
	Failed      []FailedItem
	Error       string
}
