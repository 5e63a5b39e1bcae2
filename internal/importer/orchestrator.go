package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobingest/internal/cache"
	"github.com/kiranshivaraju/jobingest/internal/config"
	"github.com/kiranshivaraju/jobingest/internal/feed"
	"github.com/kiranshivaraju/jobingest/internal/notify"
	"github.com/kiranshivaraju/jobingest/internal/queue"
	"github.com/kiranshivaraju/jobingest/internal/store"
	"github.com/kiranshivaraju/jobingest/pkg/models"
)

// ErrBusy is returned when an import is requested while another is running.
var ErrBusy = errors.New("an import is already running")

const summaryTTL = 7 * 24 * time.Hour

// Outcome of one source within an orchestrated import.
const (
	SourceQueued    = "queued"
	SourceCompleted = "completed"
	SourceFailed    = "failed"
)

// Fetcher retrieves a raw feed payload.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL, name string) (*feed.RawPayload, error)
}

// Normalizer maps parsed items to jobs, reporting per-item failures.
type Normalizer interface {
	NormalizeBatch(items []feed.Item, feedURL, feedName string) ([]*models.Job, []models.FailedItem)
}

// Queue is the subset of the work queue the orchestrator uses.
type Queue interface {
	Enqueue(ctx context.Context, queueName, taskType string, payload any, opts queue.EnqueueOptions) (string, error)
	Stats(ctx context.Context, queueName string) queue.Stats
}

// Config wires an Orchestrator. Cache and Notifier are optional.
type Config struct {
	Sources    []config.FeedSource
	QueueName  string
	Fetcher    Fetcher
	Normalizer Normalizer
	Store      store.Store
	Queue      Queue
	Cache      cache.Cache
	Notifier   notify.Notifier
}

// Status is the orchestrator's current state.
type Status struct {
	IsRunning       bool       `json:"is_running"`
	CurrentImportID *uuid.UUID `json:"current_import_id"`
}

// SourceResult reports what happened to one feed source.
type SourceResult struct {
	FeedName   string     `json:"feed_name"`
	FeedURL    string     `json:"feed_url"`
	Status     string     `json:"status"`
	RunID      *uuid.UUID `json:"run_id,omitempty"`
	TaskID     string     `json:"task_id,omitempty"`
	ParseMode  string     `json:"parse_mode,omitempty"`
	Fetched    int        `json:"fetched"`
	Queued     int        `json:"queued"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
	DurationMs int64      `json:"duration_ms"`
}

// Summary is the aggregate result of one orchestrated import.
type Summary struct {
	ImportID   uuid.UUID      `json:"import_id"`
	Status     string         `json:"status"`
	TotalFeeds int            `json:"total_feeds"`
	Results    []SourceResult `json:"results"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Orchestrator runs one import pass at a time over every configured source:
// fetch, parse, normalize, record an ImportRun and enqueue the batch.
type Orchestrator struct {
	cfg Config

	mu        sync.Mutex
	running   bool
	currentID uuid.UUID
	idle      chan struct{} // closed when the current import finishes
	last      *Summary
}

func New(cfg Config) *Orchestrator {
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	return &Orchestrator{cfg: cfg}
}

// Run performs a full import and returns its summary. It fails fast with
// ErrBusy when another import is running.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	id, err := o.claim()
	if err != nil {
		return nil, err
	}
	return o.run(ctx, id), nil
}

// Start claims the orchestrator and runs the import in the background,
// returning the new import id immediately.
func (o *Orchestrator) Start(ctx context.Context) (uuid.UUID, error) {
	id, err := o.claim()
	if err != nil {
		return uuid.Nil, err
	}
	go o.run(context.WithoutCancel(ctx), id)
	return id, nil
}

// Status never fails.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Status{IsRunning: o.running}
	if o.running {
		id := o.currentID
		s.CurrentImportID = &id
	}
	return s
}

// IsRunning reports whether an import is in progress.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Wait blocks until no import is running or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	idle := o.idle
	o.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueStats reports the batch queue counts; it degrades to zeros instead of failing.
func (o *Orchestrator) QueueStats(ctx context.Context) queue.Stats {
	return o.cfg.Queue.Stats(ctx, o.cfg.QueueName)
}

// LastSummary returns the most recent finished import, from memory or the cache.
func (o *Orchestrator) LastSummary(ctx context.Context) (*Summary, bool) {
	o.mu.Lock()
	last := o.last
	o.mu.Unlock()
	if last != nil {
		return last, true
	}
	if o.cfg.Cache == nil {
		return nil, false
	}
	var s Summary
	found, err := o.cfg.Cache.GetJSON(ctx, cache.LastImportKey, &s)
	if err != nil {
		slog.Warn("reading cached import summary", "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	return &s, true
}

// Summary returns a finished import by id. Summaries are kept in the cache only.
func (o *Orchestrator) Summary(ctx context.Context, importID uuid.UUID) (*Summary, bool) {
	o.mu.Lock()
	last := o.last
	o.mu.Unlock()
	if last != nil && last.ImportID == importID {
		return last, true
	}
	if o.cfg.Cache == nil {
		return nil, false
	}
	var s Summary
	found, err := o.cfg.Cache.GetJSON(ctx, cache.ImportSummaryKey(importID), &s)
	if err != nil {
		slog.Warn("reading cached import summary", "import_id", importID, "error", err)
		return nil, false
	}
	return &s, found
}

func (o *Orchestrator) claim() (uuid.UUID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return uuid.Nil, ErrBusy
	}
	o.running = true
	o.currentID = uuid.New()
	o.idle = make(chan struct{})
	return o.currentID, nil
}

func (o *Orchestrator) release(s *Summary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = false
	o.currentID = uuid.Nil
	close(o.idle)
	if s != nil {
		o.last = s
	}
}

func (o *Orchestrator) run(ctx context.Context, importID uuid.UUID) (summary *Summary) {
	total := len(o.cfg.Sources)
	summary = &Summary{
		ImportID:   importID,
		Status:     models.RunStatusRunning,
		TotalFeeds: total,
		Results:    make([]SourceResult, 0, total),
		StartedAt:  time.Now().UTC(),
	}
	log := slog.With("import_id", importID)

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("import panicked: %v", r)
			log.Error("import aborted", "error", msg)
			summary.Status = models.RunStatusFailed
			summary.Error = msg
			o.cfg.Notifier.Publish(notify.New(notify.TypeImportError, map[string]any{
				"importId": importID,
				"message":  msg,
			}))
		}
		summary.FinishedAt = time.Now().UTC()
		o.cacheSummary(summary)
		o.release(summary)
	}()

	log.Info("import started", "feeds", total)
	o.cfg.Notifier.Publish(notify.New(notify.TypeImportStarted, map[string]any{"importId": importID}))

	failed := 0
	for i, src := range o.cfg.Sources {
		o.cfg.Notifier.Publish(notify.New(notify.TypeImportProgress, map[string]any{
			"importId":    importID,
			"currentFeed": i + 1,
			"totalFeeds":  total,
			"feedName":    src.Name,
		}))

		res := o.importSource(ctx, importID, src)
		if res.Status == SourceFailed {
			failed++
		}
		summary.Results = append(summary.Results, res)
	}

	summary.Status = models.RunStatusCompleted
	if total > 0 && failed == total {
		summary.Status = models.RunStatusFailed
		summary.Error = "every feed source failed"
	}

	log.Info("import finished", "status", summary.Status, "feeds", total, "failed_feeds", failed)
	o.cfg.Notifier.Publish(notify.New(notify.TypeImportCompleted, map[string]any{
		"importId":   importID,
		"totalFeeds": total,
		"results":    summary.Results,
	}))
	return summary
}

// importSource handles one feed. Every failure is contained in the returned
// result; a source never aborts the pass.
func (o *Orchestrator) importSource(ctx context.Context, importID uuid.UUID, src config.FeedSource) (res SourceResult) {
	start := time.Now()
	res = SourceResult{FeedName: src.Name, FeedURL: src.URL}
	log := slog.With("import_id", importID, "feed", src.Name, "url", src.URL)
	enqueued := false
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("feed import panicked: %v", r)
			log.Error("feed source aborted", "error", msg)
			if enqueued {
				res.Status = SourceQueued
			} else {
				if res.RunID != nil {
					o.failRun(ctx, *res.RunID, msg)
				}
				res.Status = SourceFailed
				res.Error = msg
			}
		}
		res.DurationMs = time.Since(start).Milliseconds()
	}()

	items, mode, err := o.fetchAndParse(ctx, src)
	if err != nil {
		log.Warn("feed source failed", "error", err)
		res.Status = SourceFailed
		res.Error = err.Error()
		if runID, ok := o.recordFailedRun(ctx, importID, src, err); ok {
			res.RunID = &runID
		}
		return res
	}
	res.ParseMode = string(mode)
	res.Fetched = len(items)

	jobs, failedItems := o.cfg.Normalizer.NormalizeBatch(items, src.URL, src.Name)
	res.Queued = len(jobs)
	res.Failed = len(failedItems)

	run := &models.ImportRun{
		ImportID:  importID,
		FeedURL:   src.URL,
		FeedName:  src.Name,
		Status:    models.RunStatusRunning,
		ParseMode: string(mode),
		Fetched:   len(items),
	}
	if err := o.cfg.Store.CreateImportRun(ctx, run); err != nil {
		log.Error("creating import run", "error", err)
		res.Status = SourceFailed
		res.Error = fmt.Sprintf("create import run: %v", err)
		return res
	}
	runID := run.ID
	res.RunID = &runID

	if len(jobs) == 0 {
		status := runStatus(0, len(failedItems))
		if _, err := o.cfg.Store.FinishImportRun(ctx, run.ID, models.RunResult{Status: status, Failed: failedItems}); err != nil {
			log.Error("finalizing empty import run", "error", err)
		}
		res.Status = SourceCompleted
		if status == models.RunStatusFailed {
			res.Status = SourceFailed
			res.Error = "no item could be normalized"
		}
		log.Info("feed had nothing to enqueue", "items", len(items), "failed", len(failedItems))
		return res
	}

	taskID, err := o.cfg.Queue.Enqueue(ctx, o.cfg.QueueName, TaskTypeBatch, BatchPayload{
		ImportID: importID,
		RunID:    run.ID,
		FeedURL:  src.URL,
		FeedName: src.Name,
		Fetched:  len(items),
		Jobs:     jobs,
		Failed:   failedItems,
	}, queue.EnqueueOptions{TaskID: run.ID.String()})
	if err != nil {
		log.Error("enqueue failed", "run_id", run.ID, "error", err)
		if _, ferr := o.cfg.Store.FinishImportRun(ctx, run.ID, models.RunResult{
			Status: models.RunStatusFailed,
			Failed: failedItems,
			Error:  err.Error(),
		}); ferr != nil {
			log.Error("marking import run failed", "run_id", run.ID, "error", ferr)
		}
		res.Status = SourceFailed
		res.Error = err.Error()
		return res
	}
	enqueued = true

	if err := o.cfg.Store.SetImportRunTask(ctx, run.ID, taskID); err != nil {
		log.Warn("recording task id on import run", "run_id", run.ID, "task_id", taskID, "error", err)
	}
	res.Status = SourceQueued
	res.TaskID = taskID
	log.Info("feed batch queued", "run_id", run.ID, "task_id", taskID, "jobs", len(jobs), "failed", len(failedItems), "mode", mode)
	return res
}

func (o *Orchestrator) fetchAndParse(ctx context.Context, src config.FeedSource) ([]feed.Item, feed.ParseMode, error) {
	payload, err := o.cfg.Fetcher.Fetch(ctx, src.URL, src.Name)
	if err != nil {
		return nil, "", err
	}
	parsed, err := feed.Parse(payload.Body)
	if err != nil {
		return nil, "", fmt.Errorf("parse %s: %w", src.Name, err)
	}
	return parsed.Items, parsed.Mode, nil
}

// recordFailedRun writes a terminal ImportRun for a source that never
// produced a batch, so fetch and parse failures appear in the audit log.
func (o *Orchestrator) recordFailedRun(ctx context.Context, importID uuid.UUID, src config.FeedSource, cause error) (uuid.UUID, bool) {
	run := &models.ImportRun{
		ImportID: importID,
		FeedURL:  src.URL,
		FeedName: src.Name,
		Status:   models.RunStatusRunning,
	}
	if err := o.cfg.Store.CreateImportRun(ctx, run); err != nil {
		slog.Error("recording failed feed", "feed", src.Name, "error", err)
		return uuid.Nil, false
	}
	if _, err := o.cfg.Store.FinishImportRun(ctx, run.ID, models.RunResult{
		Status: models.RunStatusFailed,
		Error:  cause.Error(),
	}); err != nil {
		slog.Error("finalizing failed feed run", "feed", src.Name, "error", err)
	}
	return run.ID, true
}

// failRun finalizes a run left open by an aborted source. A run that already
// reached a terminal status is left alone.
func (o *Orchestrator) failRun(ctx context.Context, id uuid.UUID, msg string) {
	_, err := o.cfg.Store.FinishImportRun(ctx, id, models.RunResult{Status: models.RunStatusFailed, Error: msg})
	if err != nil && !errors.Is(err, store.ErrRunFinalized) {
		slog.Error("marking import run failed", "run_id", id, "error", err)
	}
}

func (o *Orchestrator) cacheSummary(s *Summary) {
	if o.cfg.Cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.cfg.Cache.SetJSON(ctx, cache.LastImportKey, s, summaryTTL); err != nil {
		slog.Warn("caching import summary", "import_id", s.ImportID, "error", err)
	}
	if err := o.cfg.Cache.SetJSON(ctx, cache.ImportSummaryKey(s.ImportID), s, summaryTTL); err != nil {
		slog.Warn("caching import summary", "import_id", s.ImportID, "error", err)
	}
}
