package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/kiranshivaraju/jobingest/internal/store"
	"github.com/kiranshivaraju/jobingest/pkg/models"
)

// TaskTypeBatch is the queue task carrying one feed's normalized jobs.
const TaskTypeBatch = "import:batch"

// BatchPayload is the body of an import:batch task. Failed holds the items
// that did not survive normalization so the worker can report them on the run.
type BatchPayload struct {
	ImportID uuid.UUID           `json:"import_id"`
	RunID    uuid.UUID           `json:"run_id"`
	FeedURL  string              `json:"feed_url"`
	FeedName string              `json:"feed_name"`
	Fetched  int                 `json:"fetched"`
	Jobs     []*models.Job       `json:"jobs"`
	Failed   []models.FailedItem `json:"failed,omitempty"`
}

type upsertOutcome int

const (
	outcomeInserted upsertOutcome = iota
	outcomeUpdated
)

// Processor is the queue worker that writes batches into the job store and
// finalizes their ImportRun. Re-delivery of a batch whose run is already
// terminal is acknowledged without doing any work.
type Processor struct {
	store store.Store
}

func NewProcessor(s store.Store) *Processor {
	return &Processor{store: s}
}

// ProcessTask implements asynq.Handler.
func (p *Processor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload BatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode batch payload: %v: %w", err, asynq.SkipRetry)
	}
	return p.ProcessBatch(ctx, &payload)
}

// ProcessBatch upserts every job in the batch and writes the final counts.
func (p *Processor) ProcessBatch(ctx context.Context, b *BatchPayload) error {
	log := slog.With("import_id", b.ImportID, "run_id", b.RunID, "feed", b.FeedName)

	run, err := p.store.GetImportRun(ctx, b.RunID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("import run %s not found: %w", b.RunID, asynq.SkipRetry)
	}
	if err != nil {
		return fmt.Errorf("load import run: %w", err)
	}
	if run.IsTerminal() {
		log.Info("import run already finalized, skipping batch", "status", run.Status)
		return nil
	}

	result := models.RunResult{Failed: make([]models.FailedItem, 0, len(b.Failed))}
	result.Failed = append(result.Failed, b.Failed...)

	for _, job := range b.Jobs {
		if job == nil {
			continue
		}
		outcome, err := p.upsert(ctx, job)
		if err != nil {
			log.Warn("job upsert failed", "guid", job.ExternalGUID, "error", err)
			result.Failed = append(result.Failed, models.FailedItem{
				GUID:   job.ExternalGUID,
				Title:  job.Title,
				Reason: err.Error(),
			})
			continue
		}
		switch outcome {
		case outcomeInserted:
			result.NewInserted++
		case outcomeUpdated:
			result.Updated++
		}
	}

	result.Imported = result.NewInserted + result.Updated
	result.Status = runStatus(result.Imported, len(result.Failed))

	finished, err := p.store.FinishImportRun(ctx, b.RunID, result)
	if errors.Is(err, store.ErrRunFinalized) {
		log.Info("import run finalized concurrently")
		return nil
	}
	if err != nil {
		return fmt.Errorf("finish import run: %w", err)
	}

	log.Info("batch imported",
		"status", finished.Status,
		"imported", finished.Imported,
		"new", finished.NewInserted,
		"updated", finished.Updated,
		"failed", finished.FailedCount,
		"duration_ms", finished.DurationMs,
	)
	return nil
}

// upsert writes job by its (SourceFeed, ExternalGUID) key. Losing an insert
// race to another worker is resolved as an update.
func (p *Processor) upsert(ctx context.Context, job *models.Job) (upsertOutcome, error) {
	existing, err := p.store.FindJob(ctx, job.SourceFeed, job.ExternalGUID)
	switch {
	case err == nil:
		return outcomeUpdated, p.merge(ctx, existing, job)
	case !errors.Is(err, store.ErrNotFound):
		return 0, err
	}

	fresh := *job
	if fresh.ID == uuid.Nil {
		fresh.ID = uuid.New()
	}
	fresh.Status = models.JobStatusActive
	fresh.Views, fresh.Applications = 0, 0

	err = p.store.InsertJob(ctx, &fresh)
	if err == nil {
		return outcomeInserted, nil
	}
	if !errors.Is(err, store.ErrDuplicateKey) {
		return 0, err
	}

	existing, err = p.store.FindJob(ctx, job.SourceFeed, job.ExternalGUID)
	if err != nil {
		return 0, fmt.Errorf("re-read after duplicate key: %w", err)
	}
	return outcomeUpdated, p.merge(ctx, existing, job)
}

func (p *Processor) merge(ctx context.Context, existing, incoming *models.Job) error {
	existing.Merge(incoming)
	return p.store.UpdateJob(ctx, existing)
}

func runStatus(imported, failed int) string {
	switch {
	case failed == 0:
		return models.RunStatusCompleted
	case imported == 0:
		return models.RunStatusFailed
	default:
		return models.RunStatusPartial
	}
}
