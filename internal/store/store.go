package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobingest/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrRunFinalized is returned when finishing an ImportRun that already left running.
var ErrRunFinalized = errors.New("import run already finalized")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	// FindJob looks a posting up by its dedup key.
	FindJob(ctx context.Context, sourceFeed, externalGUID string) (*models.Job, error)
	// InsertJob returns ErrDuplicateKey when (SourceFeed, ExternalGUID) already exists.
	InsertJob(ctx context.Context, job *models.Job) error
	UpdateJob(ctx context.Context, job *models.Job) error

	CreateImportRun(ctx context.Context, run *models.ImportRun) error
	GetImportRun(ctx context.Context, id uuid.UUID) (*models.ImportRun, error)
	SetImportRunTask(ctx context.Context, id uuid.UUID, taskID string) error
	FinishImportRun(ctx context.Context, id uuid.UUID, result models.RunResult) (*models.ImportRun, error)
	ListImportRuns(ctx context.Context, filter RunFilter) ([]*models.ImportRun, int, error)
}

type RunFilter struct {
	ImportID uuid.UUID
	FeedURL  string
	Status   string
	Since    time.Time
	Page     int
	Limit    int
}
