package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/jobingest/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Jobs ---

const jobColumns = `id, title, company, location, description, salary, requirements, employment_type,
	remote_mode, is_remote, application_url, application_email, source_feed, source_name,
	external_guid, guid_synthesized, published_at, status, views, applications, tags, raw,
	last_seen_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.Title, &j.Company, &j.Location, &j.Description, &j.Salary,
		&j.Requirements, &j.EmploymentType, &j.RemoteMode, &j.IsRemote, &j.ApplicationURL,
		&j.ApplicationEmail, &j.SourceFeed, &j.SourceName, &j.ExternalGUID, &j.GUIDSynthesized,
		&j.PublishedAt, &j.Status, &j.Views, &j.Applications, &j.Tags, &j.Raw,
		&j.LastSeenAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) FindJob(ctx context.Context, sourceFeed, externalGUID string) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE source_feed = $1 AND external_guid = $2`,
		sourceFeed, externalGUID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) InsertJob(ctx context.Context, job *models.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO jobs (id, title, company, location, description, salary, requirements,
		   employment_type, remote_mode, is_remote, application_url, application_email,
		   source_feed, source_name, external_guid, guid_synthesized, published_at, status,
		   views, applications, tags, raw, last_seen_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
		   $19, $20, $21, $22, NOW(), NOW(), NOW())
		 RETURNING last_seen_at, created_at, updated_at`,
		job.ID, job.Title, job.Company, job.Location, job.Description, job.Salary, job.Requirements,
		job.EmploymentType, job.RemoteMode, job.IsRemote, job.ApplicationURL, job.ApplicationEmail,
		job.SourceFeed, job.SourceName, job.ExternalGUID, job.GUIDSynthesized, job.PublishedAt,
		jobStatus(job.Status), job.Views, job.Applications, nonNilStrings(job.Tags), rawJSON(job.Raw),
	).Scan(&job.LastSeenAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJob overwrites the mutable columns of an existing row. The dedup key
// and engagement counters are never written.
func (s *PostgresStore) UpdateJob(ctx context.Context, job *models.Job) error {
	err := s.pool.QueryRow(ctx,
		`UPDATE jobs SET
		   title = $2, company = $3, location = $4, description = $5, salary = $6,
		   requirements = $7, employment_type = $8, remote_mode = $9, is_remote = $10,
		   application_url = $11, application_email = $12, source_name = $13,
		   published_at = $14, status = $15, tags = $16, raw = $17,
		   last_seen_at = NOW(), updated_at = NOW()
		 WHERE id = $1
		 RETURNING last_seen_at, updated_at`,
		job.ID, job.Title, job.Company, job.Location, job.Description, job.Salary,
		job.Requirements, job.EmploymentType, job.RemoteMode, job.IsRemote,
		job.ApplicationURL, job.ApplicationEmail, job.SourceName,
		job.PublishedAt, jobStatus(job.Status), nonNilStrings(job.Tags), rawJSON(job.Raw),
	).Scan(&job.LastSeenAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// --- Import runs ---

const runColumns = `id, import_id, feed_url, feed_name, status, parse_mode, fetched, imported,
	new_inserted, updated, failed_count, failed_jobs, duration_ms, error, task_id, started_at, finished_at`

func scanRun(row pgx.Row) (*models.ImportRun, error) {
	var r models.ImportRun
	err := row.Scan(&r.ID, &r.ImportID, &r.FeedURL, &r.FeedName, &r.Status, &r.ParseMode,
		&r.Fetched, &r.Imported, &r.NewInserted, &r.Updated, &r.FailedCount, &r.Failed,
		&r.DurationMs, &r.Error, &r.TaskID, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}
	if r.Failed == nil {
		r.Failed = []models.FailedItem{}
	}
	return &r, nil
}

func (s *PostgresStore) CreateImportRun(ctx context.Context, run *models.ImportRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}
	if run.ParseMode == "" {
		run.ParseMode = models.ParseModeStructured
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO import_runs (id, import_id, feed_url, feed_name, status, parse_mode, fetched, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		 RETURNING started_at`,
		run.ID, run.ImportID, run.FeedURL, run.FeedName, run.Status, run.ParseMode, run.Fetched,
	).Scan(&run.StartedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create import run: %w", err)
	}
	if run.Failed == nil {
		run.Failed = []models.FailedItem{}
	}
	return nil
}

func (s *PostgresStore) GetImportRun(ctx context.Context, id uuid.UUID) (*models.ImportRun, error) {
	r, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM import_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get import run: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) SetImportRunTask(ctx context.Context, id uuid.UUID, taskID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE import_runs SET task_id = $2 WHERE id = $1`, id, taskID)
	if err != nil {
		return fmt.Errorf("set import run task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishImportRun moves a running run to its terminal status with final counts.
// Runs that already left running are not modified and yield ErrRunFinalized.
func (s *PostgresStore) FinishImportRun(ctx context.Context, id uuid.UUID, result models.RunResult) (*models.ImportRun, error) {
	failed := result.Failed
	if failed == nil {
		failed = []models.FailedItem{}
	}
	var errMsg *string
	if result.Error != "" {
		errMsg = &result.Error
	}

	r, err := scanRun(s.pool.QueryRow(ctx,
		`UPDATE import_runs SET
		   status = $2, imported = $3, new_inserted = $4, updated = $5,
		   failed_count = $6, failed_jobs = $7, error = $8,
		   finished_at = NOW(),
		   duration_ms = (EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000)::BIGINT
		 WHERE id = $1 AND status = 'running'
		 RETURNING `+runColumns,
		id, result.Status, result.Imported, result.NewInserted, result.Updated,
		len(failed), failed, errMsg))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetImportRun(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrRunFinalized
	}
	if err != nil {
		return nil, fmt.Errorf("finish import run: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListImportRuns(ctx context.Context, filter RunFilter) ([]*models.ImportRun, int, error) {
	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if filter.ImportID != uuid.Nil {
		conditions = append(conditions, fmt.Sprintf("import_id = $%d", argIdx))
		args = append(args, filter.ImportID)
		argIdx++
	}
	if filter.FeedURL != "" {
		conditions = append(conditions, fmt.Sprintf("feed_url = $%d", argIdx))
		args = append(args, filter.FeedURL)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, fmt.Sprintf("started_at >= $%d", argIdx))
		args = append(args, filter.Since)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM import_runs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count import runs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM import_runs WHERE %s ORDER BY started_at DESC, id LIMIT $%d OFFSET $%d`,
		runColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list import runs: %w", err)
	}
	defer rows.Close()

	runs := []*models.ImportRun{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan import run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, total, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

func jobStatus(s string) string {
	if s == "" {
		return models.JobStatusActive
	}
	return s
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// rawJSON maps an empty raw payload to SQL NULL.
func rawJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
