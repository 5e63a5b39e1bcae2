package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobingest/internal/api/response"
	"github.com/kiranshivaraju/jobingest/internal/importer"
	"github.com/kiranshivaraju/jobingest/internal/queue"
	"github.com/kiranshivaraju/jobingest/internal/store"
	"github.com/kiranshivaraju/jobingest/pkg/models"
)

// ImportService defines the orchestrator operations the handlers depend on.
type ImportService interface {
	Start(ctx context.Context) (uuid.UUID, error)
	Status() importer.Status
	LastSummary(ctx context.Context) (*importer.Summary, bool)
	Summary(ctx context.Context, importID uuid.UUID) (*importer.Summary, bool)
	QueueStats(ctx context.Context) queue.Stats
}

// RunLister reads the import audit log.
type RunLister interface {
	ListImportRuns(ctx context.Context, filter store.RunFilter) ([]*models.ImportRun, int, error)
}

// NewTriggerImportHandler returns an http.HandlerFunc for POST /api/v1/imports.
// The import runs in the background; the caller only learns whether it was accepted.
func NewTriggerImportHandler(svc ImportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := svc.Start(r.Context())
		if errors.Is(err, importer.ErrBusy) {
			var details any
			if st := svc.Status(); st.CurrentImportID != nil {
				details = map[string]string{"current_import_id": st.CurrentImportID.String()}
			}
			response.Error(w, http.StatusConflict, "IMPORT_BUSY", "An import is already running", details)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}
		response.Accepted(w, map[string]any{"import_id": id, "status": "accepted"})
	}
}

// NewImportStatusHandler returns an http.HandlerFunc for GET /api/v1/imports/status.
func NewImportStatusHandler(svc ImportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, svc.Status())
	}
}

// NewLastImportHandler returns an http.HandlerFunc for GET /api/v1/imports/last.
func NewLastImportHandler(svc ImportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := svc.LastSummary(r.Context())
		if !ok {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "No import has finished yet", nil)
			return
		}
		response.JSON(w, s)
	}
}

// NewGetImportHandler returns an http.HandlerFunc for GET /api/v1/imports/{importID}.
func NewGetImportHandler(svc ImportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "importID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "importID must be a UUID", nil)
			return
		}
		s, ok := svc.Summary(r.Context(), id)
		if !ok {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Import summary not found", nil)
			return
		}
		response.JSON(w, s)
	}
}

var runStatuses = map[string]bool{
	models.RunStatusRunning:   true,
	models.RunStatusCompleted: true,
	models.RunStatusFailed:    true,
	models.RunStatusPartial:   true,
}

// NewListRunsHandler returns an http.HandlerFunc for GET /api/v1/imports/runs.
func NewListRunsHandler(runs RunLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.RunFilter{
			FeedURL: q.Get("feed_url"),
			Status:  q.Get("status"),
			Page:    1,
			Limit:   20,
		}
		errs := map[string][]string{}

		if v := q.Get("import_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				errs["import_id"] = append(errs["import_id"], "import_id must be a UUID")
			}
			filter.ImportID = id
		}
		if filter.Status != "" && !runStatuses[filter.Status] {
			errs["status"] = append(errs["status"], "status must be one of running, completed, failed, partial")
		}
		if v := q.Get("since"); v != "" {
			since, err := time.Parse(time.RFC3339, v)
			if err != nil {
				errs["since"] = append(errs["since"], "since must be a valid RFC3339 timestamp")
			}
			filter.Since = since
		}
		if v := q.Get("page"); v != "" {
			page, err := strconv.Atoi(v)
			if err != nil || page < 1 {
				errs["page"] = append(errs["page"], "page must be a positive integer")
			}
			filter.Page = page
		}
		if v := q.Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit < 1 || limit > 100 {
				errs["limit"] = append(errs["limit"], "limit must be between 1 and 100")
			}
			filter.Limit = limit
		}
		if len(errs) > 0 {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid query parameters", errs)
			return
		}

		items, total, err := runs.ListImportRuns(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}
		response.Collection(w, items, response.NewMeta(filter.Page, filter.Limit, total))
	}
}

// NewQueueStatsHandler returns an http.HandlerFunc for GET /api/v1/queue/stats.
// It always answers 200; an unreachable broker reports zeros with available=false.
func NewQueueStatsHandler(svc ImportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := svc.QueueStats(r.Context())
		response.JSON(w, queueStatsResponse{Stats: st, Available: !st.Unavailable})
	}
}

type queueStatsResponse struct {
	queue.Stats
	Available bool `json:"available"`
}
