package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobingest/internal/api/handler"
	"github.com/kiranshivaraju/jobingest/internal/importer"
	"github.com/kiranshivaraju/jobingest/internal/queue"
	"github.com/kiranshivaraju/jobingest/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerImport_Accepted(t *testing.T) {
	id := uuid.New()
	h := handler.NewTriggerImportHandler(&fakeImports{startID: id})

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest("POST", "/api/v1/imports", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, id.String(), data["import_id"])
}

func TestTriggerImport_Busy(t *testing.T) {
	current := uuid.New()
	h := handler.NewTriggerImportHandler(&fakeImports{
		startErr: importer.ErrBusy,
		status:   importer.Status{IsRunning: true, CurrentImportID: &current},
	})

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest("POST", "/api/v1/imports", nil))

	assert.Equal(t, http.StatusConflict, w.Code)
	errObj := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "IMPORT_BUSY", errObj["code"])
	assert.Equal(t, current.String(), errObj["details"].(map[string]any)["current_import_id"])
}

func TestTriggerImport_UnexpectedError(t *testing.T) {
	h := handler.NewTriggerImportHandler(&fakeImports{startErr: errors.New("boom")})
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest("POST", "/api/v1/imports", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestImportStatus(t *testing.T) {
	id := uuid.New()
	h := handler.NewImportStatusHandler(&fakeImports{status: importer.Status{IsRunning: true, CurrentImportID: &id}})

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest("GET", "/api/v1/imports/status", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, true, data["is_running"])
	assert.Equal(t, id.String(), data["current_import_id"])
}

func TestImportStatus_Idle(t *testing.T) {
	h := handler.NewImportStatusHandler(&fakeImports{})
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest("GET", "/api/v1/imports/status", nil))

	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, false, data["is_running"])
	assert.Nil(t, data["current_import_id"])
}

func TestLastImport(t *testing.T) {
	t.Run("none yet", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.NewLastImportHandler(&fakeImports{})(w, httptest.NewRequest("GET", "/api/v1/imports/last", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("summary", func(t *testing.T) {
		s := &importer.Summary{ImportID: uuid.New(), Status: models.RunStatusCompleted, TotalFeeds: 2}
		w := httptest.NewRecorder()
		handler.NewLastImportHandler(&fakeImports{last: s})(w, httptest.NewRequest("GET", "/api/v1/imports/last", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		data := decode(t, w)["data"].(map[string]any)
		assert.Equal(t, s.ImportID.String(), data["import_id"])
		assert.Equal(t, float64(2), data["total_feeds"])
	})
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestGetImport(t *testing.T) {
	id := uuid.New()
	svc := &fakeImports{summaries: map[uuid.UUID]*importer.Summary{
		id: {ImportID: id, Status: models.RunStatusFailed},
	}}
	h := handler.NewGetImportHandler(svc)

	w := httptest.NewRecorder()
	h(w, withURLParam(httptest.NewRequest("GET", "/", nil), "importID", id.String()))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "failed", decode(t, w)["data"].(map[string]any)["status"])

	w = httptest.NewRecorder()
	h(w, withURLParam(httptest.NewRequest("GET", "/", nil), "importID", uuid.NewString()))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	h(w, withURLParam(httptest.NewRequest("GET", "/", nil), "importID", "nope"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRuns_Filters(t *testing.T) {
	importID := uuid.New()
	runs := &fakeRuns{
		runs:  []*models.ImportRun{{ID: uuid.New(), ImportID: importID, Status: models.RunStatusPartial}},
		total: 31,
	}
	h := handler.NewListRunsHandler(runs)

	target := "/api/v1/imports/runs?import_id=" + importID.String() +
		"&feed_url=https://feeds.example.com/a.xml&status=partial&since=2026-01-02T03:04:05Z&page=2&limit=10"
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest("GET", target, nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, importID, runs.got.ImportID)
	assert.Equal(t, "https://feeds.example.com/a.xml", runs.got.FeedURL)
	assert.Equal(t, models.RunStatusPartial, runs.got.Status)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), runs.got.Since)
	assert.Equal(t, 2, runs.got.Page)
	assert.Equal(t, 10, runs.got.Limit)

	body := decode(t, w)
	assert.Len(t, body["data"].([]any), 1)
	meta := body["meta"].(map[string]any)
	assert.Equal(t, float64(31), meta["total"])
	assert.Equal(t, true, meta["has_next"])
}

func TestListRuns_Defaults(t *testing.T) {
	runs := &fakeRuns{}
	w := httptest.NewRecorder()
	handler.NewListRunsHandler(runs)(w, httptest.NewRequest("GET", "/api/v1/imports/runs", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, runs.got.Page)
	assert.Equal(t, 20, runs.got.Limit)
	assert.Equal(t, uuid.Nil, runs.got.ImportID)
}

func TestListRuns_Validation(t *testing.T) {
	cases := map[string]string{
		"import_id": "import_id=xyz",
		"status":    "status=exploded",
		"since":     "since=yesterday",
		"page":      "page=0",
		"limit":     "limit=500",
	}
	for field, query := range cases {
		t.Run(field, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.NewListRunsHandler(&fakeRuns{})(w, httptest.NewRequest("GET", "/api/v1/imports/runs?"+query, nil))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			errObj := decode(t, w)["error"].(map[string]any)
			assert.Equal(t, "VALIDATION_ERROR", errObj["code"])
			assert.Contains(t, errObj["details"].(map[string]any), field)
		})
	}
}

func TestListRuns_StoreError(t *testing.T) {
	w := httptest.NewRecorder()
	handler.NewListRunsHandler(&fakeRuns{err: errors.New("db down")})(w, httptest.NewRequest("GET", "/api/v1/imports/runs", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestQueueStats(t *testing.T) {
	h := handler.NewQueueStatsHandler(&fakeImports{stats: queue.Stats{Waiting: 4, Active: 1, Completed: 9, Failed: 2, Delayed: 3}})
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest("GET", "/api/v1/queue/stats", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, float64(4), data["waiting"])
	assert.Equal(t, float64(1), data["active"])
	assert.Equal(t, float64(9), data["completed"])
	assert.Equal(t, float64(2), data["failed"])
	assert.Equal(t, float64(3), data["delayed"])
	assert.Equal(t, true, data["available"])
}

func TestQueueStats_Unavailable(t *testing.T) {
	h := handler.NewQueueStatsHandler(&fakeImports{stats: queue.Stats{Unavailable: true}})
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest("GET", "/api/v1/queue/stats", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, float64(0), data["waiting"])
	assert.Equal(t, false, data["available"])
}
