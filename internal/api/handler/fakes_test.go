package handler_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobingest/internal/importer"
	"github.com/kiranshivaraju/jobingest/internal/queue"
	"github.com/kiranshivaraju/jobingest/internal/store"
	"github.com/kiranshivaraju/jobingest/pkg/models"
	"github.com/stretchr/testify/require"
)

type fakeImports struct {
	startID   uuid.UUID
	startErr  error
	status    importer.Status
	last      *importer.Summary
	summaries map[uuid.UUID]*importer.Summary
	stats     queue.Stats
}

func (f *fakeImports) Start(context.Context) (uuid.UUID, error) { return f.startID, f.startErr }
func (f *fakeImports) Status() importer.Status                  { return f.status }
func (f *fakeImports) LastSummary(context.Context) (*importer.Summary, bool) {
	return f.last, f.last != nil
}
func (f *fakeImports) Summary(_ context.Context, id uuid.UUID) (*importer.Summary, bool) {
	s, ok := f.summaries[id]
	return s, ok
}
func (f *fakeImports) QueueStats(context.Context) queue.Stats { return f.stats }

type fakeRuns struct {
	got   store.RunFilter
	runs  []*models.ImportRun
	total int
	err   error
}

func (f *fakeRuns) ListImportRuns(_ context.Context, filter store.RunFilter) ([]*models.ImportRun, int, error) {
	f.got = filter
	return f.runs, f.total, f.err
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}
