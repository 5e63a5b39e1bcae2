package importer_test

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobingest/internal/feed"
	"github.com/kiranshivaraju/jobingest/internal/queue"
	"github.com/kiranshivaraju/jobingest/internal/store"
	"github.com/kiranshivaraju/jobingest/pkg/models"
)

// memStore is an in-memory store.Store.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
	runs map[uuid.UUID]*models.ImportRun

	// racer, when set, is inserted under the same key just before the next
	// InsertJob so that the insert loses a concurrent race.
	racer         *models.Job
	insertErr     error
	createRunErr  error
	createdRuns   int
	finishedCalls int
}

func newMemStore() *memStore {
	return &memStore{
		jobs: make(map[string]*models.Job),
		runs: make(map[uuid.UUID]*models.ImportRun),
	}
}

func jobKey(feedURL, guid string) string { return feedURL + "\x00" + guid }

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) FindJob(_ context.Context, sourceFeed, guid string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobKey(sourceFeed, guid)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) InsertJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	if m.racer != nil {
		r := *m.racer
		m.jobs[jobKey(r.SourceFeed, r.ExternalGUID)] = &r
		m.racer = nil
	}
	k := jobKey(job.SourceFeed, job.ExternalGUID)
	if _, ok := m.jobs[k]; ok {
		return store.ErrDuplicateKey
	}
	cp := *job
	m.jobs[k] = &cp
	return nil
}

func (m *memStore) UpdateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := jobKey(job.SourceFeed, job.ExternalGUID)
	if _, ok := m.jobs[k]; !ok {
		return store.ErrNotFound
	}
	cp := *job
	m.jobs[k] = &cp
	return nil
}

func (m *memStore) CreateImportRun(_ context.Context, run *models.ImportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createRunErr != nil {
		return m.createRunErr
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	m.createdRuns++
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memStore) GetImportRun(_ context.Context, id uuid.UUID) (*models.ImportRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) SetImportRunTask(_ context.Context, id uuid.UUID, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	r.TaskID = &taskID
	return nil
}

func (m *memStore) FinishImportRun(_ context.Context, id uuid.UUID, res models.RunResult) (*models.ImportRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishedCalls++
	r, ok := m.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if r.IsTerminal() {
		return nil, store.ErrRunFinalized
	}
	r.Status = res.Status
	r.Imported = res.Imported
	r.NewInserted = res.NewInserted
	r.Updated = res.Updated
	r.Failed = res.Failed
	r.FailedCount = len(res.Failed)
	if res.Error != "" {
		msg := res.Error
		r.Error = &msg
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) ListImportRuns(_ context.Context, f store.RunFilter) ([]*models.ImportRun, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ImportRun
	for _, r := range m.runs {
		if f.ImportID != uuid.Nil && r.ImportID != f.ImportID {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *memStore) run(id uuid.UUID) *models.ImportRun {
	r, _ := m.GetImportRun(context.Background(), id)
	return r
}

func (m *memStore) jobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// fakeFetcher serves feed bodies by URL.
type fakeFetcher struct {
	bodies map[string]string
	errs   map[string]error
	// block, when non-nil, is waited on before every fetch returns.
	block    chan struct{}
	panicFor map[string]bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, feedURL, name string) (*feed.RawPayload, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.panicFor[feedURL] {
		panic("fetcher exploded")
	}
	if err := f.errs[feedURL]; err != nil {
		return nil, err
	}
	body, ok := f.bodies[feedURL]
	if !ok {
		return nil, errors.New("no such feed")
	}
	return &feed.RawPayload{URL: feedURL, Name: name, Body: []byte(body), StatusCode: 200}, nil
}

type enqueued struct {
	queueName string
	taskType  string
	payload   any
	opts      queue.EnqueueOptions
}

// fakeQueue records enqueued tasks and fails for configured feed URLs.
type fakeQueue struct {
	mu       sync.Mutex
	tasks    []enqueued
	failFor  map[string]error
	panicFor map[string]bool
	stats    queue.Stats
}

func (q *fakeQueue) Enqueue(_ context.Context, queueName, taskType string, payload any, opts queue.EnqueueOptions) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if b, ok := payload.(importerPayload); ok {
		if err := q.failFor[b.FeedURL]; err != nil {
			return "", err
		}
		if q.panicFor[b.FeedURL] {
			panic("queue exploded")
		}
	}
	q.tasks = append(q.tasks, enqueued{queueName: queueName, taskType: taskType, payload: payload, opts: opts})
	id := opts.TaskID
	if id == "" {
		id = uuid.NewString()
	}
	return id, nil
}

func (q *fakeQueue) Stats(context.Context, string) queue.Stats {
	return q.stats
}

func (q *fakeQueue) payloads() []importerPayload {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]importerPayload, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, t.payload.(importerPayload))
	}
	return out
}
