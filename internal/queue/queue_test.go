package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/kiranshivaraju/jobingest/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startMiniRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// blackhole accepts TCP connections and never answers, simulating a hung broker.
func blackhole(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	return "redis://" + ln.Addr().String()
}

func pollUntil(t *testing.T, timeout time.Duration, f func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := f()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("timeout")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func testConfig() config.QueueConfig {
	return config.QueueConfig{
		Name:           "job-import",
		Concurrency:    2,
		MaxRetry:       3,
		BackoffBase:    2 * time.Second,
		EnqueueTimeout: 150 * time.Millisecond,
		StatsTimeout:   150 * time.Millisecond,
		KeepCompleted:  2,
		KeepFailed:     1,
	}
}

func newTestQueue(t *testing.T, redisURL string) *Queue {
	t.Helper()
	q, err := New(redisURL, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		q.Shutdown()
		q.Close()
	})
	return q
}

func TestSubQueue(t *testing.T) {
	assert.Equal(t, "job-import:high", subQueue("job-import", PriorityHigh))
	assert.Equal(t, "job-import", subQueue("job-import", PriorityNormal))
	assert.Equal(t, "job-import:low", subQueue("job-import", PriorityLow))
	assert.Equal(t, []string{"q:high", "q", "q:low"}, subQueues("q"))
}

func TestRetryDelay_Exponential(t *testing.T) {
	q := &Queue{cfg: testConfig()}
	assert.Equal(t, 2*time.Second, q.retryDelay(0, nil, nil))
	assert.Equal(t, 4*time.Second, q.retryDelay(1, nil, nil))
	assert.Equal(t, 8*time.Second, q.retryDelay(2, nil, nil))
}

func TestWithDefaults_ZeroConfig(t *testing.T) {
	cfg := withDefaults(config.QueueConfig{})

	assert.Equal(t, 5, cfg.Concurrency)
	assert.Equal(t, 3, cfg.MaxRetry)
	assert.Equal(t, 100, cfg.KeepCompleted)
	assert.Equal(t, 50, cfg.KeepFailed)
}

func TestTrim_ZeroConfigKeepsHistory(t *testing.T) {
	var completed []*asynq.TaskInfo
	for i := 0; i < 10; i++ {
		completed = append(completed, &asynq.TaskInfo{ID: fmt.Sprintf("c%d", i)})
	}
	fi := &fakeInspector{completed: map[string][]*asynq.TaskInfo{"job-import": completed}}
	q := &Queue{cfg: withDefaults(config.QueueConfig{}), inspector: fi, logger: newDiscardLogger()}

	n, err := q.Trim(context.Background(), "job-import")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, fi.deleted)
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New("not a url", testConfig())
	assert.Error(t, err)
}

func TestEnqueueAndProcess(t *testing.T) {
	mr := startMiniRedis(t)
	q := newTestQueue(t, "redis://"+mr.Addr())

	type payload struct {
		N int `json:"n"`
	}

	var mu sync.Mutex
	var got []int
	handler := asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		var p payload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			return err
		}
		mu.Lock()
		got = append(got, p.N)
		mu.Unlock()
		return nil
	})
	require.NoError(t, q.RegisterWorker("job-import", "test:task", handler, 2))

	ctx := context.Background()
	id1, err := q.Enqueue(ctx, "job-import", "test:task", payload{N: 1}, EnqueueOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, id1)

	_, err = q.Enqueue(ctx, "job-import", "test:task", payload{N: 2}, EnqueueOptions{Priority: PriorityHigh})
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, "job-import", "test:task", payload{N: 3}, EnqueueOptions{Priority: PriorityLow})
	require.NoError(t, err)

	err = pollUntil(t, 10*time.Second, func() (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3, nil
	})
	require.NoError(t, err)

	mu.Lock()
	assert.ElementsMatch(t, []int{1, 2, 3}, got)
	mu.Unlock()
}

func TestRegisterWorker_Twice(t *testing.T) {
	mr := startMiniRedis(t)
	q := newTestQueue(t, "redis://"+mr.Addr())

	noop := asynq.HandlerFunc(func(context.Context, *asynq.Task) error { return nil })
	require.NoError(t, q.RegisterWorker("job-import", "test:task", noop, 1))
	assert.Error(t, q.RegisterWorker("job-import", "test:task", noop, 1))
}

func TestEnqueue_TaskIDConflict(t *testing.T) {
	mr := startMiniRedis(t)
	q := newTestQueue(t, "redis://"+mr.Addr())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "job-import", "test:task", map[string]int{"n": 1}, EnqueueOptions{TaskID: "run-1"})
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, "job-import", "test:task", map[string]int{"n": 1}, EnqueueOptions{TaskID: "run-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.ErrTaskIDConflict)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestEnqueue_TimesOutAgainstHungBroker(t *testing.T) {
	q := newTestQueue(t, blackhole(t))

	start := time.Now()
	_, err := q.Enqueue(context.Background(), "job-import", "test:task", map[string]int{"n": 1}, EnqueueOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestEnqueue_UnencodablePayload(t *testing.T) {
	mr := startMiniRedis(t)
	q := newTestQueue(t, "redis://"+mr.Addr())

	_, err := q.Enqueue(context.Background(), "job-import", "test:task", make(chan int), EnqueueOptions{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
}
