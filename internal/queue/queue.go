package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/kiranshivaraju/jobingest/internal/config"
)

// ErrUnavailable is returned when the broker cannot be reached or an
// enqueue does not finish within its time box.
var ErrUnavailable = errors.New("queue unavailable")

// Priority selects the sub-queue a task is placed on.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityLow
)

// Sub-queue weights used by every worker: high is polled six times as often as low.
const (
	weightHigh   = 6
	weightNormal = 3
	weightLow    = 1
)

// completedRetention keeps finished tasks inspectable until Trim removes them.
const completedRetention = 7 * 24 * time.Hour

// EnqueueOptions tune a single enqueue. Zero values use the queue defaults.
type EnqueueOptions struct {
	Priority Priority
	Delay    time.Duration
	MaxRetry int
	// TaskID makes the enqueue idempotent; a second enqueue with the same id fails.
	TaskID string
}

// inspector is the subset of *asynq.Inspector used for stats and trimming.
type inspector interface {
	Queues() ([]string, error)
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListCompletedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	Close() error
}

// Queue is a durable Redis-backed work queue built on asynq.
type Queue struct {
	redisOpt  asynq.RedisConnOpt
	client    *asynq.Client
	inspector inspector
	cfg       config.QueueConfig
	logger    *slog.Logger

	mu       sync.Mutex
	servers  map[string]*asynq.Server
	trimming sync.Map
}

// New connects a Queue to the Redis instance at redisURL.
func New(redisURL string, cfg config.QueueConfig) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Queue{
		redisOpt:  opt,
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		cfg:       withDefaults(cfg),
		logger:    slog.Default().With("component", "queue"),
		servers:   make(map[string]*asynq.Server),
	}, nil
}

func withDefaults(cfg config.QueueConfig) config.QueueConfig {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 20 * time.Second
	}
	if cfg.StatsTimeout <= 0 {
		cfg.StatsTimeout = 3 * time.Second
	}
	if cfg.KeepCompleted <= 0 {
		cfg.KeepCompleted = 100
	}
	if cfg.KeepFailed <= 0 {
		cfg.KeepFailed = 50
	}
	return cfg
}

// subQueue names the broker queue holding tasks of priority p.
func subQueue(name string, p Priority) string {
	switch p {
	case PriorityHigh:
		return name + ":high"
	case PriorityLow:
		return name + ":low"
	default:
		return name
	}
}

func subQueues(name string) []string {
	return []string{subQueue(name, PriorityHigh), subQueue(name, PriorityNormal), subQueue(name, PriorityLow)}
}

// Enqueue JSON-encodes payload as a task of taskType on queueName and returns
// the broker task id. The call is bounded by the configured enqueue timeout;
// exceeding it, or any broker failure, yields ErrUnavailable.
func (q *Queue) Enqueue(ctx context.Context, queueName, taskType string, payload any, opts EnqueueOptions) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode task payload: %w", err)
	}

	maxRetry := opts.MaxRetry
	if maxRetry <= 0 {
		maxRetry = q.cfg.MaxRetry
	}
	taskOpts := []asynq.Option{
		asynq.Queue(subQueue(queueName, opts.Priority)),
		asynq.MaxRetry(maxRetry),
		asynq.Retention(completedRetention),
	}
	if opts.Delay > 0 {
		taskOpts = append(taskOpts, asynq.ProcessIn(opts.Delay))
	}
	if opts.TaskID != "" {
		taskOpts = append(taskOpts, asynq.TaskID(opts.TaskID))
	}

	ctx, cancel := context.WithTimeout(ctx, q.cfg.EnqueueTimeout)
	defer cancel()

	type result struct {
		info *asynq.TaskInfo
		err  error
	}
	done := make(chan result, 1)
	go func() {
		info, err := q.client.EnqueueContext(ctx, asynq.NewTask(taskType, body), taskOpts...)
		done <- result{info, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, asynq.ErrTaskIDConflict) || errors.Is(r.err, asynq.ErrDuplicateTask) {
				return "", fmt.Errorf("enqueue %s: %w", taskType, r.err)
			}
			return "", fmt.Errorf("%w: enqueue %s: %v", ErrUnavailable, taskType, r.err)
		}
		return r.info.ID, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: enqueue %s timed out after %s", ErrUnavailable, taskType, q.cfg.EnqueueTimeout)
	}
}

// Shutdown stops every worker server, waiting for in-flight tasks.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	servers := q.servers
	q.servers = make(map[string]*asynq.Server)
	q.mu.Unlock()

	for name, srv := range servers {
		q.logger.Info("stopping queue worker", "queue", name)
		srv.Shutdown()
	}
}

// Close releases the enqueue client and inspector connections.
func (q *Queue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close())
}
