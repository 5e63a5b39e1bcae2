package queue

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/hibiken/asynq"
)

// RegisterWorker starts a server dedicated to queueName that runs handler for
// tasks of taskType with the given concurrency. Registering the same queue
// twice is an error.
func (q *Queue) RegisterWorker(queueName, taskType string, handler asynq.Handler, concurrency int) error {
	if concurrency <= 0 {
		concurrency = q.cfg.Concurrency
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.servers[queueName]; exists {
		return fmt.Errorf("worker already registered for queue %q", queueName)
	}

	srv := asynq.NewServer(q.redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			subQueue(queueName, PriorityHigh):   weightHigh,
			subQueue(queueName, PriorityNormal): weightNormal,
			subQueue(queueName, PriorityLow):    weightLow,
		},
		RetryDelayFunc: q.retryDelay,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			id, _ := asynq.GetTaskID(ctx)
			q.logger.Error("task failed",
				"queue", queueName,
				"task_type", task.Type(),
				"task_id", id,
				"retry", retried,
				"max_retry", maxRetry,
				"error", err,
			)
		}),
		Logger:          &slogAdapter{l: q.logger.With("queue", queueName)},
		LogLevel:        asynq.WarnLevel,
		ShutdownTimeout: 10 * time.Second,
	})

	mux := asynq.NewServeMux()
	mux.Handle(taskType, handler)

	if err := srv.Start(q.lifecycle(queueName, mux)); err != nil {
		return fmt.Errorf("start worker for queue %q: %w", queueName, err)
	}
	q.servers[queueName] = srv
	q.logger.Info("queue worker started", "queue", queueName, "task_type", taskType, "concurrency", concurrency)
	return nil
}

// retryDelay is base * 2^n where n is the number of retries so far.
func (q *Queue) retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	if n > 20 {
		n = 20
	}
	return time.Duration(float64(q.cfg.BackoffBase) * math.Pow(2, float64(n)))
}

// lifecycle logs each task, converts panics into errors and trims the queue
// after every finished task.
func (q *Queue) lifecycle(queueName string, next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) (err error) {
		id, _ := asynq.GetTaskID(ctx)
		retried, _ := asynq.GetRetryCount(ctx)
		start := time.Now()
		log := q.logger.With("queue", queueName, "task_type", t.Type(), "task_id", id)
		log.Debug("task started", "retry", retried)

		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
			if err != nil {
				log.Warn("task attempt failed", "retry", retried, "duration_ms", time.Since(start).Milliseconds(), "error", err)
			} else {
				log.Info("task completed", "duration_ms", time.Since(start).Milliseconds())
			}
			q.trimAsync(queueName)
		}()

		return next.ProcessTask(ctx, t)
	})
}

// slogAdapter routes asynq's internal logging into slog.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a *slogAdapter) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a *slogAdapter) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a *slogAdapter) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }

// Fatal is only called by asynq on unrecoverable server errors.
func (a *slogAdapter) Fatal(args ...any) {
	a.l.Error(fmt.Sprint(args...), "fatal", true)
	os.Exit(1)
}
