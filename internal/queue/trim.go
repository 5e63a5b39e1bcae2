package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hibiken/asynq"
)

const trimPageSize = 100

// Trim deletes all but the newest KeepCompleted completed tasks and the newest
// KeepFailed archived tasks of queueName, across its priority sub-queues.
// It returns the number of tasks deleted.
func (q *Queue) Trim(ctx context.Context, queueName string) (int, error) {
	var deleted int
	var errs []error
	for _, name := range subQueues(queueName) {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		n, err := q.trimSet(name, q.inspector.ListCompletedTasks, q.cfg.KeepCompleted,
			func(t *asynq.TaskInfo) time.Time { return t.CompletedAt })
		deleted += n
		if err != nil {
			errs = append(errs, fmt.Errorf("trim completed %s: %w", name, err))
		}

		n, err = q.trimSet(name, q.inspector.ListArchivedTasks, q.cfg.KeepFailed,
			func(t *asynq.TaskInfo) time.Time { return t.LastFailedAt })
		deleted += n
		if err != nil {
			errs = append(errs, fmt.Errorf("trim failed %s: %w", name, err))
		}
	}
	return deleted, errors.Join(errs...)
}

type listFunc func(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)

func (q *Queue) trimSet(name string, list listFunc, keep int, at func(*asynq.TaskInfo) time.Time) (int, error) {
	var all []*asynq.TaskInfo
	for page := 1; ; page++ {
		tasks, err := list(name, asynq.PageSize(trimPageSize), asynq.Page(page))
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		all = append(all, tasks...)
		if len(tasks) < trimPageSize {
			break
		}
	}
	if len(all) <= keep {
		return 0, nil
	}

	sort.SliceStable(all, func(i, j int) bool { return at(all[i]).After(at(all[j])) })

	deleted := 0
	for _, t := range all[keep:] {
		if err := q.inspector.DeleteTask(name, t.ID); err != nil {
			if errors.Is(err, asynq.ErrTaskNotFound) {
				continue
			}
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// trimAsync runs Trim in the background, at most once at a time per queue.
func (q *Queue) trimAsync(queueName string) {
	if _, running := q.trimming.LoadOrStore(queueName, struct{}{}); running {
		return
	}
	go func() {
		defer q.trimming.Delete(queueName)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := q.Trim(ctx, queueName)
		if err != nil {
			q.logger.Warn("queue trim failed", "queue", queueName, "error", err)
			return
		}
		if n > 0 {
			q.logger.Debug("queue trimmed", "queue", queueName, "deleted", n)
		}
	}()
}
