package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"
)

// Stats are task counts for one logical queue, summed over its priority sub-queues.
// Delayed covers both scheduled tasks and tasks waiting for a retry.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`

	// Unavailable is set when the counts are zeroed because the broker did not answer.
	Unavailable bool `json:"-"`
}

// Stats reports counts for queueName. Sub-queues the broker has never seen
// count as empty. Each broker query is bounded by the stats timeout; if any of
// them fails the result degrades to all zeros with Unavailable set. Stats
// never returns an error.
func (q *Queue) Stats(ctx context.Context, queueName string) Stats {
	names, err := q.existingSubQueues(ctx, queueName)
	if err != nil {
		q.logger.Warn("queue stats unavailable", "queue", queueName, "error", err)
		return Stats{Unavailable: true}
	}
	infos := make([]*asynq.QueueInfo, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			info, err := timeBoxed(gctx, q.cfg.StatsTimeout, func() (*asynq.QueueInfo, error) {
				return q.inspector.GetQueueInfo(name)
			})
			if errors.Is(err, asynq.ErrQueueNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("queue info %s: %w", name, err)
			}
			infos[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		q.logger.Warn("queue stats unavailable", "queue", queueName, "error", err)
		return Stats{Unavailable: true}
	}

	var s Stats
	for _, info := range infos {
		if info == nil {
			continue
		}
		s.Waiting += info.Pending
		s.Active += info.Active
		s.Completed += info.Completed
		s.Failed += info.Archived
		s.Delayed += info.Scheduled + info.Retry
	}
	return s
}

// existingSubQueues returns the priority sub-queues of queueName known to the
// broker. The inspector reports a missing queue with an untyped error, so
// absent ones are filtered out up front.
func (q *Queue) existingSubQueues(ctx context.Context, queueName string) ([]string, error) {
	known, err := timeBoxed(ctx, q.cfg.StatsTimeout, q.inspector.Queues)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	present := make(map[string]bool, len(known))
	for _, name := range known {
		present[name] = true
	}

	var names []string
	for _, name := range subQueues(queueName) {
		if present[name] {
			names = append(names, name)
		}
	}
	return names, nil
}

// timeBoxed runs a blocking inspector call and gives up after d.
func timeBoxed[T any](ctx context.Context, d time.Duration, f func() (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := f()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
