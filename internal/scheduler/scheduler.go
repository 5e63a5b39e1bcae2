// Package scheduler triggers imports on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/jobingest/internal/config"
	"github.com/kiranshivaraju/jobingest/internal/importer"
	"github.com/kiranshivaraju/jobingest/internal/notify"
	"github.com/robfig/cron/v3"
)

// cron-status event types.
const (
	StatusTriggered = "triggered"
	StatusSkipped   = "skipped"
	StatusStarted   = "started"
	StatusStopped   = "stopped"
)

// Runner is the import orchestrator as seen by the scheduler.
type Runner interface {
	IsRunning() bool
	Run(ctx context.Context) (*importer.Summary, error)
}

// Scheduler runs an import on every tick of a standard five-field cron
// expression. A tick that finds an import in progress is skipped.
type Scheduler struct {
	runner     Runner
	notifier   notify.Notifier
	runOnStart bool

	mu      sync.Mutex
	spec    string
	cron    *cron.Cron
	entry   cron.EntryID
	baseCtx context.Context
}

// New validates the cron expression; an invalid one is returned as an error.
func New(cfg config.SchedulerConfig, runner Runner, notifier notify.Notifier) (*Scheduler, error) {
	if _, err := cron.ParseStandard(cfg.Cron); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cfg.Cron, err)
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Scheduler{
		runner:     runner,
		notifier:   notifier,
		runOnStart: cfg.RunOnStart,
		spec:       cfg.Cron,
	}, nil
}

// Start begins scheduling. Ticks run with ctx; cancelling it aborts an
// in-flight import but does not stop the schedule.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("scheduler already started")
	}
	s.baseCtx = ctx
	if err := s.startLocked(); err != nil {
		return err
	}
	if s.runOnStart {
		go s.Tick(ctx)
	}
	return nil
}

func (s *Scheduler) startLocked() error {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)
	ctx := s.baseCtx
	id, err := c.AddFunc(s.spec, func() { s.Tick(ctx) })
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	c.Start()
	s.cron, s.entry = c, id

	slog.Info("scheduler started", "cron", s.spec, "next", c.Entry(id).Next)
	s.notifier.Publish(notify.New(notify.TypeCronStatus, map[string]any{"type": StatusStarted, "cron": s.spec}))
	return nil
}

// Stop halts scheduling. The returned context is done once any tick already
// running has finished.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Scheduler) stopLocked() context.Context {
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	done := s.cron.Stop()
	s.cron = nil
	slog.Info("scheduler stopped")
	s.notifier.Publish(notify.New(notify.TypeCronStatus, map[string]any{"type": StatusStopped}))
	return done
}

// Restart replaces the schedule. An invalid expression leaves the current
// schedule untouched.
func (s *Scheduler) Restart(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.spec = spec
	if s.baseCtx == nil {
		s.baseCtx = context.Background()
	}
	return s.startLocked()
}

// Spec returns the active cron expression.
func (s *Scheduler) Spec() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}

// Next returns the next scheduled tick, or the zero time when stopped.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// Tick runs one scheduled import unless one is already in progress.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.runner.IsRunning() {
		s.skip()
		return
	}
	s.notifier.Publish(notify.New(notify.TypeCronStatus, map[string]any{"type": StatusTriggered}))
	slog.Info("scheduled import triggered")

	summary, err := s.runner.Run(ctx)
	if errors.Is(err, importer.ErrBusy) {
		s.skip()
		return
	}
	if err != nil {
		slog.Error("scheduled import failed", "error", err)
		return
	}
	slog.Info("scheduled import finished", "import_id", summary.ImportID, "status", summary.Status)
}

func (s *Scheduler) skip() {
	slog.Warn("import already running, skipping scheduled tick")
	s.notifier.Publish(notify.New(notify.TypeCronStatus, map[string]any{"type": StatusSkipped}))
}

// cronLogger adapts cron.Logger to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
