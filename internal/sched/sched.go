// Package sched runs periodic consolidation on a cron schedule.
package sched

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/magpielabs/magpie/internal/consolidate"
)

// Scheduler triggers full consolidation passes on a cron spec.
type Scheduler struct {
	engine *consolidate.Engine
	opts   consolidate.Options
	logger *slog.Logger
	cron   *cron.Cron
}

// New creates a scheduler that applies consolidation with the given
// defaults whenever the spec fires.
func New(engine *consolidate.Engine, opts consolidate.Options, logger *slog.Logger) *Scheduler {
	opts.Apply = true
	return &Scheduler{
		engine: engine,
		opts:   opts,
		logger: logger,
		cron:   cron.New(),
	}
}

// Run registers the spec and blocks until ctx is cancelled. The spec
// uses the standard five-field cron format.
func (s *Scheduler) Run(ctx context.Context, spec string) error {
	_, err := s.cron.AddFunc(spec, func() { s.fire(ctx) })
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("scheduler: started", slog.String("spec", spec))

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Info("scheduler: stopped")
	return nil
}

func (s *Scheduler) fire(ctx context.Context) {
	report, err := s.engine.Run(ctx, s.opts)
	if err != nil {
		s.logger.Error("scheduled consolidation failed", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("scheduled consolidation finished",
		slog.String("status", report.Status),
		slog.Int("entries", report.EntryCount),
		slog.Int("archived", len(report.Archived)),
		slog.Int("conflicts", len(report.Conflicts)))
}
