package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"mls_sync/config"
	"mls_sync/pipeline"
)

// Scheduler drives daemon mode: a full sync on one cron expression and an
// incremental sync on another. Either may be empty.
type Scheduler struct {
	cfg  *config.Config
	pipe *pipeline.Pipeline
	cron *cron.Cron
}

func New(cfg *config.Config, pipe *pipeline.Pipeline) *Scheduler {
	return &Scheduler{
		cfg:  cfg,
		pipe: pipe,
		cron: cron.New(),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Scheduler.FullCron == "" && s.cfg.Scheduler.IncrementalCron == "" {
		return fmt.Errorf("daemon mode needs SYNC_CRON or SYNC_INCREMENTAL_CRON")
	}

	if expr := s.cfg.Scheduler.FullCron; expr != "" {
		log.Printf("Scheduler: full sync on cron %q", expr)
		if _, err := s.cron.AddFunc(expr, func() { s.run(ctx, false) }); err != nil {
			return fmt.Errorf("invalid full-sync cron expression: %w", err)
		}
	}
	if expr := s.cfg.Scheduler.IncrementalCron; expr != "" {
		log.Printf("Scheduler: incremental sync on cron %q", expr)
		if _, err := s.cron.AddFunc(expr, func() { s.run(ctx, true) }); err != nil {
			return fmt.Errorf("invalid incremental cron expression: %w", err)
		}
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) run(ctx context.Context, incremental bool) {
	s.pipe.Incremental = incremental
	s.pipe.AutoConfirm = true
	if err := s.pipe.RunAll(ctx, nil); err != nil {
		log.Printf("Scheduler: scheduled run error: %v", err)
	}
}

// Stop halts the cron loop; in-flight runs finish on their own.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}
