// Package scheduler runs the acquisition pipeline on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/guttosm/equitypanel/internal/logger"
)

// Job is one schedulable pipeline stage.
type Job func(ctx context.Context) error

// Scheduler manages the cron entries of the daemon mode.
//
// Runs of the same job never overlap: a tick that fires while the previous
// run is still going is skipped.
type Scheduler struct {
	Cron *cron.Cron
	ctx  context.Context

	universe Job
	refresh  Job

	mu      sync.Mutex
	running map[string]bool
	log     *zerolog.Logger
}

// NewScheduler creates a Scheduler whose jobs run under ctx.
func NewScheduler(ctx context.Context, universe, refresh Job) *Scheduler {
	return &Scheduler{
		Cron:     cron.New(cron.WithSeconds()),
		ctx:      ctx,
		universe: universe,
		refresh:  refresh,
		running:  make(map[string]bool),
		log:      logger.Component("scheduler"),
	}
}

// RegisterAll registers the universe discovery and the refresh/aggregate jobs.
// Specs use the six-field cron format (with seconds).
func (s *Scheduler) RegisterAll(universeCron, refreshCron string) error {
	if _, err := s.Cron.AddFunc(universeCron, func() { s.run("universe", s.universe) }); err != nil {
		return fmt.Errorf("register universe task: %w", err)
	}
	if _, err := s.Cron.AddFunc(refreshCron, func() { s.run("refresh", s.refresh) }); err != nil {
		return fmt.Errorf("register refresh task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info().Int("entries", len(s.Cron.Entries())).Msg("scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// RunNow executes both jobs immediately, universe first.
func (s *Scheduler) RunNow() {
	s.run("universe", s.universe)
	s.run("refresh", s.refresh)
}

func (s *Scheduler) run(name string, job Job) {
	if job == nil {
		return
	}
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.log.Warn().Str("job", name).Msg("previous run still in progress; skipping tick")
		return
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()

	s.log.Info().Str("job", name).Msg("job started")
	if err := job(s.ctx); err != nil {
		s.log.Error().Str("job", name).Err(err).Msg("job failed")
		return
	}
	s.log.Info().Str("job", name).Msg("job finished")
}
