// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Reconciler settles deposits that have been pending since before olderThan
// and returns how many changed status.
type Reconciler interface {
	ReconcilePending(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

type Config struct {
	Schedule   string
	StaleAfter time.Duration
	BatchSize  int
	JobTimeout time.Duration
}

type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
	config     Config
	now        func() time.Time
}

func New(reconciler Reconciler, cfg Config) *Scheduler {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(log.Default()))))
	return &Scheduler{
		cron:       c,
		reconciler: reconciler,
		config:     cfg,
		now:        time.Now,
	}
}

// Start registers the reconcile job and starts the cron loop. An empty
// schedule disables the job.
func (s *Scheduler) Start() error {
	if s.config.Schedule != "" {
		if _, err := s.cron.AddFunc(s.config.Schedule, s.ReconcileDeposits); err != nil {
			return err
		}
		log.Printf("scheduler: reconcile job scheduled %q", s.config.Schedule)
	}
	s.cron.Start()
	return nil
}

// Stop halts scheduling and returns a context done when running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) ReconcileDeposits() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
	defer cancel()
	cutoff := s.now().Add(-s.config.StaleAfter)
	settled, err := s.reconciler.ReconcilePending(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		log.Printf("scheduler: reconcile deposits: %v", err)
		return
	}
	if settled > 0 {
		log.Printf("scheduler: reconciled %d stale deposits", settled)
	}
}
