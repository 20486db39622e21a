// SPDX-License-Identifier: LGPL-3.0-or-later

// Package scheduler runs the reconciliation loop as a periodic
// background job on a robfig/cron/v3 schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"hyperorc/logger"
)

// Reconciler is the subset of *orchestrator.Orchestrator the scheduler
// depends on, kept narrow so tests can supply a stub.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// Stats reports the reconcile job's run history.
type Stats struct {
	RunCount  int        `json:"run_count"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	NextRun   time.Time  `json:"next_run"`
}

// Scheduler runs orchestrator.Reconcile on a cron schedule (default
// once per minute).
type Scheduler struct {
	cron    *cron.Cron
	orc     Reconciler
	log     logger.Logger
	timeout time.Duration

	mu      sync.Mutex
	entryID cron.EntryID
	stats   Stats
}

// New builds a Scheduler that will run orc.Reconcile on schedule (standard
// 5-field cron syntax, e.g. "* * * * *" for every minute) once Start is
// called. timeout bounds each individual reconcile call.
func New(orc Reconciler, log logger.Logger, schedule string, timeout time.Duration) (*Scheduler, error) {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	s := &Scheduler{
		cron:    cron.New(),
		orc:     orc,
		log:     log,
		timeout: timeout,
	}
	entryID, err := s.cron.AddFunc(schedule, s.run)
	if err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	s.entryID = entryID
	return s, nil
}

// Start begins running the reconcile job on schedule.
func (s *Scheduler) Start() {
	s.log.Info("starting reconcile scheduler")
	s.cron.Start()
}

// Stop waits for any in-flight reconcile run to finish, then stops the
// schedule.
func (s *Scheduler) Stop() {
	s.log.Info("stopping reconcile scheduler")
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// TriggerNow runs reconcile immediately, outside its schedule; the
// daemon runs one pass on startup this way.
func (s *Scheduler) TriggerNow() {
	s.run()
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	err := s.orc.Reconcile(ctx)

	s.mu.Lock()
	s.stats.RunCount++
	now := time.Now().UTC()
	s.stats.LastRun = &now
	if err != nil {
		s.stats.LastError = err.Error()
	} else {
		s.stats.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("reconcile run failed", "duration", time.Since(start), "error", err)
		return
	}
	s.log.Debug("reconcile run completed", "duration", time.Since(start))
}

// Stats returns a snapshot of the job's run history, including the
// schedule's computed next-run time.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	stats := s.stats
	s.mu.Unlock()
	stats.NextRun = s.cron.Entry(s.entryID).Next
	return stats
}
