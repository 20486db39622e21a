// SPDX-License-Identifier: LGPL-3.0-or-later

package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperorc/daemon/scheduler"
	"hyperorc/logger"
)

type fakeReconciler struct {
	calls int32
	err   error
}

func (f *fakeReconciler) Reconcile(ctx context.Context) error {
	atomic.AddInt32(&f.calls, 1)
	return f.err
}

func TestTriggerNowRunsImmediately(t *testing.T) {
	r := &fakeReconciler{}
	s, err := scheduler.New(r, logger.New("debug"), "@every 1h", time.Second)
	require.NoError(t, err)

	s.TriggerNow()

	assert.Equal(t, int32(1), atomic.LoadInt32(&r.calls))
	stats := s.Stats()
	assert.Equal(t, 1, stats.RunCount)
	assert.NotNil(t, stats.LastRun)
	assert.Empty(t, stats.LastError)
}

func TestTriggerNowRecordsError(t *testing.T) {
	r := &fakeReconciler{err: errors.New("hypervisor unreachable")}
	s, err := scheduler.New(r, logger.New("debug"), "@every 1h", time.Second)
	require.NoError(t, err)

	s.TriggerNow()

	stats := s.Stats()
	assert.Equal(t, 1, stats.RunCount)
	assert.Equal(t, "hypervisor unreachable", stats.LastError)
}

func TestNewRejectsInvalidSchedule(t *testing.T) {
	r := &fakeReconciler{}
	_, err := scheduler.New(r, logger.New("debug"), "not a cron expression", time.Second)
	assert.Error(t, err)
}

func TestStartStopRunsOnSchedule(t *testing.T) {
	r := &fakeReconciler{}
	// cron's @every has a one-second floor, so two runs need just over 2s.
	s, err := scheduler.New(r, logger.New("debug"), "@every 1s", time.Second)
	require.NoError(t, err)

	s.Start()
	time.Sleep(2500 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&r.calls), int32(2))
}
