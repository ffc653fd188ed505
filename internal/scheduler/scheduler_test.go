package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/disbursement-service/internal/app"
	"go.uber.org/zap/zaptest"
)

type reconcilerStub struct {
	runs     atomic.Int32
	err      error
	deadline atomic.Bool
}

func (s *reconcilerStub) Run(ctx context.Context) (app.ReconcileReport, error) {
	s.runs.Add(1)
	if _, ok := ctx.Deadline(); ok {
		s.deadline.Store(true)
	}
	return app.ReconcileReport{Examined: 1, Completed: 1}, s.err
}

func TestRunReconciliation_BoundsEachRun(t *testing.T) {
	stub := &reconcilerStub{}
	s := NewScheduler(stub, "", time.Minute, zaptest.NewLogger(t))

	s.RunReconciliation()

	assert.Equal(t, int32(1), stub.runs.Load())
	assert.True(t, stub.deadline.Load())
}

func TestRunReconciliation_SurvivesFailures(t *testing.T) {
	stub := &reconcilerStub{err: errors.New("database unavailable")}
	s := NewScheduler(stub, "", 0, zaptest.NewLogger(t))

	s.RunReconciliation()
	s.RunReconciliation()

	assert.Equal(t, int32(2), stub.runs.Load())
	assert.False(t, stub.deadline.Load())
}

func TestStart_RejectsInvalidSchedule(t *testing.T) {
	s := NewScheduler(&reconcilerStub{}, "every now and then", time.Minute, zaptest.NewLogger(t))
	require.Error(t, s.Start())
}

func TestStart_RunsOnSchedule(t *testing.T) {
	stub := &reconcilerStub{}
	s := NewScheduler(stub, "@every 1s", time.Minute, zaptest.NewLogger(t))
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool { return stub.runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	<-s.Stop().Done()
}
