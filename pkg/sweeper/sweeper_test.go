package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type jobs struct {
	calls   atomic.Int32
	seen    atomic.Value
	bidErr  error
	bids    int
	overdue int
	purged  int64
}

func (j *jobs) CloseExpired(_ context.Context, now time.Time) (int, error) {
	j.calls.Add(1)
	j.seen.Store(now)
	return j.bids, j.bidErr
}

func (j *jobs) MarkOverdue(context.Context, time.Time) (int, error) { return j.overdue, nil }

func (j *jobs) Purge(context.Context, time.Time) (int64, error) { return j.purged, nil }

func TestRunOnce(t *testing.T) {
	j := &jobs{bids: 2, overdue: 1, purged: 5}
	s := New(j, j, j, time.Hour, zap.NewNop().Sugar())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	res, err := s.RunOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, Result{ClosedBids: 2, OverdueBookings: 1, PurgedSessions: 5}, res)
	assert.Equal(t, now, j.seen.Load())
}

func TestRunOnceContinuesAfterFailure(t *testing.T) {
	j := &jobs{bidErr: errors.New("db locked"), overdue: 3, purged: 1}
	s := New(j, j, j, time.Hour, zap.NewNop().Sugar())

	res, err := s.RunOnce(context.Background(), time.Now())
	require.Error(t, err)
	assert.ErrorContains(t, err, "close bids: db locked")
	assert.Equal(t, 3, res.OverdueBookings)
	assert.EqualValues(t, 1, res.PurgedSessions)
}

func TestRunTicksUntilCancelled(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	j := &jobs{bids: 1}
	s := New(j, j, j, 10*time.Millisecond, zap.New(core).Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return j.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.NotZero(t, logs.FilterMessage("sweep finished").Len())
	assert.Equal(t, 1, logs.FilterMessage("sweeper stopped").Len())
}
