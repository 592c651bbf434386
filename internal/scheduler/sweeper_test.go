package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shaiso/Phasegate/internal/lock"
	"github.com/shaiso/Phasegate/internal/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestValidateCronExpr(t *testing.T) {
	require.NoError(t, ValidateCronExpr(DefaultSweepSpec))
	require.NoError(t, ValidateCronExpr("0 3 * * 1-5"))
	require.Error(t, ValidateCronExpr("every five minutes"))
	require.Error(t, ValidateCronExpr("* * * * * *"))
}

func TestNextRun(t *testing.T) {
	next, err := NextRun(DefaultSweepSpec, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(5*time.Minute), next)

	_, err = NextRun("bad", t0)
	require.Error(t, err)
}

func TestNew_RejectsInvalidSpec(t *testing.T) {
	_, err := New(Config{Spec: "nope"})
	require.Error(t, err)

	s, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultSweepSpec, s.spec)
}

func TestSweep_ReleasesExpiredLocks(t *testing.T) {
	ctx := context.Background()
	clock := memstore.NewManualClock(t0)
	locks := lock.New(lock.Config{Store: memstore.NewLockStore(), Clock: clock})

	_, err := locks.TryAcquire(ctx, "acme/app#1", "a1", time.Minute)
	require.NoError(t, err)
	_, err = locks.TryAcquire(ctx, "acme/app#2", "a2", time.Hour)
	require.NoError(t, err)

	s, err := New(Config{Locks: locks})
	require.NoError(t, err)

	assert.Equal(t, 0, s.Sweep(ctx))

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, s.Sweep(ctx))

	held, err := locks.IsHeld(ctx, "acme/app#1")
	require.NoError(t, err)
	assert.False(t, held)

	held, err = locks.IsHeld(ctx, "acme/app#2")
	require.NoError(t, err)
	assert.True(t, held)
}

type failingSweeper struct{}

func (failingSweeper) SweepExpired(context.Context) (int, error) {
	return 0, errors.New("db down")
}

func TestSweep_StoreErrorIsLogged(t *testing.T) {
	s, err := New(Config{Locks: failingSweeper{}})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Sweep(context.Background()))
}

func TestStartStop(t *testing.T) {
	s, err := New(Config{Locks: failingSweeper{}})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()
}
