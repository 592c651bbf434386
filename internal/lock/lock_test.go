package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Phasegate/internal/domain"
	"github.com/shaiso/Phasegate/internal/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *memstore.ManualClock) {
	t.Helper()
	clock := memstore.NewManualClock(t0)
	return New(Config{Store: memstore.NewLockStore(), Clock: clock}), clock
}

func TestTryAcquire_FreeThenDenied(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	res, err := svc.TryAcquire(ctx, "acme/app#1", "a1", time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Acquired)
	assert.Equal(t, t0.Add(time.Hour), res.Lock.ExpiresAt)

	res, err = svc.TryAcquire(ctx, "acme/app#1", "a2", time.Hour)
	require.NoError(t, err)
	assert.False(t, res.Acquired)
	assert.Contains(t, res.Reason, "a1")
	assert.Equal(t, "a1", res.Lock.HolderID)
}

func TestTryAcquire_SameHolderRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	svc, clock := newService(t)

	_, err := svc.TryAcquire(ctx, "t#1", "a1", time.Hour)
	require.NoError(t, err)
	clock.Advance(30 * time.Minute)

	res, err := svc.TryAcquire(ctx, "t#1", "a1", time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Acquired)
	assert.Equal(t, clock.Now().Add(time.Hour), res.Lock.ExpiresAt)
	assert.Empty(t, res.PreviousHolder)
}

func TestTryAcquire_ReclaimsAtExpiry(t *testing.T) {
	ctx := context.Background()
	svc, clock := newService(t)

	_, err := svc.TryAcquire(ctx, "t#1", "a1", time.Hour)
	require.NoError(t, err)

	clock.Advance(time.Hour - time.Second)
	res, err := svc.TryAcquire(ctx, "t#1", "a2", time.Hour)
	require.NoError(t, err)
	assert.False(t, res.Acquired, "lock must still be held one second before expiry")

	// now == expiresAt считается просроченной
	clock.Advance(time.Second)
	res, err = svc.TryAcquire(ctx, "t#1", "a2", time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Acquired)
	assert.Equal(t, "a1", res.PreviousHolder)
}

func TestTryAcquire_DefaultTTL(t *testing.T) {
	svc, _ := newService(t)
	res, err := svc.TryAcquire(context.Background(), "t#1", "a1", 0)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(DefaultTTL), res.Lock.ExpiresAt)
}

func TestTryAcquire_RequiresIDs(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.TryAcquire(context.Background(), "", "a1", time.Hour)
	require.Error(t, err)
}

func TestRelease_OnlyHolder(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.TryAcquire(ctx, "t#1", "a1", time.Hour)
	require.NoError(t, err)

	assert.False(t, svc.Release(ctx, "t#1", "intruder"))
	held, err := svc.IsHeld(ctx, "t#1")
	require.NoError(t, err)
	assert.True(t, held)

	assert.True(t, svc.Release(ctx, "t#1", "a1"))
	held, err = svc.IsHeld(ctx, "t#1")
	require.NoError(t, err)
	assert.False(t, held)

	// повторное освобождение — no-op
	assert.False(t, svc.Release(ctx, "t#1", "a1"))

	res, err := svc.TryAcquire(ctx, "t#1", "a2", time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Acquired)
	assert.Empty(t, res.PreviousHolder, "releasing first means nothing was reclaimed")
}

func TestRelease_AfterReclaimIsNoOp(t *testing.T) {
	ctx := context.Background()
	svc, clock := newService(t)

	_, err := svc.TryAcquire(ctx, "t#1", "old", time.Hour)
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)

	res, err := svc.TryAcquire(ctx, "t#1", "new", time.Hour)
	require.NoError(t, err)
	require.True(t, res.Acquired)

	// запоздалое освобождение старым владельцем не снимает новую блокировку
	assert.False(t, svc.Release(ctx, "t#1", "old"))

	l, err := svc.Get(ctx, "t#1")
	require.NoError(t, err)
	assert.Equal(t, "new", l.HolderID)
	assert.Equal(t, domain.LockStatusLocked, l.Status)
}

func TestRelease_UnknownTicket(t *testing.T) {
	svc, _ := newService(t)
	assert.False(t, svc.Release(context.Background(), "nope#1", "a1"))
}

type failingStore struct{ *memstore.LockStore }

func (failingStore) Release(context.Context, string, string, time.Time) (bool, error) {
	return false, errors.New("connection reset")
}

func TestRelease_StoreErrorIsSwallowed(t *testing.T) {
	svc := New(Config{Store: failingStore{memstore.NewLockStore()}, Clock: memstore.NewManualClock(t0)})
	assert.False(t, svc.Release(context.Background(), "t#1", "a1"))
}

func TestTryAcquire_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	const n = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.TryAcquire(ctx, "t#1", "holder-"+string(rune('A'+i)), time.Hour)
			assert.NoError(t, err)
			if res.Acquired {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	svc, clock := newService(t)

	_, err := svc.TryAcquire(ctx, "t#1", "a1", time.Hour)
	require.NoError(t, err)
	_, err = svc.TryAcquire(ctx, "t#2", "a2", 3*time.Hour)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	n, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	l, err := svc.Get(ctx, "t#1")
	require.NoError(t, err)
	assert.Equal(t, domain.LockStatusUnlocked, l.Status)

	held, err := svc.IsHeld(ctx, "t#2")
	require.NoError(t, err)
	assert.True(t, held)
}
