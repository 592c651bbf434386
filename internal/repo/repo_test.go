package repo

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Phasegate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPool подключается к БД из PHASEGATE_TEST_DB_URL.
// Без переменной интеграционные тесты пропускаются.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("PHASEGATE_TEST_DB_URL")
	if dsn == "" {
		t.Skip("PHASEGATE_TEST_DB_URL is not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	return pool
}

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newParent(t *testing.T, n int) *domain.ParentRequest {
	t.Helper()

	specs := make([]domain.PhaseSpec, n)
	for i := range specs {
		specs[i] = domain.PhaseSpec{
			Number:   i + 1,
			Title:    "phase",
			Content:  "work",
			DocRefs:  []string{"docs/plan.md"},
			TicketID: "acme/app#" + uuid.NewString()[:8],
		}
	}
	p, err := domain.NewParentRequest("acme/app#100", "epic", specs, now)
	require.NoError(t, err)
	return p
}

func TestParentRepo_CreateGet(t *testing.T) {
	r := NewParentRepo(testPool(t))
	ctx := context.Background()
	p := newParent(t, 3)

	require.NoError(t, r.Create(ctx, p))
	require.ErrorIs(t, r.Create(ctx, p), ErrAlreadyExists)

	got, err := r.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Title, got.Title)
	require.Len(t, got.Phases, 3)
	assert.Equal(t, []string{"docs/plan.md"}, got.Phases[0].DocRefs)
	assert.Equal(t, domain.PhaseStatusQueued, got.Phases[2].Status)

	_, err = r.Get(ctx, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestParentRepo_UpdateAppliesAndRollsBack(t *testing.T) {
	r := NewParentRepo(testPool(t))
	ctx := context.Background()
	p := newParent(t, 2)
	require.NoError(t, r.Create(ctx, p))

	_, err := r.Update(ctx, p.ID, func(p *domain.ParentRequest) error {
		if err := p.MarkReady(1, now); err != nil {
			return err
		}
		return p.MarkRunning(1, "exec-1", "attempt-1", now)
	})
	require.NoError(t, err)

	got, err := r.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseStatusRunning, got.Phases[0].Status)
	assert.Equal(t, "exec-1", got.Phases[0].ExecutionID)
	assert.Equal(t, "attempt-1", got.Phases[0].LockHolder)

	// отклонённый переход ничего не сохраняет
	_, err = r.Update(ctx, p.ID, func(p *domain.ParentRequest) error {
		p.Phases[1].Title = "changed"
		return p.MarkCompleted(2, now)
	})
	var te *domain.TransitionError
	require.True(t, errors.As(err, &te))

	got, err = r.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "phase", got.Phases[1].Title)
}

func TestParentRepo_ListActive(t *testing.T) {
	r := NewParentRepo(testPool(t))
	ctx := context.Background()

	p := newParent(t, 1)
	require.NoError(t, r.Create(ctx, p))

	active, err := r.ListActive(ctx, 1000)
	require.NoError(t, err)

	var found bool
	for _, a := range active {
		if a.ID == p.ID {
			found = true
			assert.Len(t, a.Phases, 1)
		}
	}
	assert.True(t, found)
}

func TestParentRepo_ListActiveAfter(t *testing.T) {
	r := NewParentRepo(testPool(t))
	ctx := context.Background()

	first := newParent(t, 1)
	second := newParent(t, 1)
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NoError(t, r.Create(ctx, first))
	require.NoError(t, r.Create(ctx, second))

	page, err := r.ListActiveAfter(ctx, first.Cursor(), 1000)
	require.NoError(t, err)

	var sawFirst, sawSecond bool
	for _, a := range page {
		sawFirst = sawFirst || a.ID == first.ID
		sawSecond = sawSecond || a.ID == second.ID
	}
	assert.False(t, sawFirst)
	assert.True(t, sawSecond)
}

func TestLockRepo_AcquireDenyReclaim(t *testing.T) {
	r := NewLockRepo(testPool(t))
	ctx := context.Background()
	ticket := "acme/app#" + uuid.NewString()

	out, err := r.Acquire(ctx, ticket, "a", now, time.Hour)
	require.NoError(t, err)
	assert.True(t, out.Acquired)
	assert.Nil(t, out.Previous)

	out, err = r.Acquire(ctx, ticket, "b", now.Add(time.Minute), time.Hour)
	require.NoError(t, err)
	assert.False(t, out.Acquired)
	assert.Equal(t, "a", out.Lock.HolderID)

	out, err = r.Acquire(ctx, ticket, "b", now.Add(time.Hour), time.Hour)
	require.NoError(t, err)
	assert.True(t, out.Acquired)
	assert.True(t, out.Reclaimed())
	assert.Equal(t, "a", out.Previous.HolderID)

	released, err := r.Release(ctx, ticket, "a", now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, released)

	released, err = r.Release(ctx, ticket, "b", now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, released)

	l, err := r.Get(ctx, ticket)
	require.NoError(t, err)
	assert.Equal(t, domain.LockStatusUnlocked, l.Status)
	assert.NotNil(t, l.ReleasedAt)
}

func TestLockRepo_ExpireStale(t *testing.T) {
	r := NewLockRepo(testPool(t))
	ctx := context.Background()
	ticket := "acme/app#" + uuid.NewString()

	_, err := r.Acquire(ctx, ticket, "a", now, time.Minute)
	require.NoError(t, err)

	expired, err := r.ExpireStale(ctx, now.Add(time.Minute))
	require.NoError(t, err)

	var found bool
	for _, l := range expired {
		if l.TicketID == ticket {
			found = true
			assert.Equal(t, domain.LockStatusLocked, l.Status)
		}
	}
	assert.True(t, found)

	l, err := r.Get(ctx, ticket)
	require.NoError(t, err)
	assert.Equal(t, domain.LockStatusUnlocked, l.Status)
}

func TestRecordRepo_AppendList(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	p := newParent(t, 1)
	require.NoError(t, NewParentRepo(pool).Create(ctx, p))

	r := NewRecordRepo(pool)
	require.NoError(t, r.Append(ctx, domain.ExecutionRecord{
		ParentID: p.ID, PhaseNumber: 1, TicketID: p.Phases[0].TicketID,
		Event: domain.EventLaunched, ExecutionID: "exec-1", CreatedAt: now,
	}))
	require.NoError(t, r.Append(ctx, domain.ExecutionRecord{
		ParentID: p.ID, PhaseNumber: 1, TicketID: p.Phases[0].TicketID,
		Event: domain.EventCompleted, CreatedAt: now.Add(time.Minute),
	}))

	recs, err := r.ListByParent(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, domain.EventLaunched, recs[0].Event)
	assert.Equal(t, "exec-1", recs[0].ExecutionID)
	assert.Equal(t, "", recs[1].ExecutionID)
}
