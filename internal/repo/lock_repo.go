package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Phasegate/internal/domain"
)

// LockRepo — хранилище блокировок тикетов.
//
// Все операции выполняются одним SQL-выражением: атомарность
// обеспечивает PostgreSQL, а не вызывающий код.
type LockRepo struct {
	pool *pgxpool.Pool
}

// NewLockRepo создаёт новый LockRepo.
func NewLockRepo(pool *pgxpool.Pool) *LockRepo {
	return &LockRepo{pool: pool}
}

const lockColumns = `ticket_id, holder_id, status, acquired_at, expires_at, released_at`

// Acquire захватывает блокировку, если записи нет, она свободна, просрочена
// или уже принадлежит holderID.
//
// prev читается из снимка до вставки и содержит предыдущее состояние.
// При конкурентной вставке проигравший ждёт блокировку строки и после
// перепроверки WHERE получает пустой upsert.
func (r *LockRepo) Acquire(ctx context.Context, ticketID, holderID string, now time.Time, ttl time.Duration) (domain.AcquireOutcome, error) {
	rows, err := r.pool.Query(ctx, `
		WITH prev AS (
			SELECT `+lockColumns+` FROM execution_locks WHERE ticket_id = $1
		), upsert AS (
			INSERT INTO execution_locks (`+lockColumns+`)
			VALUES ($1, $2, 'LOCKED', $3, $4, NULL)
			ON CONFLICT (ticket_id) DO UPDATE
			SET holder_id = EXCLUDED.holder_id,
			    status = 'LOCKED',
			    acquired_at = EXCLUDED.acquired_at,
			    expires_at = EXCLUDED.expires_at,
			    released_at = NULL
			WHERE execution_locks.status = 'UNLOCKED'
			   OR execution_locks.expires_at <= $3
			   OR execution_locks.holder_id = $2
			RETURNING `+lockColumns+`
		)
		SELECT true AS acquired, `+lockColumns+` FROM upsert
		UNION ALL
		SELECT false AS acquired, `+lockColumns+` FROM prev
	`, ticketID, holderID, now, now.Add(ttl))
	if err != nil {
		return domain.AcquireOutcome{}, fmt.Errorf("acquire lock: %w", err)
	}

	type lockRow struct {
		acquired bool
		lock     domain.ExecutionLock
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (lockRow, error) {
		var lr lockRow
		err := row.Scan(&lr.acquired, &lr.lock.TicketID, &lr.lock.HolderID, &lr.lock.Status,
			&lr.lock.AcquiredAt, &lr.lock.ExpiresAt, &lr.lock.ReleasedAt)
		return lr, err
	})
	if err != nil {
		return domain.AcquireOutcome{}, fmt.Errorf("scan lock: %w", err)
	}

	var out domain.AcquireOutcome
	var prev *domain.ExecutionLock
	for i := range results {
		if results[i].acquired {
			out.Acquired = true
			out.Lock = results[i].lock
		} else {
			prev = &results[i].lock
		}
	}

	if out.Acquired {
		out.Previous = prev
		return out, nil
	}

	// Отказ: снимок prev мог устареть, если блокировку только что
	// перехватил конкурент. Перечитываем текущее состояние.
	cur, err := r.Get(ctx, ticketID)
	if err != nil {
		return domain.AcquireOutcome{}, err
	}
	out.Lock = *cur
	return out, nil
}

// Release освобождает блокировку, только если её держит holderID.
func (r *LockRepo) Release(ctx context.Context, ticketID, holderID string, now time.Time) (bool, error) {
	res, err := r.pool.Exec(ctx, `
		UPDATE execution_locks
		SET status = 'UNLOCKED', released_at = $3
		WHERE ticket_id = $1 AND holder_id = $2 AND status = 'LOCKED'
	`, ticketID, holderID, now)
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	return res.RowsAffected() > 0, nil
}

// Get возвращает блокировку тикета.
func (r *LockRepo) Get(ctx context.Context, ticketID string) (*domain.ExecutionLock, error) {
	var l domain.ExecutionLock
	err := r.pool.QueryRow(ctx, `SELECT `+lockColumns+` FROM execution_locks WHERE ticket_id = $1`, ticketID).
		Scan(&l.TicketID, &l.HolderID, &l.Status, &l.AcquiredAt, &l.ExpiresAt, &l.ReleasedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lock %s: %w", ticketID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get lock: %w", err)
	}
	return &l, nil
}

// ExpireStale освобождает просроченные блокировки и возвращает их
// состояние до освобождения. Строки, занятые конкурентом, пропускаются.
func (r *LockRepo) ExpireStale(ctx context.Context, now time.Time) ([]domain.ExecutionLock, error) {
	rows, err := r.pool.Query(ctx, `
		WITH expired AS (
			SELECT `+lockColumns+`
			FROM execution_locks
			WHERE status = 'LOCKED' AND expires_at <= $1
			FOR UPDATE SKIP LOCKED
		), released AS (
			UPDATE execution_locks l
			SET status = 'UNLOCKED', released_at = $1
			FROM expired e
			WHERE l.ticket_id = e.ticket_id
		)
		SELECT `+lockColumns+` FROM expired ORDER BY ticket_id
	`, now)
	if err != nil {
		return nil, fmt.Errorf("expire stale locks: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ExecutionLock, error) {
		var l domain.ExecutionLock
		err := row.Scan(&l.TicketID, &l.HolderID, &l.Status, &l.AcquiredAt, &l.ExpiresAt, &l.ReleasedAt)
		return l, err
	})
}
