package repo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Ключи advisory lock для выбора лидера.
const (
	OrchestratorLockKey int64 = 7310001
)

// Leader удерживает PostgreSQL advisory lock на выделенном соединении.
// Advisory lock привязан к сессии, поэтому соединение не возвращается в пул,
// пока лидерство не снято.
type Leader struct {
	pool   *pgxpool.Pool
	key    int64
	logger *slog.Logger
	conn   *pgxpool.Conn
}

// NewLeader создаёт Leader для ключа key.
func NewLeader(pool *pgxpool.Pool, key int64, logger *slog.Logger) *Leader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Leader{pool: pool, key: key, logger: logger}
}

// TryAcquire пытается стать лидером. true, если лидерство получено
// сейчас или уже было получено ранее.
func (l *Leader) TryAcquire(ctx context.Context) (bool, error) {
	if l.conn != nil {
		return true, nil
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire conn: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", l.key).Scan(&ok); err != nil {
		conn.Release()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return false, nil
	}

	l.conn = conn
	l.logger.Info("leadership acquired", "lock_key", l.key)
	return true, nil
}

// Wait блокируется, пока лидерство не получено или ctx не отменён.
func (l *Leader) Wait(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := l.TryAcquire(ctx)
		if err != nil {
			l.logger.Warn("leader election failed", "error", err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release снимает лидерство.
func (l *Leader) Release() {
	if l.conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := l.conn.Exec(ctx, "select pg_advisory_unlock($1)", l.key); err != nil {
		l.logger.Warn("advisory unlock failed", "error", err)
	}
	l.conn.Release()
	l.conn = nil
	l.logger.Info("leadership released", "lock_key", l.key)
}
