package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Phasegate/internal/domain"
	"github.com/shaiso/Phasegate/internal/telemetry"
)

// DefaultTTL — TTL блокировки по умолчанию.
// Заметно больше самого долгого ожидаемого выполнения.
const DefaultTTL = 6 * time.Hour

// Store — атомарное хранилище блокировок.
type Store interface {
	// Acquire атомарно захватывает блокировку: запись отсутствует,
	// UNLOCKED, просрочена или уже принадлежит holderID.
	Acquire(ctx context.Context, ticketID, holderID string, now time.Time, ttl time.Duration) (domain.AcquireOutcome, error)

	// Release освобождает блокировку, только если её держит holderID.
	Release(ctx context.Context, ticketID, holderID string, now time.Time) (bool, error)

	// Get возвращает запись блокировки тикета.
	Get(ctx context.Context, ticketID string) (*domain.ExecutionLock, error)

	// ExpireStale освобождает все просроченные блокировки.
	ExpireStale(ctx context.Context, now time.Time) ([]domain.ExecutionLock, error)
}

// Result — результат TryAcquire.
type Result struct {
	Acquired bool
	Reason   string
	Lock     domain.ExecutionLock

	// PreviousHolder — владелец просроченной блокировки, если она была перехвачена.
	PreviousHolder string
}

// Service — сервис блокировок тикетов.
type Service struct {
	store      Store
	clock      domain.Clock
	defaultTTL time.Duration
	logger     *slog.Logger
}

// Config — конфигурация Service.
type Config struct {
	Store      Store
	Clock      domain.Clock
	DefaultTTL time.Duration // TTL, если в TryAcquire передан 0 (default: 6h)
	Logger     *slog.Logger
}

// New создаёт новый Service.
func New(cfg Config) *Service {
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	clock := cfg.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		store:      cfg.Store,
		clock:      clock,
		defaultTTL: ttl,
		logger:     logger,
	}
}

// TryAcquire пытается захватить блокировку тикета для holderID.
//
// Отказ — ожидаемый исход (Acquired=false с причиной), а не ошибка.
// Ошибка возвращается только при сбое хранилища.
func (s *Service) TryAcquire(ctx context.Context, ticketID, holderID string, ttl time.Duration) (Result, error) {
	if ticketID == "" || holderID == "" {
		return Result{}, fmt.Errorf("ticket id and holder id are required")
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	now := s.clock.Now()
	out, err := s.store.Acquire(ctx, ticketID, holderID, now, ttl)
	if err != nil {
		return Result{}, fmt.Errorf("acquire lock %s: %w", ticketID, err)
	}

	if !out.Acquired {
		return Result{
			Acquired: false,
			Reason: fmt.Sprintf("ticket %s is locked by %s until %s",
				ticketID, out.Lock.HolderID, out.Lock.ExpiresAt.Format(time.RFC3339)),
			Lock: out.Lock,
		}, nil
	}

	res := Result{Acquired: true, Lock: out.Lock}
	if out.Reclaimed() {
		res.PreviousHolder = out.Previous.HolderID
		telemetry.StaleLocksReclaimedTotal.Inc()
		s.logger.Warn("reclaimed expired ticket lock",
			"ticket_id", ticketID,
			"holder_id", holderID,
			"previous_holder", out.Previous.HolderID,
			"expired_at", out.Previous.ExpiresAt,
		)
	}
	return res, nil
}

// Release освобождает блокировку тикета, если её держит holderID.
//
// Вызов от не-владельца (в том числе от владельца, чья блокировка уже
// перехвачена) — no-op. Ошибки хранилища только логируются.
func (s *Service) Release(ctx context.Context, ticketID, holderID string) bool {
	if ticketID == "" || holderID == "" {
		return false
	}

	log := telemetry.WithTicketID(s.logger, ticketID).With("holder_id", holderID)

	released, err := s.store.Release(ctx, ticketID, holderID, s.clock.Now())
	if err != nil {
		log.Error("failed to release ticket lock", "error", err)
		return false
	}

	if !released {
		log.Debug("lock release ignored: not the current holder")
		return false
	}

	log.Debug("ticket lock released")
	return true
}

// Get возвращает текущую запись блокировки тикета.
func (s *Service) Get(ctx context.Context, ticketID string) (*domain.ExecutionLock, error) {
	return s.store.Get(ctx, ticketID)
}

// IsHeld сообщает, удерживается ли блокировка тикета прямо сейчас.
func (s *Service) IsHeld(ctx context.Context, ticketID string) (bool, error) {
	l, err := s.store.Get(ctx, ticketID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return l.IsHeld(s.clock.Now()), nil
}

// SweepExpired освобождает все просроченные блокировки.
//
// TryAcquire перехватывает просроченные блокировки и без этого вызова.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.store.ExpireStale(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("expire stale locks: %w", err)
	}

	for _, l := range expired {
		telemetry.StaleLocksReclaimedTotal.Inc()
		s.logger.Warn("expired ticket lock swept",
			"ticket_id", l.TicketID,
			"holder_id", l.HolderID,
			"expired_at", l.ExpiresAt,
		)
	}
	return len(expired), nil
}
