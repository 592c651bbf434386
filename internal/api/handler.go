package api

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/Phasegate/internal/domain"
	"github.com/shaiso/Phasegate/internal/mq"
	"github.com/shaiso/Phasegate/internal/queue"
)

// LockReader — чтение состояния блокировок (lock.Service).
type LockReader interface {
	Get(ctx context.Context, ticketID string) (*domain.ExecutionLock, error)
	IsHeld(ctx context.Context, ticketID string) (bool, error)
}

// RecordLister — чтение журнала запусков.
type RecordLister interface {
	ListByParent(ctx context.Context, parentID uuid.UUID) ([]domain.ExecutionRecord, error)
}

// Publisher — события, которые API отправляет координатору.
type Publisher interface {
	PublishParentSubmitted(ctx context.Context, parentID uuid.UUID) error
	PublishPhaseCancel(ctx context.Context, payload mq.PhaseCancelPayload) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	queue     *queue.Queue
	locks     LockReader
	records   RecordLister
	publisher Publisher
	clock     domain.Clock
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Queue     *queue.Queue
	Locks     LockReader
	Records   RecordLister
	Publisher Publisher // опционально: без него координатор подхватит изменения по тику
	Clock     domain.Clock
	Logger    *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	clock := cfg.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		queue:     cfg.Queue,
		locks:     cfg.Locks,
		records:   cfg.Records,
		publisher: cfg.Publisher,
		clock:     clock,
		logger:    logger,
	}
}

// parseInt парсит число из query, при ошибке возвращает def.
func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
