package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Phasegate/internal/domain"
)

// Store — хранилище родительских запросов.
type Store interface {
	// Create сохраняет новый запрос.
	Create(ctx context.Context, p *domain.ParentRequest) error

	// Get возвращает копию запроса.
	Get(ctx context.Context, id uuid.UUID) (*domain.ParentRequest, error)

	// ListActive возвращает запросы в статусе ACTIVE, старые первыми.
	ListActive(ctx context.Context, limit int) ([]domain.ParentRequest, error)

	// ListActiveAfter продолжает ListActive с позиции after.
	ListActiveAfter(ctx context.Context, after domain.ParentCursor, limit int) ([]domain.ParentRequest, error)

	// Update атомарно применяет fn к запросу.
	// Если fn вернула ошибку, изменения не сохраняются.
	Update(ctx context.Context, id uuid.UUID, fn func(p *domain.ParentRequest) error) (*domain.ParentRequest, error)
}

// Queue — очередь фаз.
type Queue struct {
	store  Store
	logger *slog.Logger
}

// New создаёт новую Queue.
func New(store Store, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{store: store, logger: logger}
}

// SubmitInput — входные данные для приёма запроса.
type SubmitInput struct {
	TicketID string             `json:"ticket_id" yaml:"ticket_id"`
	Title    string             `json:"title" yaml:"title"`
	Phases   []domain.PhaseSpec `json:"phases" yaml:"phases"`
}

// Submit валидирует и сохраняет новый запрос. Все фазы создаются в QUEUED.
func (q *Queue) Submit(ctx context.Context, in SubmitInput, now time.Time) (*domain.ParentRequest, error) {
	p, err := domain.NewParentRequest(in.TicketID, in.Title, in.Phases, now)
	if err != nil {
		return nil, err
	}
	if err := q.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create parent request: %w", err)
	}

	q.logger.Info("parent request submitted",
		"parent_id", p.ID,
		"ticket_id", p.TicketID,
		"phases", len(p.Phases),
	)
	return p, nil
}

// Get возвращает запрос по ID.
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*domain.ParentRequest, error) {
	return q.store.Get(ctx, id)
}

// ListActive возвращает активные запросы.
func (q *Queue) ListActive(ctx context.Context, limit int) ([]domain.ParentRequest, error) {
	return q.store.ListActive(ctx, limit)
}

// ListActiveAfter возвращает следующую страницу активных запросов.
func (q *Queue) ListActiveAfter(ctx context.Context, after domain.ParentCursor, limit int) ([]domain.ParentRequest, error) {
	return q.store.ListActiveAfter(ctx, after, limit)
}

// MarkReady переводит фазу n в READY.
func (q *Queue) MarkReady(ctx context.Context, parentID uuid.UUID, n int, now time.Time) error {
	_, err := q.store.Update(ctx, parentID, func(p *domain.ParentRequest) error {
		return p.MarkReady(n, now)
	})
	if err != nil {
		return err
	}
	q.logger.Debug("phase ready", "parent_id", parentID, "phase", n)
	return nil
}

// MarkRunning переводит фазу n в RUNNING и запоминает идентификатор выполнения.
func (q *Queue) MarkRunning(ctx context.Context, parentID uuid.UUID, n int, executionID, holderID string, now time.Time) error {
	_, err := q.store.Update(ctx, parentID, func(p *domain.ParentRequest) error {
		return p.MarkRunning(n, executionID, holderID, now)
	})
	if err != nil {
		return err
	}
	q.logger.Debug("phase running", "parent_id", parentID, "phase", n, "execution_id", executionID)
	return nil
}

// MarkCompleted переводит фазу n в COMPLETED.
func (q *Queue) MarkCompleted(ctx context.Context, parentID uuid.UUID, n int, now time.Time) error {
	_, err := q.store.Update(ctx, parentID, func(p *domain.ParentRequest) error {
		return p.MarkCompleted(n, now)
	})
	if err != nil {
		return err
	}
	q.logger.Debug("phase completed", "parent_id", parentID, "phase", n)
	return nil
}

// MarkFailed переводит фазу n в FAILED и блокирует последующие фазы.
// Возвращает номера заблокированных фаз.
func (q *Queue) MarkFailed(ctx context.Context, parentID uuid.UUID, n int, summary string, now time.Time) ([]int, error) {
	var blocked []int
	_, err := q.store.Update(ctx, parentID, func(p *domain.ParentRequest) error {
		var err error
		blocked, err = p.MarkFailed(n, summary, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	q.logger.Debug("phase failed", "parent_id", parentID, "phase", n, "blocked", blocked)
	return blocked, nil
}

// RequestCancel помечает выполняющуюся фазу для отмены.
func (q *Queue) RequestCancel(ctx context.Context, parentID uuid.UUID, n int, reason string, now time.Time) error {
	_, err := q.store.Update(ctx, parentID, func(p *domain.ParentRequest) error {
		return p.RequestCancel(n, reason, now)
	})
	return err
}

// RecordVerifyAttempt увеличивает счётчик неоднозначных проверок фазы n.
func (q *Queue) RecordVerifyAttempt(ctx context.Context, parentID uuid.UUID, n int, now time.Time) (int, error) {
	var attempts int
	_, err := q.store.Update(ctx, parentID, func(p *domain.ParentRequest) error {
		var err error
		attempts, err = p.RecordVerifyAttempt(n, now)
		return err
	})
	return attempts, err
}

// IsAlreadyIn сообщает, что переход отклонён, потому что фаза уже в статусе st.
// Используется для идемпотентных повторов финализации и очистки.
func IsAlreadyIn(err error, st domain.PhaseStatus) bool {
	var te *domain.TransitionError
	return errors.As(err, &te) && te.From == st
}
