package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/Phasegate/internal/domain"
	"github.com/shaiso/Phasegate/internal/lock"
	"github.com/shaiso/Phasegate/internal/mq"
	"github.com/shaiso/Phasegate/internal/queue"
	"github.com/shaiso/Phasegate/internal/report"
	"github.com/shaiso/Phasegate/internal/telemetry"
)

// effects — общие зависимости шагов с внешними побочными эффектами.
// Ошибки шагов логируются и считаются в метриках, но не прерывают
// переходы состояния.
type effects struct {
	queue    *queue.Queue
	locks    *lock.Service
	tickets  Ticketing
	renderer *report.Renderer
	recorder Recorder
	events   EventPublisher
	logger   *slog.Logger
}

// stepFailed фиксирует ошибку шага с побочным эффектом.
func (e *effects) stepFailed(log *slog.Logger, step string, err error) {
	telemetry.SideEffectErrorsTotal.WithLabelValues(step).Inc()
	log.Warn("side effect failed", "step", step, "error", err)
}

// postOnce публикует комментарий, если в тикете ещё нет комментария с marker.
//
// Если проверку выполнить не удалось, комментарий всё равно публикуется:
// дубль лучше потерянного отчёта.
func (e *effects) postOnce(ctx context.Context, log *slog.Logger, step, ticketID, marker string, render func() (string, error)) bool {
	if ticketID == "" {
		return false
	}

	has, err := e.tickets.HasComment(ctx, ticketID, marker)
	if err != nil {
		e.stepFailed(log, step+"_lookup", err)
	} else if has {
		log.Debug("comment already posted", "step", step, "ticket_id", ticketID)
		return false
	}

	body, err := render()
	if err != nil {
		e.stepFailed(log, step, err)
		return false
	}

	if err := e.tickets.PostComment(ctx, ticketID, body); err != nil {
		e.stepFailed(log, step, err)
		return false
	}
	return true
}

// record добавляет запись в журнал запусков. Ошибка журнала не ошибка фазы.
func (e *effects) record(ctx context.Context, ph *domain.Phase, event domain.ExecutionEvent, detail string, now time.Time) {
	if e.recorder == nil {
		return
	}

	rec := domain.ExecutionRecord{
		AttemptID:   ph.LockHolder,
		ParentID:    ph.ParentID,
		PhaseNumber: ph.Number,
		TicketID:    ph.TicketID,
		ExecutionID: ph.ExecutionID,
		Event:       event,
		Detail:      detail,
		CreatedAt:   now,
	}
	if err := e.recorder.Append(ctx, rec); err != nil {
		e.logger.Warn("failed to append execution record",
			"parent_id", ph.ParentID,
			"phase", ph.Number,
			"event", event,
			"error", err,
		)
	}
}

// publish отправляет событие фазы подписчикам, если брокер настроен.
func (e *effects) publish(ctx context.Context, ph *domain.Phase, event domain.ExecutionEvent, detail string) {
	if e.events == nil {
		return
	}

	err := e.events.PublishPhaseEvent(ctx, mq.PhaseEventPayload{
		ParentID:    ph.ParentID,
		Phase:       ph.Number,
		TicketID:    ph.TicketID,
		ExecutionID: ph.ExecutionID,
		Event:       string(event),
		Detail:      detail,
	})
	if err != nil {
		e.logger.Debug("failed to publish phase event", "event", event, "error", err)
	}
}

// releaseLock освобождает блокировку тикета фазы, если она известна.
func (e *effects) releaseLock(ctx context.Context, ph *domain.Phase) {
	if ph.LockHolder == "" {
		return
	}
	e.locks.Release(ctx, ph.TicketID, ph.LockHolder)
}

// locateArtifact находит артефакт выполнения. Предпочитает артефакт,
// о котором сообщил движок, и перечитывает его состояние из трекера.
func (e *effects) locateArtifact(ctx context.Context, ph *domain.Phase, reported []domain.Artifact) (*domain.Artifact, error) {
	for _, a := range reported {
		if a.ID == "" {
			continue
		}
		fresh, err := e.tickets.GetArtifact(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		if fresh != nil {
			return fresh, nil
		}
	}
	return e.tickets.FindArtifactForExecution(ctx, ph.TicketID, ph.ExecutionID)
}
