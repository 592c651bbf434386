package orchestrator

import (
	"context"
	"errors"

	"github.com/shaiso/Phasegate/internal/domain"
	"github.com/shaiso/Phasegate/internal/mq"
)

// newConsumers создаёт consumers для событий, ускоряющих тик.
func (o *Orchestrator) newConsumers() []*mq.Consumer {
	return []*mq.Consumer{
		mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueParentsSubmitted),
			Handler:  o.handleParentSubmitted,
			Prefetch: 10,
		}),
		mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueuePhasesCancel),
			Handler:  o.handlePhaseCancel,
			Prefetch: 10,
		}),
		mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueExecutionsFinished),
			Handler:  o.handleExecutionFinished,
			Prefetch: 10,
		}),
	}
}

// handleParentSubmitted запускает первую фазу нового запроса, не дожидаясь тика.
func (o *Orchestrator) handleParentSubmitted(ctx context.Context, msg mq.Message) error {
	payload, err := mq.ParsePayload[mq.ParentSubmittedPayload](msg)
	if err != nil {
		o.logger.Error("failed to parse parent.submitted payload", "error", err)
		return err
	}

	o.logger.Debug("received parent.submitted event", "parent_id", payload.ParentID)
	return o.tickFromEvent(payload.ParentID.String(), func() error {
		return o.TickParent(ctx, payload.ParentID, o.clock.Now())
	})
}

// handlePhaseCancel помечает фазу для отмены и сразу выполняет тик.
func (o *Orchestrator) handlePhaseCancel(ctx context.Context, msg mq.Message) error {
	payload, err := mq.ParsePayload[mq.PhaseCancelPayload](msg)
	if err != nil {
		o.logger.Error("failed to parse phase.cancel payload", "error", err)
		return err
	}

	o.logger.Debug("received phase.cancel event", "parent_id", payload.ParentID, "phase", payload.Phase)

	if err := o.Cancel(ctx, payload.ParentID, payload.Phase, payload.Reason); err != nil {
		// Фаза уже не выполняется — отменять нечего
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) ||
			errors.Is(err, domain.ErrPhaseNotFound) {
			o.logger.Info("cancel ignored", "parent_id", payload.ParentID, "phase", payload.Phase, "reason", err)
			return nil
		}
		return err
	}

	return o.tickFromEvent(payload.ParentID.String(), func() error {
		return o.TickParent(ctx, payload.ParentID, o.clock.Now())
	})
}

// handleExecutionFinished опрашивает движок сразу после уведомления о завершении.
func (o *Orchestrator) handleExecutionFinished(ctx context.Context, msg mq.Message) error {
	payload, err := mq.ParsePayload[mq.ExecutionFinishedPayload](msg)
	if err != nil {
		o.logger.Error("failed to parse execution.finished payload", "error", err)
		return err
	}

	o.logger.Debug("received execution.finished event",
		"parent_id", payload.ParentID,
		"phase", payload.Phase,
		"execution_id", payload.ExecutionID,
	)
	return o.tickFromEvent(payload.ParentID.String(), func() error {
		return o.TickParent(ctx, payload.ParentID, o.clock.Now())
	})
}

// tickFromEvent выполняет тик и решает, стоит ли повторять доставку.
// Повторяются только неожиданные ошибки: занятость запроса, отказ
// pre-flight и временные ошибки опроса догонит следующий тик.
func (o *Orchestrator) tickFromEvent(parentID string, tick func() error) error {
	if o.IsStopped() {
		return ErrOrchestratorStopped
	}

	err := tick()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrParentBusy), errors.Is(err, ErrPreflightBlocked),
		errors.Is(err, ErrPollingTransient), errors.Is(err, domain.ErrNotFound):
		o.logger.Debug("event tick deferred to poll loop", "parent_id", parentID, "reason", err)
		return nil
	default:
		o.logger.Error("event tick failed", "parent_id", parentID, "error", err)
		return err
	}
}
