package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Phasegate/internal/domain"
	"github.com/shaiso/Phasegate/internal/queue"
	"github.com/shaiso/Phasegate/internal/report"
	"github.com/shaiso/Phasegate/internal/telemetry"
)

// DefaultMaxVerifyAttempts — сколько опросов подряд проверка результата
// может быть неоднозначной, прежде чем фаза будет признана упавшей.
const DefaultMaxVerifyAttempts = 3

// SuccessFinalizer завершает фазу, о которой движок сообщил как об успешной.
//
// Шаги:
//  1. проверка, что артефакт выполнения действительно слит;
//  2. отчёт об успехе в тикет фазы;
//  3. освобождение блокировки тикета;
//  4. перевод фазы в COMPLETED;
//  5. перевод следующей фазы в READY или уведомление о завершении запроса.
type SuccessFinalizer struct {
	*effects

	cleanup           *FailureCleanup
	maxVerifyAttempts int
	requireArtifact   bool
	closeParentTicket bool
}

// Run финализирует фазу n запроса p.
func (f *SuccessFinalizer) Run(ctx context.Context, p *domain.ParentRequest, n int, st domain.ExecutionStatus, now time.Time) error {
	ph, err := p.Phase(n)
	if err != nil {
		return err
	}
	log := telemetry.WithPhase(f.logger, p.ID.String(), n).With("execution_id", ph.ExecutionID)

	// 1. Проверка результата
	artifact, reason := f.verify(ctx, log, ph, st.Artifacts)
	if reason != "" {
		return f.inconclusive(ctx, log, p, ph, st, reason, now)
	}

	data := report.SuccessData{
		ParentID:    p.ID.String(),
		Phase:       n,
		Title:       ph.Title,
		ExecutionID: ph.ExecutionID,
	}
	if artifact != nil {
		data.ArtifactID = artifact.ID
		data.ArtifactURL = artifact.URL
	}
	next := p.Next(n)
	if next != nil {
		data.Next = next.Number
	}

	// 2. Отчёт в тикет фазы
	f.postOnce(ctx, log, "success_comment", ph.TicketID,
		report.SuccessMarker(data.ParentID, n, ph.ExecutionID),
		func() (string, error) { return f.renderer.Success(data) })

	// 3. Блокировка
	f.releaseLock(ctx, ph)

	// 4. Статус
	if err := f.queue.MarkCompleted(ctx, p.ID, n, now); err != nil && !queue.IsAlreadyIn(err, domain.PhaseStatusCompleted) {
		return fmt.Errorf("mark phase %d completed: %w", n, err)
	}
	telemetry.PhaseOutcomesTotal.WithLabelValues("completed").Inc()
	f.record(ctx, ph, domain.EventCompleted, data.ArtifactID, now)
	f.publish(ctx, ph, domain.EventCompleted, data.ArtifactID)
	log.Info("phase completed", "artifact_id", data.ArtifactID, "duration", now.Sub(startedAt(ph, now)))

	// 5. Следующая фаза
	if next != nil {
		if err := f.queue.MarkReady(ctx, p.ID, next.Number, now); err != nil && !queue.IsAlreadyIn(err, domain.PhaseStatusReady) {
			return fmt.Errorf("mark phase %d ready: %w", next.Number, err)
		}
		log.Info("next phase ready", "next_phase", next.Number)
		return nil
	}

	f.completeParent(ctx, log, p)
	return nil
}

// verify возвращает артефакт и пустую причину, если результат подтверждён.
// Непустая причина означает неоднозначный результат.
func (f *SuccessFinalizer) verify(ctx context.Context, log *slog.Logger, ph *domain.Phase, reported []domain.Artifact) (*domain.Artifact, string) {
	artifact, err := f.locateArtifact(ctx, ph, reported)
	if err != nil {
		f.stepFailed(log, "find_artifact", err)
		return nil, fmt.Sprintf("artifact lookup failed: %v", err)
	}

	if artifact == nil {
		if f.requireArtifact {
			return nil, "no artifact found for execution"
		}
		return nil, ""
	}

	switch artifact.State {
	case domain.ArtifactStateMerged:
		return artifact, ""
	case domain.ArtifactStateClosed:
		return artifact, fmt.Sprintf("artifact %s was closed without merge", artifact.ID)
	default:
		return artifact, fmt.Sprintf("artifact %s is not merged yet", artifact.ID)
	}
}

// inconclusive оставляет фазу в RUNNING до следующего опроса.
// Когда лимит попыток исчерпан, фаза отправляется в очистку.
func (f *SuccessFinalizer) inconclusive(ctx context.Context, log *slog.Logger, p *domain.ParentRequest, ph *domain.Phase,
	st domain.ExecutionStatus, reason string, now time.Time) error {
	attempts, err := f.queue.RecordVerifyAttempt(ctx, p.ID, ph.Number, now)
	if err != nil {
		return fmt.Errorf("record verify attempt: %w", err)
	}
	f.record(ctx, ph, domain.EventVerifyPending, reason, now)

	if attempts < f.maxVerifyAttempts {
		log.Info("verification inconclusive, will re-check on next poll",
			"reason", reason,
			"attempt", attempts,
			"max_attempts", f.maxVerifyAttempts,
		)
		return nil
	}

	log.Warn("verification attempts exhausted", "reason", reason, "attempts", attempts)
	return f.cleanup.Run(ctx, p, ph.Number, Failure{
		Summary:   "execution reported success but " + reason,
		Artifacts: st.Artifacts,
		Event:     domain.EventFailed,
	}, now)
}

// completeParent уведомляет родительский тикет о завершении всех фаз.
func (f *SuccessFinalizer) completeParent(ctx context.Context, log *slog.Logger, p *domain.ParentRequest) {
	if p.TicketID == "" {
		log.Info("parent request completed")
		return
	}

	data := report.ParentData{
		ParentID: p.ID.String(),
		Title:    p.Title,
		Phases:   len(p.Phases),
	}
	render := func() (string, error) { return f.renderer.ParentCompleted(data) }

	if f.closeParentTicket {
		body, err := render()
		if err == nil {
			err = f.tickets.CloseTicket(ctx, p.TicketID, body)
		}
		if err != nil {
			f.stepFailed(log, "close_parent_ticket", err)
		}
	} else {
		f.postOnce(ctx, log, "parent_completed", p.TicketID, report.ParentCompletedMarker(data.ParentID), render)
	}

	log.Info("parent request completed", "ticket_id", p.TicketID)
}

func startedAt(ph *domain.Phase, now time.Time) time.Time {
	if ph.StartedAt == nil {
		return now
	}
	return *ph.StartedAt
}
