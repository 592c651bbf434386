package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Phasegate/internal/domain"
	"github.com/shaiso/Phasegate/internal/queue"
	"github.com/shaiso/Phasegate/internal/report"
	"github.com/shaiso/Phasegate/internal/telemetry"
)

// emptySummary подставляется, если движок не сообщил причину ошибки.
const emptySummary = "execution failed without an error message"

// Failure — причина перевода фазы в FAILED.
type Failure struct {
	// Summary — описание ошибки от движка или оператора.
	Summary string

	// Artifacts — артефакты, о которых сообщил движок.
	Artifacts []domain.Artifact

	// Event — запись журнала: FAILED или CANCELLED.
	Event domain.ExecutionEvent
}

// FailureCleanup выполняет очистку после ошибки фазы.
//
// Шаги выполняются по порядку, каждый независимо от успеха предыдущих:
//  1. поиск артефакта выполнения;
//  2. закрытие артефакта, если он открыт;
//  3. отчёт об ошибке в тикет фазы;
//  4. освобождение блокировки тикета;
//  5. перевод фазы в FAILED с блокировкой последующих фаз.
//
// Повторный запуск для той же фазы безопасен: комментарии дедуплицируются
// по маркеру, закрытие артефакта и освобождение блокировки идемпотентны.
type FailureCleanup struct {
	*effects
}

// Run выполняет очистку для фазы n запроса p.
// Возвращает ошибку, только если не удалось сохранить статус FAILED.
func (c *FailureCleanup) Run(ctx context.Context, p *domain.ParentRequest, n int, f Failure, now time.Time) error {
	ph, err := p.Phase(n)
	if err != nil {
		return err
	}
	if f.Summary == "" {
		f.Summary = emptySummary
	}
	if f.Event == "" {
		f.Event = domain.EventFailed
	}

	log := telemetry.WithPhase(c.logger, p.ID.String(), n).With("execution_id", ph.ExecutionID)
	log.Info("cleaning up failed phase", "summary", report.Truncate(f.Summary, 200))

	data := report.FailureData{
		ParentID:    p.ID.String(),
		Phase:       n,
		Title:       ph.Title,
		ExecutionID: ph.ExecutionID,
		Summary:     f.Summary,
		Blocked:     p.Downstream(n),
	}
	if ph.Status == domain.PhaseStatusFailed {
		data.Blocked = p.BlockedAfter(n)
	}

	// 1. Артефакт
	artifact, err := c.locateArtifact(ctx, ph, f.Artifacts)
	if err != nil {
		c.stepFailed(log, "find_artifact", err)
	}

	// 2. Закрытие открытого артефакта
	if artifact != nil {
		data.ArtifactID = artifact.ID
		data.ArtifactOutcome = report.ArtifactOutcomeFor(artifact.State)
		if artifact.State == domain.ArtifactStateOpen {
			body, err := c.renderer.ArtifactClose(data)
			if err == nil {
				err = c.tickets.CloseArtifact(ctx, *artifact, body)
			}
			if err != nil {
				data.ArtifactOutcome = report.ArtifactCloseFailed
				c.stepFailed(log, "close_artifact", err)
			} else {
				data.ArtifactOutcome = report.ArtifactClosed
				log.Info("artifact closed", "artifact_id", artifact.ID)
			}
		}
	}

	// 3. Отчёт в тикет фазы
	c.postOnce(ctx, log, "failure_comment", ph.TicketID,
		report.FailureMarker(data.ParentID, n, ph.ExecutionID),
		func() (string, error) { return c.renderer.Failure(data) })

	// 4. Блокировка освобождается всегда
	c.releaseLock(ctx, ph)

	// 5. Статус
	summary := report.Truncate(f.Summary, c.renderer.SummaryLimit())
	blocked, err := c.queue.MarkFailed(ctx, p.ID, n, summary, now)
	switch {
	case err == nil:
	case queue.IsAlreadyIn(err, domain.PhaseStatusFailed):
		log.Debug("phase already failed")
		return nil
	default:
		return fmt.Errorf("mark phase %d failed: %w", n, err)
	}

	// Уведомление в родительский тикет
	c.postOnce(ctx, log, "parent_halted", p.TicketID,
		report.ParentHaltedMarker(data.ParentID),
		func() (string, error) {
			return c.renderer.ParentHalted(report.ParentData{
				ParentID:    data.ParentID,
				Title:       p.Title,
				Phases:      len(p.Phases),
				FailedPhase: n,
				Blocked:     blocked,
				Summary:     f.Summary,
			})
		})

	outcome := "failed"
	if f.Event == domain.EventCancelled {
		outcome = "cancelled"
	}
	telemetry.PhaseOutcomesTotal.WithLabelValues(outcome).Inc()
	c.record(ctx, ph, f.Event, summary, now)
	c.publish(ctx, ph, f.Event, summary)

	log.Warn("phase failed", "blocked", blocked, "outcome", outcome)
	return nil
}
