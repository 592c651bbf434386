package orchestrator

import (
	"context"

	"github.com/shaiso/Phasegate/internal/domain"
	"github.com/shaiso/Phasegate/internal/mq"
	"github.com/shaiso/Phasegate/internal/preflight"
)

// Engine — внешний движок выполнения фаз.
type Engine interface {
	// Submit запускает выполнение и возвращает его идентификатор.
	Submit(ctx context.Context, req domain.SubmitRequest) (string, error)

	// Poll возвращает текущее состояние выполнения.
	Poll(ctx context.Context, executionID string) (domain.ExecutionStatus, error)

	// Cancel останавливает выполнение. Повторный вызов не ошибка.
	Cancel(ctx context.Context, executionID string) error
}

// Ticketing — внешний трекер задач.
type Ticketing interface {
	PostComment(ctx context.Context, ticketID, body string) error
	HasComment(ctx context.Context, ticketID, marker string) (bool, error)

	// FindArtifactForExecution ищет артефакт выполнения. nil, если не найден.
	FindArtifactForExecution(ctx context.Context, ticketID, executionID string) (*domain.Artifact, error)
	GetArtifact(ctx context.Context, artifactID string) (*domain.Artifact, error)
	CloseArtifact(ctx context.Context, artifact domain.Artifact, report string) error
	CloseTicket(ctx context.Context, ticketID, report string) error
}

// Recorder — журнал запусков.
type Recorder interface {
	Append(ctx context.Context, rec domain.ExecutionRecord) error
}

// Gate — pre-flight проверки перед запуском.
type Gate interface {
	Run(ctx context.Context) preflight.Report
}

// EventPublisher публикует события жизненного цикла фаз.
type EventPublisher interface {
	PublishPhaseEvent(ctx context.Context, payload mq.PhaseEventPayload) error
}
