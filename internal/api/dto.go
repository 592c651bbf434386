package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Phasegate/internal/domain"
)

// Parent DTOs

// SubmitParentRequest — запрос на приём многофазного запроса.
type SubmitParentRequest struct {
	TicketID string             `json:"ticket_id"`
	Title    string             `json:"title"`
	Phases   []domain.PhaseSpec `json:"phases"`
}

// ParentResponse — ответ с родительским запросом.
type ParentResponse struct {
	ID        uuid.UUID       `json:"id"`
	TicketID  string          `json:"ticket_id"`
	Title     string          `json:"title"`
	Status    string          `json:"status"`
	Phases    []PhaseResponse `json:"phases"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ParentFromDomain конвертирует domain.ParentRequest в ParentResponse.
func ParentFromDomain(p *domain.ParentRequest) ParentResponse {
	phases := make([]PhaseResponse, len(p.Phases))
	for i := range p.Phases {
		phases[i] = PhaseFromDomain(&p.Phases[i])
	}
	return ParentResponse{
		ID:        p.ID,
		TicketID:  p.TicketID,
		Title:     p.Title,
		Status:    string(p.Status),
		Phases:    phases,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// Phase DTOs

// PhaseResponse — ответ с фазой.
type PhaseResponse struct {
	Number          int        `json:"number"`
	Title           string     `json:"title"`
	TicketID        string     `json:"ticket_id"`
	Status          string     `json:"status"`
	DocRefs         []string   `json:"doc_refs,omitempty"`
	ExecutionID     string     `json:"execution_id,omitempty"`
	ErrorSummary    string     `json:"error_summary,omitempty"`
	VerifyAttempts  int        `json:"verify_attempts,omitempty"`
	CancelRequested bool       `json:"cancel_requested,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// PhaseFromDomain конвертирует domain.Phase в PhaseResponse.
func PhaseFromDomain(ph *domain.Phase) PhaseResponse {
	return PhaseResponse{
		Number:          ph.Number,
		Title:           ph.Title,
		TicketID:        ph.TicketID,
		Status:          string(ph.Status),
		DocRefs:         ph.DocRefs,
		ExecutionID:     ph.ExecutionID,
		ErrorSummary:    ph.ErrorSummary,
		VerifyAttempts:  ph.VerifyAttempts,
		CancelRequested: ph.CancelRequested,
		StartedAt:       ph.StartedAt,
		FinishedAt:      ph.FinishedAt,
		UpdatedAt:       ph.UpdatedAt,
	}
}

// CancelPhaseRequest — запрос оператора на отмену выполняющейся фазы.
type CancelPhaseRequest struct {
	Reason string `json:"reason"`
}

// Execution record DTOs

// ExecutionRecordResponse — запись журнала запусков.
type ExecutionRecordResponse struct {
	ID          uuid.UUID `json:"id"`
	PhaseNumber int       `json:"phase_number"`
	TicketID    string    `json:"ticket_id"`
	AttemptID   string    `json:"attempt_id,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Event       string    `json:"event"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExecutionRecordFromDomain конвертирует domain.ExecutionRecord в ExecutionRecordResponse.
func ExecutionRecordFromDomain(r domain.ExecutionRecord) ExecutionRecordResponse {
	return ExecutionRecordResponse{
		ID:          r.ID,
		PhaseNumber: r.PhaseNumber,
		TicketID:    r.TicketID,
		AttemptID:   r.AttemptID,
		ExecutionID: r.ExecutionID,
		Event:       string(r.Event),
		Detail:      r.Detail,
		CreatedAt:   r.CreatedAt,
	}
}

// Lock DTOs

// LockResponse — состояние блокировки тикета.
type LockResponse struct {
	TicketID   string     `json:"ticket_id"`
	HolderID   string     `json:"holder_id"`
	Status     string     `json:"status"`
	Held       bool       `json:"held"`
	AcquiredAt time.Time  `json:"acquired_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// LockFromDomain конвертирует domain.ExecutionLock в LockResponse.
// held — удерживается ли блокировка с учётом TTL.
func LockFromDomain(l *domain.ExecutionLock, held bool) LockResponse {
	return LockResponse{
		TicketID:   l.TicketID,
		HolderID:   l.HolderID,
		Status:     string(l.Status),
		Held:       held,
		AcquiredAt: l.AcquiredAt,
		ExpiresAt:  l.ExpiresAt,
		ReleasedAt: l.ReleasedAt,
	}
}
