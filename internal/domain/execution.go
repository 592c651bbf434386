package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubmitRequest — то, что координатор передаёт движку при запуске фазы.
type SubmitRequest struct {
	// AttemptID — идентификатор попытки, он же владелец блокировки.
	AttemptID string `json:"attempt_id"`

	ParentID    uuid.UUID `json:"parent_id"`
	PhaseNumber int       `json:"phase_number"`
	TicketID    string    `json:"ticket_id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	DocRefs     []string  `json:"doc_refs,omitempty"`
}

// NewSubmitRequest собирает запрос на запуск фазы.
func NewSubmitRequest(ph *Phase, attemptID string) SubmitRequest {
	return SubmitRequest{
		AttemptID:   attemptID,
		ParentID:    ph.ParentID,
		PhaseNumber: ph.Number,
		TicketID:    ph.TicketID,
		Title:       ph.Title,
		Content:     ph.Content,
		DocRefs:     append([]string(nil), ph.DocRefs...),
	}
}

// ExecutionStatus — результат опроса движка.
type ExecutionStatus struct {
	State     ExecutionState `json:"state"`
	Error     string         `json:"error,omitempty"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
}

// Artifact — результат работы движка в трекере (pull request).
type Artifact struct {
	// ID — ссылка вида "owner/repo#N".
	ID     string        `json:"id"`
	URL    string        `json:"url,omitempty"`
	Branch string        `json:"branch,omitempty"`
	State  ArtifactState `json:"state"`
}

// ExecutionRecord — запись журнала запусков.
//
// Журнал только дополняется и не является источником истины
// для статусов фаз.
type ExecutionRecord struct {
	ID          uuid.UUID      `json:"id"`
	AttemptID   string         `json:"attempt_id,omitempty"`
	ParentID    uuid.UUID      `json:"parent_id"`
	PhaseNumber int            `json:"phase_number"`
	TicketID    string         `json:"ticket_id"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Event       ExecutionEvent `json:"event"`
	Detail      string         `json:"detail,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// CheckResult — результат одной проверки pre-flight.
type CheckResult struct {
	Name        string        `json:"name"`
	Outcome     CheckOutcome  `json:"outcome"`
	Blocking    bool          `json:"blocking"`
	Message     string        `json:"message,omitempty"`
	Remediation string        `json:"remediation,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Blocks возвращает true, если результат запрещает запуск.
func (c CheckResult) Blocks() bool {
	return c.Blocking && c.Outcome == CheckFail
}
