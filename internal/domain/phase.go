package domain

import (
	"time"

	"github.com/google/uuid"
)

// Phase — одна фаза многофазного запроса.
//
// Фаза создаётся в статусе QUEUED при приёме запроса и никогда не удаляется.
// Все изменения статуса выполняются через методы ParentRequest, которые
// проверяют инварианты всего запроса.
type Phase struct {
	// ParentID — ссылка на родительский запрос.
	ParentID uuid.UUID `json:"parent_id"`

	// Number — порядковый номер фазы (1..N без пропусков).
	Number int `json:"number"`

	// Title — заголовок фазы.
	Title string `json:"title"`

	// Content — описание работы, передаётся движку как есть.
	Content string `json:"content"`

	// DocRefs — ссылки на документы, которые движок должен учитывать.
	DocRefs []string `json:"doc_refs,omitempty"`

	// TicketID — тикет фазы во внешнем трекере ("owner/repo#N").
	TicketID string `json:"ticket_id"`

	// Status — текущий статус фазы.
	Status PhaseStatus `json:"status"`

	// ExecutionID — идентификатор выполнения в движке.
	// Заполняется при переходе в RUNNING.
	ExecutionID string `json:"execution_id,omitempty"`

	// LockHolder — идентификатор попытки, под которым взята блокировка тикета.
	LockHolder string `json:"lock_holder,omitempty"`

	// ErrorSummary — краткое описание ошибки (только для FAILED).
	ErrorSummary string `json:"error_summary,omitempty"`

	// VerifyAttempts — сколько раз проверка результата оказалась неоднозначной.
	VerifyAttempts int `json:"verify_attempts,omitempty"`

	// CancelRequested — оператор запросил отмену выполнения.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	// CancelReason — причина отмены.
	CancelReason string `json:"cancel_reason,omitempty"`

	// StartedAt — время перехода в RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время перехода в финальный статус.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// UpdatedAt — время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если фаза ещё не завершена.
func (p *Phase) Duration() time.Duration {
	if p.StartedAt == nil || p.FinishedAt == nil {
		return 0
	}
	return p.FinishedAt.Sub(*p.StartedAt)
}

// clone возвращает глубокую копию фазы.
func (p Phase) clone() Phase {
	c := p
	if p.DocRefs != nil {
		c.DocRefs = append([]string(nil), p.DocRefs...)
	}
	if p.StartedAt != nil {
		t := *p.StartedAt
		c.StartedAt = &t
	}
	if p.FinishedAt != nil {
		t := *p.FinishedAt
		c.FinishedAt = &t
	}
	return c
}

// PhaseSpec — описание фазы при приёме запроса.
type PhaseSpec struct {
	Number   int      `json:"number" yaml:"number"`
	Title    string   `json:"title" yaml:"title"`
	Content  string   `json:"content" yaml:"content"`
	DocRefs  []string `json:"doc_refs,omitempty" yaml:"doc_refs,omitempty"`
	TicketID string   `json:"ticket_id" yaml:"ticket_id"`
}
