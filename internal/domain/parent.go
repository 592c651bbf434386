package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ParentRequest — многофазный запрос: упорядоченный список фаз,
// выполняемых строго последовательно.
//
// Инвариант: в любой момент не более одной фазы в статусе RUNNING.
type ParentRequest struct {
	// ID — уникальный идентификатор запроса.
	ID uuid.UUID `json:"id"`

	// TicketID — родительский тикет во внешнем трекере.
	TicketID string `json:"ticket_id"`

	// Title — заголовок запроса.
	Title string `json:"title"`

	// Status — агрегированный статус, вычисляется из фаз.
	Status ParentStatus `json:"status"`

	// Phases — фазы, отсортированные по Number.
	Phases []Phase `json:"phases"`

	// CreatedAt — время приёма запроса.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения любой фазы.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewParentRequest валидирует описание фаз и создаёт запрос
// со всеми фазами в статусе QUEUED.
func NewParentRequest(ticketID, title string, specs []PhaseSpec, now time.Time) (*ParentRequest, error) {
	if err := ValidatePhaseSpecs(specs); err != nil {
		return nil, err
	}
	if strings.TrimSpace(title) == "" {
		return nil, NewValidationError("title", "is required")
	}

	p := &ParentRequest{
		ID:        uuid.New(),
		TicketID:  strings.TrimSpace(ticketID),
		Title:     strings.TrimSpace(title),
		Status:    ParentStatusActive,
		Phases:    make([]Phase, 0, len(specs)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, s := range specs {
		p.Phases = append(p.Phases, Phase{
			ParentID:  p.ID,
			Number:    s.Number,
			Title:     strings.TrimSpace(s.Title),
			Content:   s.Content,
			DocRefs:   append([]string(nil), s.DocRefs...),
			TicketID:  strings.TrimSpace(s.TicketID),
			Status:    PhaseStatusQueued,
			UpdatedAt: now,
		})
	}
	return p, nil
}

// ParentCursor — позиция запроса в порядке (CreatedAt, ID).
// Нулевое значение означает начало списка.
type ParentCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// IsZero возвращает true для начала списка.
func (c ParentCursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.ID == uuid.Nil
}

// Precedes возвращает true, если запрос p идёт строго после позиции c.
func (c ParentCursor) Precedes(p *ParentRequest) bool {
	if c.IsZero() {
		return true
	}
	if p.CreatedAt.Equal(c.CreatedAt) {
		return p.ID.String() > c.ID.String()
	}
	return p.CreatedAt.After(c.CreatedAt)
}

// Cursor возвращает позицию запроса для постраничного обхода.
func (r *ParentRequest) Cursor() ParentCursor {
	return ParentCursor{CreatedAt: r.CreatedAt, ID: r.ID}
}

// ValidatePhaseSpecs проверяет нумерацию и обязательные поля фаз.
//
// Номера должны идти подряд с 1 в порядке следования.
func ValidatePhaseSpecs(specs []PhaseSpec) error {
	if len(specs) == 0 {
		return NewValidationError("phases", "at least one phase is required")
	}
	for i, s := range specs {
		field := fmt.Sprintf("phases[%d]", i)
		if s.Number != i+1 {
			return NewValidationError(field+".number",
				fmt.Sprintf("expected %d, got %d (phases must be numbered contiguously from 1)", i+1, s.Number))
		}
		if strings.TrimSpace(s.Title) == "" {
			return NewValidationError(field+".title", "is required")
		}
		if strings.TrimSpace(s.TicketID) == "" {
			return NewValidationError(field+".ticket_id", "is required")
		}
	}
	return nil
}

// Clone возвращает глубокую копию запроса.
func (r *ParentRequest) Clone() *ParentRequest {
	c := *r
	c.Phases = make([]Phase, len(r.Phases))
	for i := range r.Phases {
		c.Phases[i] = r.Phases[i].clone()
	}
	return &c
}

// Phase возвращает фазу по номеру.
func (r *ParentRequest) Phase(n int) (*Phase, error) {
	if n < 1 || n > len(r.Phases) || r.Phases[n-1].Number != n {
		return nil, fmt.Errorf("%w: %d in %s", ErrPhaseNotFound, n, r.ID)
	}
	return &r.Phases[n-1], nil
}

// RunningPhase возвращает фазу в статусе RUNNING или nil.
func (r *ParentRequest) RunningPhase() *Phase {
	for i := range r.Phases {
		if r.Phases[i].Status == PhaseStatusRunning {
			return &r.Phases[i]
		}
	}
	return nil
}

// LowestReady возвращает READY фазу с наименьшим номером или nil.
func (r *ParentRequest) LowestReady() *Phase {
	for i := range r.Phases {
		if r.Phases[i].Status == PhaseStatusReady {
			return &r.Phases[i]
		}
	}
	return nil
}

// NextEligible возвращает QUEUED фазу с наименьшим номером,
// если она может стать READY (первая фаза или предыдущая COMPLETED).
func (r *ParentRequest) NextEligible() *Phase {
	for i := range r.Phases {
		ph := &r.Phases[i]
		if ph.Status != PhaseStatusQueued {
			continue
		}
		if r.predecessorCompleted(ph.Number) {
			return ph
		}
		return nil
	}
	return nil
}

// Next возвращает фазу n+1 или nil, если n последняя.
func (r *ParentRequest) Next(n int) *Phase {
	if n < 1 || n >= len(r.Phases) {
		return nil
	}
	return &r.Phases[n]
}

// Downstream возвращает номера фаз после n, которые ещё не в финальном статусе.
func (r *ParentRequest) Downstream(n int) []int {
	var out []int
	for i := range r.Phases {
		ph := &r.Phases[i]
		if ph.Number > n && !ph.Status.IsTerminal() && ph.Status != PhaseStatusRunning {
			out = append(out, ph.Number)
		}
	}
	return out
}

// BlockedAfter возвращает номера фаз после n в статусе BLOCKED.
func (r *ParentRequest) BlockedAfter(n int) []int {
	var out []int
	for i := range r.Phases {
		if r.Phases[i].Number > n && r.Phases[i].Status == PhaseStatusBlocked {
			out = append(out, r.Phases[i].Number)
		}
	}
	return out
}

// RefreshStatus пересчитывает агрегированный статус запроса.
func (r *ParentRequest) RefreshStatus() {
	completed := 0
	for i := range r.Phases {
		switch r.Phases[i].Status {
		case PhaseStatusFailed:
			r.Status = ParentStatusFailed
			return
		case PhaseStatusCompleted:
			completed++
		case PhaseStatusQueued, PhaseStatusReady, PhaseStatusRunning, PhaseStatusBlocked:
		default:
			// неизвестный статус не считается завершённым
		}
	}
	if len(r.Phases) > 0 && completed == len(r.Phases) {
		r.Status = ParentStatusCompleted
		return
	}
	r.Status = ParentStatusActive
}

// MarkReady переводит фазу n из QUEUED в READY.
//
// Разрешено только для первой фазы или если фаза n-1 в COMPLETED.
func (r *ParentRequest) MarkReady(n int, now time.Time) error {
	ph, err := r.Phase(n)
	if err != nil {
		return err
	}
	if ph.Status != PhaseStatusQueued {
		return r.transitionError(ph, PhaseStatusReady, "phase is not QUEUED")
	}
	if !r.predecessorCompleted(n) {
		return r.transitionError(ph, PhaseStatusReady, fmt.Sprintf("phase %d is not COMPLETED", n-1))
	}
	ph.Status = PhaseStatusReady
	r.touch(ph, now)
	return nil
}

// MarkRunning переводит фазу n из READY в RUNNING.
//
// Отказывает, если у запроса уже есть другая фаза в RUNNING.
func (r *ParentRequest) MarkRunning(n int, executionID, holderID string, now time.Time) error {
	ph, err := r.Phase(n)
	if err != nil {
		return err
	}
	if ph.Status != PhaseStatusReady {
		return r.transitionError(ph, PhaseStatusRunning, "phase is not READY")
	}
	if running := r.RunningPhase(); running != nil {
		te := r.transitionError(ph, PhaseStatusRunning, fmt.Sprintf("phase %d is RUNNING", running.Number))
		te.Err = ErrAnotherPhaseRunning
		return te
	}
	if executionID == "" {
		return r.transitionError(ph, PhaseStatusRunning, "execution id is empty")
	}
	ph.Status = PhaseStatusRunning
	ph.ExecutionID = executionID
	ph.LockHolder = holderID
	ph.VerifyAttempts = 0
	started := now
	ph.StartedAt = &started
	r.touch(ph, now)
	return nil
}

// MarkCompleted переводит фазу n из RUNNING в COMPLETED.
//
// Следующая фаза не продвигается: это делает финализатор отдельным вызовом.
func (r *ParentRequest) MarkCompleted(n int, now time.Time) error {
	ph, err := r.Phase(n)
	if err != nil {
		return err
	}
	if ph.Status != PhaseStatusRunning {
		return r.transitionError(ph, PhaseStatusCompleted, "phase is not RUNNING")
	}
	ph.Status = PhaseStatusCompleted
	ph.CancelRequested = false
	finished := now
	ph.FinishedAt = &finished
	r.touch(ph, now)
	return nil
}

// MarkFailed переводит фазу n из RUNNING в FAILED и блокирует
// все последующие фазы, которые ещё не в финальном статусе.
//
// Возвращает номера фаз, заблокированных этим вызовом.
func (r *ParentRequest) MarkFailed(n int, summary string, now time.Time) ([]int, error) {
	ph, err := r.Phase(n)
	if err != nil {
		return nil, err
	}
	if ph.Status != PhaseStatusRunning {
		return nil, r.transitionError(ph, PhaseStatusFailed, "phase is not RUNNING")
	}
	ph.Status = PhaseStatusFailed
	ph.ErrorSummary = summary
	finished := now
	ph.FinishedAt = &finished
	r.touch(ph, now)

	blocked := r.Downstream(n)
	for _, num := range blocked {
		down := &r.Phases[num-1]
		down.Status = PhaseStatusBlocked
		r.touch(down, now)
	}
	return blocked, nil
}

// RequestCancel помечает выполняющуюся фазу для отмены.
// Сама отмена выполняется координатором на следующем тике.
func (r *ParentRequest) RequestCancel(n int, reason string, now time.Time) error {
	ph, err := r.Phase(n)
	if err != nil {
		return err
	}
	if ph.Status != PhaseStatusRunning {
		return r.transitionError(ph, ph.Status, "only a RUNNING phase can be cancelled")
	}
	ph.CancelRequested = true
	ph.CancelReason = reason
	r.touch(ph, now)
	return nil
}

// RecordVerifyAttempt увеличивает счётчик неоднозначных проверок результата.
func (r *ParentRequest) RecordVerifyAttempt(n int, now time.Time) (int, error) {
	ph, err := r.Phase(n)
	if err != nil {
		return 0, err
	}
	if ph.Status != PhaseStatusRunning {
		return 0, r.transitionError(ph, ph.Status, "phase is not RUNNING")
	}
	ph.VerifyAttempts++
	r.touch(ph, now)
	return ph.VerifyAttempts, nil
}

// predecessorCompleted проверяет, что фаза n-1 завершена (или n первая).
func (r *ParentRequest) predecessorCompleted(n int) bool {
	if n == 1 {
		return true
	}
	prev, err := r.Phase(n - 1)
	if err != nil {
		return false
	}
	return prev.Status == PhaseStatusCompleted
}

func (r *ParentRequest) touch(ph *Phase, now time.Time) {
	ph.UpdatedAt = now
	r.UpdatedAt = now
	r.RefreshStatus()
}

func (r *ParentRequest) transitionError(ph *Phase, to PhaseStatus, reason string) *TransitionError {
	return &TransitionError{
		ParentID: r.ID.String(),
		Phase:    ph.Number,
		From:     ph.Status,
		To:       to,
		Reason:   reason,
	}
}
