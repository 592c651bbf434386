package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shaiso/Phasegate/internal/mq"
	"github.com/shaiso/Phasegate/internal/queue"
)

// ListParents возвращает активные запросы, старые первыми.
// GET /api/v1/parents?limit=...
func (h *Handler) ListParents(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)

	parents, err := h.queue.ListActive(r.Context(), limit)
	if HandleError(w, h.logger, err, "") {
		return
	}

	result := make([]ParentResponse, len(parents))
	for i := range parents {
		result[i] = ParentFromDomain(&parents[i])
	}

	List(w, result, len(result))
}

// SubmitParent принимает новый многофазный запрос.
// POST /api/v1/parents
func (h *Handler) SubmitParent(w http.ResponseWriter, r *http.Request) {
	var req SubmitParentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	p, err := h.queue.Submit(r.Context(), queue.SubmitInput{
		TicketID: req.TicketID,
		Title:    req.Title,
		Phases:   req.Phases,
	}, h.clock.Now())
	if HandleError(w, h.logger, err, "") {
		return
	}

	if h.publisher != nil {
		if err := h.publisher.PublishParentSubmitted(r.Context(), p.ID); err != nil {
			// Не фатально: координатор подхватит запрос на следующем тике
			h.logger.Warn("failed to publish parent.submitted", "parent_id", p.ID, "error", err)
		}
	}

	Created(w, ParentFromDomain(p))
}

// GetParent возвращает запрос по ID.
// GET /api/v1/parents/{id}
func (h *Handler) GetParent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid parent id")
		return
	}

	p, err := h.queue.Get(r.Context(), id)
	if HandleError(w, h.logger, err, "parent not found") {
		return
	}

	Success(w, ParentFromDomain(p))
}

// ListExecutions возвращает журнал запусков запроса.
// GET /api/v1/parents/{id}/executions
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid parent id")
		return
	}

	if _, err := h.queue.Get(r.Context(), id); HandleError(w, h.logger, err, "parent not found") {
		return
	}

	records, err := h.records.ListByParent(r.Context(), id)
	if HandleError(w, h.logger, err, "") {
		return
	}

	result := make([]ExecutionRecordResponse, len(records))
	for i, rec := range records {
		result[i] = ExecutionRecordFromDomain(rec)
	}

	List(w, result, len(result))
}

// CancelPhase запрашивает отмену выполняющейся фазы.
// Саму отмену выполняет координатор, поэтому ответ 202.
// POST /api/v1/parents/{id}/phases/{number}/cancel
func (h *Handler) CancelPhase(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid parent id")
		return
	}
	n, err := strconv.Atoi(r.PathValue("number"))
	if err != nil || n < 1 {
		BadRequest(w, "invalid phase number")
		return
	}

	var req CancelPhaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "no reason given"
	}

	if err := h.queue.RequestCancel(r.Context(), id, n, reason, h.clock.Now()); HandleError(w, h.logger, err, "parent not found") {
		return
	}

	if h.publisher != nil {
		err := h.publisher.PublishPhaseCancel(r.Context(), mq.PhaseCancelPayload{
			ParentID: id,
			Phase:    n,
			Reason:   reason,
		})
		if err != nil {
			h.logger.Warn("failed to publish phase.cancel", "parent_id", id, "phase", n, "error", err)
		}
	}

	p, err := h.queue.Get(r.Context(), id)
	if HandleError(w, h.logger, err, "parent not found") {
		return
	}
	Accepted(w, ParentFromDomain(p))
}

// GetLock возвращает состояние блокировки тикета.
// GET /api/v1/locks?ticket_id=owner/repo%2312
func (h *Handler) GetLock(w http.ResponseWriter, r *http.Request) {
	ticketID := strings.TrimSpace(r.URL.Query().Get("ticket_id"))
	if ticketID == "" {
		BadRequest(w, "ticket_id is required")
		return
	}

	l, err := h.locks.Get(r.Context(), ticketID)
	if HandleError(w, h.logger, err, "lock not found") {
		return
	}
	held, err := h.locks.IsHeld(r.Context(), ticketID)
	if HandleError(w, h.logger, err, "lock not found") {
		return
	}

	Success(w, LockFromDomain(l, held))
}
