package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Parents
	mux.Handle("GET /api/v1/parents", chain(http.HandlerFunc(h.ListParents)))
	mux.Handle("POST /api/v1/parents", chain(http.HandlerFunc(h.SubmitParent)))
	mux.Handle("GET /api/v1/parents/{id}", chain(http.HandlerFunc(h.GetParent)))
	mux.Handle("GET /api/v1/parents/{id}/executions", chain(http.HandlerFunc(h.ListExecutions)))

	// Phases
	mux.Handle("POST /api/v1/parents/{id}/phases/{number}/cancel", chain(http.HandlerFunc(h.CancelPhase)))

	// Locks
	mux.Handle("GET /api/v1/locks", chain(http.HandlerFunc(h.GetLock)))
}
