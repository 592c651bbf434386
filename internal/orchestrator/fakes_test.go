package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shaiso/Phasegate/internal/domain"
)

var errExecutionUnknown = errors.New("execution unknown")

// fakeEngine — движок в памяти. Каждый Submit создаёт выполнение в running.
type fakeEngine struct {
	mu        sync.Mutex
	seq       int
	submits   []domain.SubmitRequest
	statuses  map[string]domain.ExecutionStatus
	cancels   []string
	submitErr error
	pollErr   error

	// panicTicket — Submit для этого тикета паникует.
	panicTicket string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{statuses: make(map[string]domain.ExecutionStatus)}
}

func (e *fakeEngine) Submit(_ context.Context, req domain.SubmitRequest) (string, error) {
	if e.panicTicket != "" && req.TicketID == e.panicTicket {
		panic("engine exploded")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.submitErr != nil {
		return "", e.submitErr
	}
	e.seq++
	id := fmt.Sprintf("exec-%d", e.seq)
	e.submits = append(e.submits, req)
	e.statuses[id] = domain.ExecutionStatus{State: domain.ExecutionStateRunning}
	return id, nil
}

func (e *fakeEngine) Poll(_ context.Context, executionID string) (domain.ExecutionStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pollErr != nil {
		return domain.ExecutionStatus{}, e.pollErr
	}
	st, ok := e.statuses[executionID]
	if !ok {
		return domain.ExecutionStatus{}, errExecutionUnknown
	}
	return st, nil
}

func (e *fakeEngine) Cancel(_ context.Context, executionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancels = append(e.cancels, executionID)
	e.statuses[executionID] = domain.ExecutionStatus{State: domain.ExecutionStateFailed, Error: "cancelled"}
	return nil
}

func (e *fakeEngine) set(executionID string, st domain.ExecutionStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses[executionID] = st
}

func (e *fakeEngine) submitCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.submits)
}

func (e *fakeEngine) cancelled() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.cancels...)
}

// fakeTickets — трекер в памяти.
type fakeTickets struct {
	mu        sync.Mutex
	comments  map[string][]string
	artifacts map[string]*domain.Artifact // execution id → artifact
	closedPRs []string
	closed    []string
	postErr   error
	lookupErr error
	closeErr  error
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{
		comments:  make(map[string][]string),
		artifacts: make(map[string]*domain.Artifact),
	}
}

func (f *fakeTickets) PostComment(_ context.Context, ticketID, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.postErr != nil {
		return f.postErr
	}
	f.comments[ticketID] = append(f.comments[ticketID], body)
	return nil
}

func (f *fakeTickets) HasComment(_ context.Context, ticketID, marker string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lookupErr != nil {
		return false, f.lookupErr
	}
	for _, c := range f.comments[ticketID] {
		if strings.Contains(c, marker) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTickets) FindArtifactForExecution(_ context.Context, _, executionID string) (*domain.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	a, ok := f.artifacts[executionID]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeTickets) GetArtifact(_ context.Context, artifactID string) (*domain.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, a := range f.artifacts {
		if a.ID == artifactID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeTickets) CloseArtifact(_ context.Context, artifact domain.Artifact, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closeErr != nil {
		return f.closeErr
	}
	f.closedPRs = append(f.closedPRs, artifact.ID)
	for _, a := range f.artifacts {
		if a.ID == artifact.ID {
			a.State = domain.ArtifactStateClosed
		}
	}
	return nil
}

func (f *fakeTickets) CloseTicket(_ context.Context, ticketID, report string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = append(f.closed, ticketID)
	f.comments[ticketID] = append(f.comments[ticketID], report)
	return nil
}

func (f *fakeTickets) setArtifact(executionID string, a domain.Artifact) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts[executionID] = &a
}

func (f *fakeTickets) commentsOn(ticketID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.comments[ticketID]...)
}

func (f *fakeTickets) closedArtifacts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closedPRs...)
}

func (f *fakeTickets) closedTickets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}
