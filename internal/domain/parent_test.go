package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func specs(n int) []PhaseSpec {
	out := make([]PhaseSpec, n)
	for i := range out {
		out[i] = PhaseSpec{
			Number:   i + 1,
			Title:    "phase",
			Content:  "do the work",
			TicketID: "acme/app#" + string(rune('0'+i+1)),
		}
	}
	return out
}

func newParent(t *testing.T, n int) *ParentRequest {
	t.Helper()
	p, err := NewParentRequest("acme/app#100", "epic", specs(n), t0)
	require.NoError(t, err)
	return p
}

func TestNewParentRequest_AllQueued(t *testing.T) {
	p := newParent(t, 3)

	assert.Equal(t, ParentStatusActive, p.Status)
	require.Len(t, p.Phases, 3)
	for i, ph := range p.Phases {
		assert.Equal(t, i+1, ph.Number)
		assert.Equal(t, PhaseStatusQueued, ph.Status)
		assert.Equal(t, p.ID, ph.ParentID)
	}
}

func TestValidatePhaseSpecs(t *testing.T) {
	tests := []struct {
		name  string
		specs []PhaseSpec
		field string
	}{
		{"empty", nil, "phases"},
		{"gap", []PhaseSpec{{Number: 1, Title: "a", TicketID: "x#1"}, {Number: 3, Title: "b", TicketID: "x#2"}}, "phases[1].number"},
		{"starts at zero", []PhaseSpec{{Number: 0, Title: "a", TicketID: "x#1"}}, "phases[0].number"},
		{"missing ticket", []PhaseSpec{{Number: 1, Title: "a"}}, "phases[0].ticket_id"},
		{"missing title", []PhaseSpec{{Number: 1, TicketID: "x#1"}}, "phases[0].title"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePhaseSpecs(tt.specs)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestMarkReady_RequiresPredecessorCompleted(t *testing.T) {
	p := newParent(t, 3)

	err := p.MarkReady(2, t0)
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, p.MarkReady(1, t0))
	assert.Equal(t, PhaseStatusReady, p.Phases[0].Status)

	// повторный переход запрещён
	require.ErrorIs(t, p.MarkReady(1, t0), ErrInvalidTransition)
}

func TestMarkRunning_OnlyOneRunning(t *testing.T) {
	p := newParent(t, 2)
	require.NoError(t, p.MarkReady(1, t0))
	require.NoError(t, p.MarkRunning(1, "exec-1", "attempt-1", t0))

	// искусственно делаем фазу 2 READY, чтобы проверить инвариант
	p.Phases[1].Status = PhaseStatusReady

	err := p.MarkRunning(2, "exec-2", "attempt-2", t0)
	require.ErrorIs(t, err, ErrAnotherPhaseRunning)
	assert.Equal(t, PhaseStatusReady, p.Phases[1].Status)
	assert.Equal(t, "exec-1", p.RunningPhase().ExecutionID)
}

func TestMarkRunning_RequiresReady(t *testing.T) {
	p := newParent(t, 1)
	err := p.MarkRunning(1, "exec-1", "attempt-1", t0)

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, PhaseStatusQueued, te.From)
	assert.Equal(t, PhaseStatusRunning, te.To)
}

func TestMarkCompleted_DoesNotAdvance(t *testing.T) {
	p := newParent(t, 2)
	require.NoError(t, p.MarkReady(1, t0))
	require.NoError(t, p.MarkRunning(1, "exec-1", "attempt-1", t0))
	require.NoError(t, p.MarkCompleted(1, t0.Add(time.Hour)))

	assert.Equal(t, PhaseStatusCompleted, p.Phases[0].Status)
	assert.Equal(t, PhaseStatusQueued, p.Phases[1].Status)
	assert.Equal(t, time.Hour, p.Phases[0].Duration())
	assert.Equal(t, 2, p.NextEligible().Number)
}

func TestMarkFailed_BlocksDownstream(t *testing.T) {
	p := newParent(t, 4)
	require.NoError(t, p.MarkReady(1, t0))
	require.NoError(t, p.MarkRunning(1, "e1", "a1", t0))
	require.NoError(t, p.MarkCompleted(1, t0))
	require.NoError(t, p.MarkReady(2, t0))
	require.NoError(t, p.MarkRunning(2, "e2", "a2", t0))

	blocked, err := p.MarkFailed(2, "tests failed", t0)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, blocked)

	assert.Equal(t, PhaseStatusCompleted, p.Phases[0].Status)
	assert.Equal(t, PhaseStatusFailed, p.Phases[1].Status)
	assert.Equal(t, "tests failed", p.Phases[1].ErrorSummary)
	assert.Equal(t, PhaseStatusBlocked, p.Phases[2].Status)
	assert.Equal(t, PhaseStatusBlocked, p.Phases[3].Status)
	assert.Equal(t, ParentStatusFailed, p.Status)
	assert.Nil(t, p.NextEligible())
	assert.Equal(t, []int{3, 4}, p.BlockedAfter(2))

	// повторный MarkFailed отклоняется и ничего не меняет
	_, err = p.MarkFailed(2, "again", t0)
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, PhaseStatusFailed, te.From)
	assert.Equal(t, "tests failed", p.Phases[1].ErrorSummary)
}

func TestParentCompletesWhenAllPhasesComplete(t *testing.T) {
	p := newParent(t, 2)
	for n := 1; n <= 2; n++ {
		require.NoError(t, p.MarkReady(n, t0))
		require.NoError(t, p.MarkRunning(n, "e", "a", t0))
		require.NoError(t, p.MarkCompleted(n, t0))
	}
	assert.Equal(t, ParentStatusCompleted, p.Status)
	assert.Nil(t, p.Next(2))
}

func TestRequestCancel_OnlyRunning(t *testing.T) {
	p := newParent(t, 1)
	require.ErrorIs(t, p.RequestCancel(1, "stop", t0), ErrInvalidTransition)

	require.NoError(t, p.MarkReady(1, t0))
	require.NoError(t, p.MarkRunning(1, "e1", "a1", t0))
	require.NoError(t, p.RequestCancel(1, "stop", t0))
	assert.True(t, p.Phases[0].CancelRequested)
	assert.Equal(t, "stop", p.Phases[0].CancelReason)
}

func TestRecordVerifyAttempt(t *testing.T) {
	p := newParent(t, 1)
	require.NoError(t, p.MarkReady(1, t0))
	require.NoError(t, p.MarkRunning(1, "e1", "a1", t0))

	n, err := p.RecordVerifyAttempt(1, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = p.RecordVerifyAttempt(1, t0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestClone_IsDeep(t *testing.T) {
	p := newParent(t, 2)
	p.Phases[0].DocRefs = []string{"docs/a.md"}

	c := p.Clone()
	c.Phases[0].Status = PhaseStatusReady
	c.Phases[0].DocRefs[0] = "changed"

	assert.Equal(t, PhaseStatusQueued, p.Phases[0].Status)
	assert.Equal(t, "docs/a.md", p.Phases[0].DocRefs[0])
}

func TestPhase_NotFound(t *testing.T) {
	p := newParent(t, 2)
	_, err := p.Phase(3)
	require.ErrorIs(t, err, ErrPhaseNotFound)
	_, err = p.Phase(0)
	require.ErrorIs(t, err, ErrPhaseNotFound)
}

func TestParseStatus(t *testing.T) {
	st, err := ParsePhaseStatus("BLOCKED")
	require.NoError(t, err)
	assert.True(t, st.IsTerminal())

	_, err = ParsePhaseStatus("PAUSED")
	require.Error(t, err)

	_, err = ParseExecutionState("exploded")
	require.Error(t, err)
}

func TestExecutionLock_Expiry(t *testing.T) {
	l := ExecutionLock{Status: LockStatusLocked, ExpiresAt: t0}
	assert.True(t, l.IsExpired(t0))
	assert.False(t, l.IsHeld(t0))
	assert.True(t, l.IsHeld(t0.Add(-time.Second)))

	l.Status = LockStatusUnlocked
	assert.False(t, l.IsExpired(t0))
}
