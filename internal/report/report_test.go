package report

import (
	"strings"
	"testing"

	"github.com/shaiso/Phasegate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcdefg...", Truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
	assert.Equal(t, "unchanged", Truncate("unchanged", 0))

	// обрезка по рунам, а не по байтам
	got := Truncate(strings.Repeat("я", 20), 10)
	assert.Equal(t, 10, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestFailure(t *testing.T) {
	r := NewRenderer(20)
	body, err := r.Failure(FailureData{
		ParentID:        "p-1",
		Phase:           2,
		Title:           "migrate schema",
		ExecutionID:     "exec-9",
		Summary:         strings.Repeat("x", 100),
		ArtifactID:      "acme/app#42",
		ArtifactOutcome: ArtifactClosed,
		Blocked:         []int{3, 4},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(body, FailureMarker("p-1", 2, "exec-9")))
	assert.Contains(t, body, "Phase 2 failed: migrate schema")
	assert.Contains(t, body, "Blocked phases: 3, 4.")
	assert.Contains(t, body, "acme/app#42 was auto-closed")
	assert.Contains(t, body, "> "+strings.Repeat("x", 17)+"...")
	assert.NotContains(t, body, strings.Repeat("x", 21))
}

func TestFailure_ArtifactOutcome(t *testing.T) {
	tests := []struct {
		name    string
		outcome ArtifactOutcome
		want    string
	}{
		{"closed", ArtifactClosed, "acme/app#42 was auto-closed."},
		{"merged", ArtifactMerged, "acme/app#42 was already merged"},
		{"already closed", ArtifactAlreadyClosed, "acme/app#42 was already closed."},
		{"close failed", ArtifactCloseFailed, "acme/app#42 could not be closed automatically"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := NewRenderer(0).Failure(FailureData{
				ParentID:        "p",
				Phase:           1,
				ExecutionID:     "e",
				ArtifactID:      "acme/app#42",
				ArtifactOutcome: tt.outcome,
			})
			require.NoError(t, err)
			assert.Contains(t, body, tt.want)
			if tt.outcome != ArtifactClosed {
				assert.NotContains(t, body, "auto-closed")
			}
		})
	}
}

func TestArtifactOutcomeFor(t *testing.T) {
	assert.Equal(t, ArtifactMerged, ArtifactOutcomeFor(domain.ArtifactStateMerged))
	assert.Equal(t, ArtifactAlreadyClosed, ArtifactOutcomeFor(domain.ArtifactStateClosed))
	assert.Equal(t, ArtifactOutcome(""), ArtifactOutcomeFor(domain.ArtifactStateOpen))
}

func TestRenderer_SummaryLimit(t *testing.T) {
	assert.Equal(t, 500, NewRenderer(500).SummaryLimit())
	assert.Equal(t, DefaultSummaryLimit, NewRenderer(0).SummaryLimit())
}

func TestFailure_NoDownstream(t *testing.T) {
	body, err := NewRenderer(0).Failure(FailureData{ParentID: "p", Phase: 3, ExecutionID: "e"})
	require.NoError(t, err)
	assert.Contains(t, body, "No downstream phases were affected.")
	assert.Contains(t, body, "No error summary")
}

func TestArtifactClose(t *testing.T) {
	body, err := NewRenderer(0).ArtifactClose(FailureData{ParentID: "p", Phase: 1, ExecutionID: "e", Summary: "boom"})
	require.NoError(t, err)
	assert.Contains(t, body, "Auto-closed by phasegate")
	assert.Contains(t, body, "> boom")
}

func TestSuccess(t *testing.T) {
	r := NewRenderer(0)

	body, err := r.Success(SuccessData{ParentID: "p", Phase: 1, Title: "t", ExecutionID: "e",
		ArtifactID: "acme/app#7", ArtifactURL: "https://github.com/acme/app/pull/7", Next: 2})
	require.NoError(t, err)
	assert.Contains(t, body, SuccessMarker("p", 1, "e"))
	assert.Contains(t, body, "[acme/app#7](https://github.com/acme/app/pull/7)")
	assert.Contains(t, body, "Phase 2 is now ready.")

	body, err = r.Success(SuccessData{ParentID: "p", Phase: 3, ExecutionID: "e"})
	require.NoError(t, err)
	assert.Contains(t, body, "last phase")
}

func TestPreflight(t *testing.T) {
	body, err := NewRenderer(0).Preflight(PreflightData{
		ParentID: "p",
		Phase:    1,
		Digest:   "abc123",
		Failures: []domain.CheckResult{
			{Name: "workspace-clean", Message: "2 uncommitted change(s)", Remediation: "commit or stash"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, body, PreflightMarker("p", 1, "abc123"))
	assert.Contains(t, body, "- **workspace-clean**: 2 uncommitted change(s) (fix: commit or stash)")
}

func TestParentNotices(t *testing.T) {
	r := NewRenderer(0)

	body, err := r.ParentCompleted(ParentData{ParentID: "p", Title: "epic", Phases: 3})
	require.NoError(t, err)
	assert.Contains(t, body, ParentCompletedMarker("p"))
	assert.Contains(t, body, "All 3 phases completed")

	body, err = r.ParentHalted(ParentData{ParentID: "p", Title: "epic", FailedPhase: 2, Blocked: []int{3}, Summary: "tests failed"})
	require.NoError(t, err)
	assert.Contains(t, body, ParentHaltedMarker("p"))
	assert.Contains(t, body, "Blocked phases: 3.")
	assert.Contains(t, body, "> tests failed")
}

func TestMarkersAreDistinct(t *testing.T) {
	assert.NotEqual(t, FailureMarker("p", 1, "e"), SuccessMarker("p", 1, "e"))
	assert.NotEqual(t, FailureMarker("p", 1, "e1"), FailureMarker("p", 1, "e2"))
}
