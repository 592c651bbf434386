package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shaiso/Phasegate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGitHub(t *testing.T, mux *http.ServeMux) *GitHub {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	g, err := NewGitHub(context.Background(), Config{
		BaseURL:           server.URL,
		RequestsPerSecond: 1000,
		Retry:             RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
	})
	require.NoError(t, err)
	return g
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestParseRef(t *testing.T) {
	ref, err := ParseRef("acme/app#12")
	require.NoError(t, err)
	assert.Equal(t, Ref{Owner: "acme", Repo: "app", Number: 12}, ref)
	assert.Equal(t, "acme/app#12", ref.String())

	for _, bad := range []string{"", "acme/app", "acme#1", "acme/app#x", "acme/app#0", "a/b/c#1", "/app#1"} {
		_, err := ParseRef(bad)
		assert.ErrorIs(t, err, ErrInvalidRef, bad)
	}
}

func TestPostComment(t *testing.T) {
	var body map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/acme/app/issues/1/comments", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, map[string]any{"id": 1, "body": body["body"]})
	})

	g := newTestGitHub(t, mux)
	require.NoError(t, g.PostComment(context.Background(), "acme/app#1", "hello"))
	assert.Equal(t, "hello", body["body"])
}

func TestPostComment_InvalidRef(t *testing.T) {
	g := newTestGitHub(t, http.NewServeMux())
	err := g.PostComment(context.Background(), "not-a-ref", "hello")
	require.ErrorIs(t, err, ErrInvalidRef)
}

func TestPostComment_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/acme/app/issues/1/comments", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, `{"message":"oops"}`, http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, map[string]any{"id": 1})
	})

	g := newTestGitHub(t, mux)
	require.NoError(t, g.PostComment(context.Background(), "acme/app#1", "hello"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestPostComment_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/acme/app/issues/1/comments", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]any{"message": "Not Found"})
	})

	g := newTestGitHub(t, mux)
	require.Error(t, g.PostComment(context.Background(), "acme/app#1", "hello"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestHasComment_Paginates(t *testing.T) {
	var serverURL string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/app/issues/1/comments", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			writeJSON(w, []map[string]any{{"id": 2, "body": "report\n<!-- phasegate:x -->"}})
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/acme/app/issues/1/comments?page=2>; rel="next"`, serverURL))
		writeJSON(w, []map[string]any{{"id": 1, "body": "unrelated"}})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	serverURL = server.URL

	g, err := NewGitHub(context.Background(), Config{BaseURL: server.URL, RequestsPerSecond: 1000})
	require.NoError(t, err)

	found, err := g.HasComment(context.Background(), "acme/app#1", "<!-- phasegate:x -->")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = g.HasComment(context.Background(), "acme/app#1", "<!-- phasegate:y -->")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFindArtifactForExecution(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/app/pulls", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "all", r.URL.Query().Get("state"))
		if r.URL.Query().Get("head") != "acme:phasegate/exec-1" {
			writeJSON(w, []any{})
			return
		}
		writeJSON(w, []map[string]any{{
			"number":   7,
			"state":    "open",
			"html_url": "https://github.com/acme/app/pull/7",
			"head":     map[string]any{"ref": "phasegate/exec-1"},
		}})
	})

	g := newTestGitHub(t, mux)

	a, err := g.FindArtifactForExecution(context.Background(), "acme/app#1", "exec-1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "acme/app#7", a.ID)
	assert.Equal(t, domain.ArtifactStateOpen, a.State)
	assert.Equal(t, "phasegate/exec-1", a.Branch)

	a, err = g.FindArtifactForExecution(context.Background(), "acme/app#1", "exec-2")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestGetArtifact_Merged(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/app/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"number": 7, "state": "closed", "merged": true})
	})

	g := newTestGitHub(t, mux)
	a, err := g.GetArtifact(context.Background(), "acme/app#7")
	require.NoError(t, err)
	assert.Equal(t, domain.ArtifactStateMerged, a.State)
}

func TestCloseArtifact(t *testing.T) {
	var (
		commented atomic.Bool
		closed    atomic.Bool
	)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/app/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"number": 7, "state": "open"})
	})
	mux.HandleFunc("POST /repos/acme/app/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		commented.Store(true)
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, map[string]any{"id": 1})
	})
	mux.HandleFunc("PATCH /repos/acme/app/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "closed", req["state"])
		closed.Store(true)
		writeJSON(w, map[string]any{"number": 7, "state": "closed"})
	})

	g := newTestGitHub(t, mux)
	err := g.CloseArtifact(context.Background(), domain.Artifact{ID: "acme/app#7"}, "auto-closed")
	require.NoError(t, err)
	assert.True(t, commented.Load())
	assert.True(t, closed.Load())
}

func TestCloseArtifact_SkipsMerged(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/app/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"number": 7, "state": "closed", "merged": true})
	})
	mux.HandleFunc("PATCH /repos/acme/app/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		t.Error("merged artifact must not be edited")
	})

	g := newTestGitHub(t, mux)
	require.NoError(t, g.CloseArtifact(context.Background(), domain.Artifact{ID: "acme/app#7"}, "x"))
}

func TestCloseTicket(t *testing.T) {
	var closed atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/app/issues/100", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"number": 100, "state": "open"})
	})
	mux.HandleFunc("POST /repos/acme/app/issues/100/comments", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, map[string]any{"id": 1})
	})
	mux.HandleFunc("PATCH /repos/acme/app/issues/100", func(w http.ResponseWriter, r *http.Request) {
		closed.Store(true)
		writeJSON(w, map[string]any{"number": 100, "state": "closed"})
	})

	g := newTestGitHub(t, mux)
	require.NoError(t, g.CloseTicket(context.Background(), "acme/app#100", "all done"))
	assert.True(t, closed.Load())
}

func TestRemainingRequests(t *testing.T) {
	reset := time.Now().Add(time.Hour).Unix()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rate_limit", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"resources": map[string]any{
				"core": map[string]any{"limit": 5000, "remaining": 42, "reset": reset},
			},
		})
	})

	g := newTestGitHub(t, mux)
	remaining, resetAt, err := g.RemainingRequests(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, remaining)
	assert.Equal(t, reset, resetAt.Unix())
}

func TestBranchFor(t *testing.T) {
	g, err := NewGitHub(context.Background(), Config{BranchPrefix: "auto/"})
	require.NoError(t, err)
	assert.Equal(t, "auto/exec-1", g.BranchFor("exec-1"))
}
