package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlan_NumbersPhases(t *testing.T) {
	plan, err := ParsePlan([]byte(`
ticket_id: acme/app#100
title: checkout rewrite
phases:
  - title: schema
    ticket_id: acme/app#101
    content: |
      add tables
    doc_refs: [docs/schema.md]
  - title: api
    ticket_id: acme/app#102
`))
	require.NoError(t, err)
	assert.Equal(t, "acme/app#100", plan.TicketID)
	require.Len(t, plan.Phases, 2)
	assert.Equal(t, 1, plan.Phases[0].Number)
	assert.Equal(t, 2, plan.Phases[1].Number)
	assert.Equal(t, "add tables\n", plan.Phases[0].Content)
	assert.Equal(t, []string{"docs/schema.md"}, plan.Phases[0].DocRefs)
}

func TestParsePlan_KeepsExplicitNumbers(t *testing.T) {
	plan, err := ParsePlan([]byte(`{"ticket_id":"x#1","title":"t","phases":[{"number":2,"title":"a","ticket_id":"x#2"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 2, plan.Phases[0].Number)

	_, err = ParsePlan([]byte("title: empty\n"))
	require.Error(t, err)

	_, err = ParsePlan([]byte("phases: [unclosed"))
	require.Error(t, err)
}

// fakeAPI отвечает как api.Handler и запоминает тело последнего POST.
type fakeAPI struct {
	lastBody []byte
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	parent := map[string]any{
		"id": "p-1", "ticket_id": "acme/app#100", "title": "epic", "status": "ACTIVE",
		"phases": []map[string]any{
			{"number": 1, "title": "schema", "ticket_id": "acme/app#101", "status": "COMPLETED"},
			{"number": 2, "title": "api", "ticket_id": "acme/app#102", "status": "RUNNING", "execution_id": "exec-2"},
		},
	}
	write := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("POST /api/v1/parents", func(w http.ResponseWriter, r *http.Request) {
		f.lastBody, _ = io.ReadAll(r.Body)
		write(w, http.StatusCreated, map[string]any{"data": parent})
	})
	mux.HandleFunc("GET /api/v1/parents", func(w http.ResponseWriter, r *http.Request) {
		write(w, http.StatusOK, map[string]any{"data": []any{parent}, "total": 1})
	})
	mux.HandleFunc("GET /api/v1/parents/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "p-1" {
			write(w, http.StatusNotFound, map[string]any{"error": map[string]string{"code": "NOT_FOUND", "message": "parent not found"}})
			return
		}
		write(w, http.StatusOK, map[string]any{"data": parent})
	})
	mux.HandleFunc("POST /api/v1/parents/{id}/phases/{number}/cancel", func(w http.ResponseWriter, r *http.Request) {
		f.lastBody, _ = io.ReadAll(r.Body)
		write(w, http.StatusAccepted, map[string]any{"data": parent})
	})
	mux.HandleFunc("GET /api/v1/locks", func(w http.ResponseWriter, r *http.Request) {
		write(w, http.StatusOK, map[string]any{"data": map[string]any{
			"ticket_id": r.URL.Query().Get("ticket_id"), "holder_id": "attempt-1", "status": "LOCKED", "held": true,
		}})
	})
	return mux
}

func runCmd(t *testing.T, api *fakeAPI, jsonMode bool, args ...string) (string, string, error) {
	t.Helper()

	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	var stdout, stderr bytes.Buffer
	clientFn := func() *Client { return NewClient(srv.URL) }
	outputFn := func() *Output { return NewOutputTo(jsonMode, &stdout, &stderr) }

	root := &cobra.Command{Use: "phasegate", SilenceUsage: true, SilenceErrors: true}
	root.AddCommand(
		NewParentCmd(clientFn, outputFn),
		NewPhaseCmd(clientFn, outputFn),
		NewLockCmd(clientFn, outputFn),
	)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestParentSubmit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ticket_id: acme/app#100
title: epic
phases:
  - title: schema
    ticket_id: acme/app#101
  - title: api
    ticket_id: acme/app#102
`), 0o600))

	api := &fakeAPI{}
	stdout, stderr, err := runCmd(t, api, false, "parent", "submit", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Parent submitted: p-1 (2 phases)")
	assert.Contains(t, stdout, "exec-2")

	var sent SubmitParentRequest
	require.NoError(t, json.Unmarshal(api.lastBody, &sent))
	assert.Equal(t, 2, sent.Phases[1].Number)

	_, _, err = runCmd(t, api, false, "parent", "submit")
	require.Error(t, err)
}

func TestParentListJSON(t *testing.T) {
	stdout, _, err := runCmd(t, &fakeAPI{}, true, "parent", "list")
	require.NoError(t, err)

	var parents []ParentResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &parents))
	require.Len(t, parents, 1)
	assert.Equal(t, "1/2", progress(parents[0]))
}

func TestParentShow_NotFound(t *testing.T) {
	_, _, err := runCmd(t, &fakeAPI{}, false, "parent", "show", "missing")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND: parent not found", err.Error())
}

func TestPhaseCancel(t *testing.T) {
	api := &fakeAPI{}
	_, stderr, err := runCmd(t, api, false, "phase", "cancel", "p-1", "2", "--reason", "wrong branch")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Cancellation requested for phase 2 of p-1")
	assert.JSONEq(t, `{"reason":"wrong branch"}`, string(api.lastBody))

	_, _, err = runCmd(t, api, false, "phase", "cancel", "p-1", "zero")
	require.Error(t, err)
}

func TestLockShow(t *testing.T) {
	stdout, _, err := runCmd(t, &fakeAPI{}, false, "lock", "show", "acme/app#101")
	require.NoError(t, err)
	assert.Contains(t, stdout, "acme/app#101")
	assert.Contains(t, stdout, "attempt-1")
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n b\tc", 10))
	assert.Equal(t, "abcd…", oneLine("abcdefgh", 5))
}
