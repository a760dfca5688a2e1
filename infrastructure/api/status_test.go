package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/llmc-dev/ragd/domain/fleet"
	"github.com/llmc-dev/ragd/domain/index"
	"github.com/llmc-dev/ragd/infrastructure/indexstore"
)

type stubRegistry struct {
	descs map[string]fleet.Descriptor
}

func (r stubRegistry) Load(context.Context) (map[string]fleet.Descriptor, error) {
	return r.descs, nil
}

func (r stubRegistry) Register(context.Context, fleet.Descriptor) error { return nil }
func (r stubRegistry) Unregister(context.Context, string) error         { return nil }

func (r stubRegistry) FindByPath(_ context.Context, repoPath string) (fleet.Descriptor, error) {
	for _, d := range r.descs {
		if d.RepoPath() == repoPath {
			return d, nil
		}
	}
	return fleet.Descriptor{}, fmt.Errorf("%w: %s", fleet.ErrNotRegistered, repoPath)
}

func (r stubRegistry) FindByID(_ context.Context, repoID string) (fleet.Descriptor, error) {
	d, ok := r.descs[repoID]
	if !ok {
		return fleet.Descriptor{}, fmt.Errorf("%w: %s", fleet.ErrNotRegistered, repoID)
	}
	return d, nil
}

type stubStates struct {
	states map[string]fleet.State
}

func (s stubStates) LoadAll(context.Context) (map[string]fleet.State, error) {
	return s.states, nil
}

func (s stubStates) Get(_ context.Context, repoID string) (fleet.State, error) {
	st, ok := s.states[repoID]
	if !ok {
		return fleet.State{}, fmt.Errorf("%w: %s", fleet.ErrStateNotFound, repoID)
	}
	return st, nil
}

func (s stubStates) Upsert(context.Context, fleet.State) error { return nil }

func (s stubStates) Update(_ context.Context, repoID string, mutate func(fleet.State) fleet.State) (fleet.State, error) {
	st, ok := s.states[repoID]
	if !ok {
		st = fleet.NewState(repoID)
	}
	st = mutate(st)
	s.states[repoID] = st
	return st, nil
}

func statusFixture(descs ...fleet.Descriptor) (*StatusServer, stubStates) {
	byID := make(map[string]fleet.Descriptor, len(descs))
	for _, d := range descs {
		byID[d.RepoID()] = d
	}
	states := stubStates{states: map[string]fleet.State{}}
	srv := NewStatusServer(stubRegistry{descs: byID}, states, indexstore.NewOpener(nil), "test", nil)
	return srv, states
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestStatusServer_Health(t *testing.T) {
	srv, _ := statusFixture()

	w := get(t, srv.Handler(), "/healthz")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("version field = %q, want test", body["version"])
	}
}

func TestStatusServer_Fleet(t *testing.T) {
	repoA := fleet.NewDescriptor("/repos/alpha", "", "alpha", "")
	repoB := fleet.NewDescriptor("/repos/beta", "", "beta", "")
	srv, states := statusFixture(repoA, repoB)

	now := time.Now()
	states.states[repoA.RepoID()] = fleet.NewState(repoA.RepoID()).
		Started(now.Add(-time.Minute)).
		Succeeded(now, time.Hour, map[string]any{"files_seen": 2})

	w := get(t, srv.Handler(), "/api/v1/fleet")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body fleetResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Count != 2 || len(body.Repos) != 2 {
		t.Fatalf("count = %d, repos = %d, want 2", body.Count, len(body.Repos))
	}

	// Sorted by repo ID, so locate each by name.
	byName := map[string]fleetItem{}
	for _, item := range body.Repos {
		byName[item.DisplayName] = item
	}
	if got := byName["alpha"].Status; got != "success" {
		t.Errorf("alpha status = %q, want success", got)
	}
	if byName["alpha"].NextEligibleAt == nil {
		t.Error("alpha should have a next_eligible_at timestamp")
	}
	if got := byName["beta"].Status; got != "never" {
		t.Errorf("beta status = %q, want never (no state recorded yet)", got)
	}
	if byName["beta"].LastRunStartedAt != nil {
		t.Error("beta should have no last_run_started_at")
	}
}

func TestStatusServer_Repo(t *testing.T) {
	repoPath := t.TempDir()
	desc := fleet.NewDescriptor(repoPath, "", "demo", "default-docs")
	srv, states := statusFixture(desc)

	states.states[desc.RepoID()] = fleet.NewState(desc.RepoID()).
		Started(time.Now()).
		Succeeded(time.Now(), time.Hour, nil)

	// Materialize the index store the way a job would, then count through
	// the API.
	ctx := context.Background()
	store, err := indexstore.NewOpener(nil).Open(ctx, desc.IndexDBPath())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	record, err := store.UpsertFile(ctx, index.NewFileRecord("docs/a.md", "markdown", "hash-a", 10, time.Now()))
	if err != nil {
		t.Fatalf("upsert file: %v", err)
	}
	spans := []index.Span{
		index.NewSpan("Intro", index.KindSection, 1, 3, 0, 20, index.HashSpan("markdown", []byte("Intro.")), ""),
	}
	if _, err := store.ReplaceSpansDifferential(ctx, record.ID(), spans); err != nil {
		t.Fatalf("replace spans: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	w := get(t, srv.Handler(), "/api/v1/repos/"+desc.RepoID())

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body repoDetail
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.RepoID != desc.RepoID() {
		t.Errorf("repo_id = %q, want %q", body.RepoID, desc.RepoID())
	}
	if body.Status != "success" {
		t.Errorf("status = %q, want success", body.Status)
	}
	if body.WorkspacePath != desc.WorkspacePath() {
		t.Errorf("workspace_path = %q, want %q", body.WorkspacePath, desc.WorkspacePath())
	}
	if body.Index == nil {
		t.Fatal("index counts missing for a materialized store")
	}
	if body.Index.Files != 1 {
		t.Errorf("files = %d, want 1", body.Index.Files)
	}
	if body.Index.Spans != 1 {
		t.Errorf("spans = %d, want 1", body.Index.Spans)
	}
}

func TestStatusServer_RepoWithoutWorkspace(t *testing.T) {
	desc := fleet.NewDescriptor("/repos/unindexed", "", "unindexed", "")
	srv, _ := statusFixture(desc)

	w := get(t, srv.Handler(), "/api/v1/repos/"+desc.RepoID())

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body repoDetail
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "never" {
		t.Errorf("status = %q, want never", body.Status)
	}
	if body.Index != nil {
		t.Error("a status read must not materialize or report a missing index store")
	}
}

func TestStatusServer_RepoNotFound(t *testing.T) {
	srv, _ := statusFixture()

	w := get(t, srv.Handler(), "/api/v1/repos/nope")

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["repo_id"] != "nope" {
		t.Errorf("repo_id = %q, want nope", body["repo_id"])
	}
}

func TestStatusServer_Metrics(t *testing.T) {
	srv, _ := statusFixture()

	w := get(t, srv.Handler(), "/metrics")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "ragd_ticks_total") {
		t.Error("exposition should include the daemon's tick counter")
	}
}
