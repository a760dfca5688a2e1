package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/llmc-dev/ragd/domain/fleet"
	"github.com/llmc-dev/ragd/domain/index"
	"github.com/llmc-dev/ragd/internal/metrics"
)

// StatusServer answers read-only queries about the fleet. It never mutates
// anything: a GET on a repo that has no workspace yet must not create one.
type StatusServer struct {
	registry fleet.Registry
	states   fleet.StateStore
	opener   index.StoreOpener
	version  string
	logger   *slog.Logger
}

// NewStatusServer wires the status surface against the daemon's registry,
// state store, and index store opener.
func NewStatusServer(
	registry fleet.Registry,
	states fleet.StateStore,
	opener index.StoreOpener,
	version string,
	logger *slog.Logger,
) *StatusServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusServer{
		registry: registry,
		states:   states,
		opener:   opener,
		version:  version,
		logger:   logger,
	}
}

// Handler builds the route tree. CORS is open for GETs so local tooling
// (editors, dashboards) can call the daemon from another origin.
func (s *StatusServer) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(requestLogger(s.logger))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	router.Get("/healthz", s.health)
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(30 * time.Second))
		r.Get("/fleet", s.fleet)
		r.Get("/repos/{repo_id}", s.repo)
	})
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	return router
}

type fleetItem struct {
	RepoID              string         `json:"repo_id"`
	DisplayName         string         `json:"display_name"`
	RepoPath            string         `json:"repo_path"`
	Profile             string         `json:"profile,omitempty"`
	Status              string         `json:"status"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	LastErrorReason     string         `json:"last_error_reason,omitempty"`
	LastRunStartedAt    *time.Time     `json:"last_run_started_at,omitempty"`
	LastRunFinishedAt   *time.Time     `json:"last_run_finished_at,omitempty"`
	NextEligibleAt      *time.Time     `json:"next_eligible_at,omitempty"`
	LastJobSummary      map[string]any `json:"last_job_summary,omitempty"`
}

type fleetResponse struct {
	Repos []fleetItem `json:"repos"`
	Count int         `json:"count"`
}

type indexCounts struct {
	Files       int64            `json:"files"`
	Spans       int64            `json:"spans"`
	Enrichments int64            `json:"enrichments"`
	Edges       int64            `json:"edges"`
	Vectors     map[string]int64 `json:"vectors_by_table,omitempty"`
}

type repoDetail struct {
	fleetItem
	WorkspacePath string       `json:"workspace_path"`
	Tags          []string     `json:"tags,omitempty"`
	CreatedAt     *time.Time   `json:"created_at,omitempty"`
	UpdatedAt     *time.Time   `json:"updated_at,omitempty"`
	Index         *indexCounts `json:"index,omitempty"`
}

func (s *StatusServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func (s *StatusServer) fleet(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	descs, err := s.registry.Load(ctx)
	if err != nil {
		s.internalError(w, "load registry", err)
		return
	}
	states, err := s.states.LoadAll(ctx)
	if err != nil {
		s.internalError(w, "load states", err)
		return
	}

	ids := make([]string, 0, len(descs))
	for id := range descs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	items := make([]fleetItem, 0, len(ids))
	for _, id := range ids {
		state, ok := states[id]
		if !ok {
			state = fleet.NewState(id)
		}
		items = append(items, itemFrom(descs[id], state))
	}
	writeJSON(w, http.StatusOK, fleetResponse{Repos: items, Count: len(items)})
}

func (s *StatusServer) repo(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	repoID := chi.URLParam(req, "repo_id")

	desc, err := s.registry.FindByID(ctx, repoID)
	if errors.Is(err, fleet.ErrNotRegistered) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":   "repository not registered",
			"repo_id": repoID,
		})
		return
	}
	if err != nil {
		s.internalError(w, "find repository", err)
		return
	}

	state, err := s.states.Get(ctx, repoID)
	if errors.Is(err, fleet.ErrStateNotFound) {
		state = fleet.NewState(repoID)
	} else if err != nil {
		s.internalError(w, "load state", err)
		return
	}

	detail := repoDetail{
		fleetItem:     itemFrom(desc, state),
		WorkspacePath: desc.WorkspacePath(),
		Tags:          desc.Tags(),
		CreatedAt:     timePtr(desc.CreatedAt()),
		UpdatedAt:     timePtr(desc.UpdatedAt()),
	}

	counts, err := s.indexCounts(ctx, desc)
	if err != nil {
		// The store being unreadable is a detail, not a reason to hide
		// the repo's scheduling state.
		s.logger.Warn("could not read index counts",
			slog.String("repo_id", repoID),
			slog.String("error", err.Error()),
		)
	}
	detail.Index = counts

	writeJSON(w, http.StatusOK, detail)
}

// indexCounts loads row counts from the repo's index store. A workspace the
// daemon has not materialized yet reports no counts rather than creating
// the store as a side effect of a status read.
func (s *StatusServer) indexCounts(ctx context.Context, desc fleet.Descriptor) (*indexCounts, error) {
	if _, err := os.Stat(desc.IndexDBPath()); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	store, err := s.opener.Open(ctx, desc.IndexDBPath())
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	stats, err := store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &indexCounts{
		Files:       stats.Files,
		Spans:       stats.Spans,
		Enrichments: stats.Enrichments,
		Edges:       stats.Edges,
		Vectors:     stats.Embeddings,
	}, nil
}

func itemFrom(desc fleet.Descriptor, state fleet.State) fleetItem {
	return fleetItem{
		RepoID:              desc.RepoID(),
		DisplayName:         desc.DisplayName(),
		RepoPath:            desc.RepoPath(),
		Profile:             desc.Profile(),
		Status:              string(state.Status()),
		ConsecutiveFailures: state.ConsecutiveFailures(),
		LastErrorReason:     state.LastErrorReason(),
		LastRunStartedAt:    timePtr(state.LastRunStartedAt()),
		LastRunFinishedAt:   timePtr(state.LastRunFinishedAt()),
		NextEligibleAt:      timePtr(state.NextEligibleAt()),
		LastJobSummary:      state.LastJobSummary(),
	}
}

func (s *StatusServer) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("status api request failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": op + " failed"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
