// Package mcp exposes the daemon's retrieval surface to agent clients over
// the Model Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/llmc-dev/ragd/application/service"
	"github.com/llmc-dev/ragd/domain/fleet"
)

// Searcher answers span queries against one registered repository's index.
type Searcher interface {
	Search(ctx context.Context, repoRef, query string, opts ...service.SearchOption) (service.SearchResult, error)
}

// Server wraps the MCP server with the daemon's tools: span search and
// fleet status.
type Server struct {
	mcpServer *server.MCPServer
	search    Searcher
	registry  fleet.Registry
	states    fleet.StateStore
	logger    *slog.Logger
}

// NewServer creates an MCP server wired to the daemon's search service,
// registry, and state store.
func NewServer(
	search Searcher,
	registry fleet.Registry,
	states fleet.StateStore,
	version string,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		search:   search,
		registry: registry,
		states:   states,
		logger:   logger,
	}

	mcpServer := server.NewMCPServer(
		"ragd",
		version,
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)

	s.mcpServer = mcpServer
	return s
}

func (s *Server) registerTools(mcpServer *server.MCPServer) {
	searchTool := mcp.NewTool("search",
		mcp.WithDescription("Search one repository's always-fresh span index. Returns ranked spans with file locations and enrichment summaries."),
		mcp.WithString("repo",
			mcp.Required(),
			mcp.Description("Repository ID or absolute path of a registered repository"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The search query, natural language or code-shaped"),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Number of results to return (default: 10)"),
		),
		mcp.WithString("route",
			mcp.Description("Embedding route override (docs or code); default is classified from the query"),
		),
		mcp.WithString("language",
			mcp.Description("Filter hits by language, e.g. go or markdown"),
		),
	)
	mcpServer.AddTool(searchTool, s.handleSearch)

	fleetTool := mcp.NewTool("fleet_status",
		mcp.WithDescription("Report the indexing state of registered repositories: last run, failures, next eligible time."),
		mcp.WithString("repo",
			mcp.Description("Repository ID or absolute path; omit for the whole fleet"),
		),
	)
	mcpServer.AddTool(fleetTool, s.handleFleetStatus)
}

type searchHit struct {
	SpanHash  string  `json:"span_hash"`
	Path      string  `json:"path"`
	URI       string  `json:"uri"`
	Language  string  `json:"language"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float64 `json:"score"`
	Summary   string  `json:"summary,omitempty"`
}

type searchPayload struct {
	RepoID     string      `json:"repo_id"`
	Route      string      `json:"route"`
	Confidence float64     `json:"confidence"`
	Reasons    []string    `json:"reasons,omitempty"`
	Hits       []searchHit `json:"hits"`
}

func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repoRef, err := request.RequireString("repo")
	if err != nil {
		return mcp.NewToolResultError("repo is required"), nil
	}
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query is required"), nil
	}

	desc, err := s.lookupRepo(ctx, repoRef)
	if err != nil {
		if errors.Is(err, fleet.ErrNotRegistered) {
			return mcp.NewToolResultError(fmt.Sprintf("repository not registered: %s", repoRef)), nil
		}
		s.logger.Error("repo lookup failed", slog.String("repo", repoRef), slog.Any("error", err))
		return mcp.NewToolResultError(fmt.Sprintf("repo lookup failed: %v", err)), nil
	}

	opts := []service.SearchOption{service.WithLimit(request.GetInt("top_k", 10))}
	if route := request.GetString("route", ""); route != "" {
		opts = append(opts, service.WithRoute(route))
	}
	if lang := request.GetString("language", ""); lang != "" {
		opts = append(opts, service.WithLangFilter(lang))
	}

	result, err := s.search.Search(ctx, desc.RepoID(), query, opts...)
	if err != nil {
		s.logger.Error("search failed", slog.String("repo_id", desc.RepoID()), slog.Any("error", err))
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	payload := searchPayload{
		RepoID:     desc.RepoID(),
		Route:      result.Route(),
		Confidence: result.Confidence(),
		Reasons:    result.Reasons(),
		Hits:       make([]searchHit, 0, result.Count()),
	}
	for _, hit := range result.Hits() {
		uri := NewFileURI(desc.RepoID(), hit.Path()).
			WithLineRange(hit.StartLine(), hit.EndLine())
		payload.Hits = append(payload.Hits, searchHit{
			SpanHash:  hit.SpanHash(),
			Path:      hit.Path(),
			URI:       uri.String(),
			Language:  hit.Lang(),
			StartLine: hit.StartLine(),
			EndLine:   hit.EndLine(),
			Score:     hit.Score(),
			Summary:   hit.Summary(),
		})
	}

	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

type repoStatus struct {
	RepoID              string         `json:"repo_id"`
	DisplayName         string         `json:"display_name"`
	RepoPath            string         `json:"repo_path"`
	Status              string         `json:"status"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	LastErrorReason     string         `json:"last_error_reason,omitempty"`
	LastRunFinishedAt   string         `json:"last_run_finished_at,omitempty"`
	NextEligibleAt      string         `json:"next_eligible_at,omitempty"`
	LastJobSummary      map[string]any `json:"last_job_summary,omitempty"`
}

func (s *Server) handleFleetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if repoRef := request.GetString("repo", ""); repoRef != "" {
		desc, err := s.lookupRepo(ctx, repoRef)
		if err != nil {
			if errors.Is(err, fleet.ErrNotRegistered) {
				return mcp.NewToolResultError(fmt.Sprintf("repository not registered: %s", repoRef)), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("repo lookup failed: %v", err)), nil
		}
		return s.statusResult(ctx, []fleet.Descriptor{desc})
	}

	descs, err := s.registry.Load(ctx)
	if err != nil {
		s.logger.Error("load registry failed", slog.Any("error", err))
		return mcp.NewToolResultError(fmt.Sprintf("load registry failed: %v", err)), nil
	}

	ordered := make([]fleet.Descriptor, 0, len(descs))
	for _, desc := range descs {
		ordered = append(ordered, desc)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].RepoID() < ordered[j].RepoID() })
	return s.statusResult(ctx, ordered)
}

func (s *Server) statusResult(ctx context.Context, descs []fleet.Descriptor) (*mcp.CallToolResult, error) {
	out := make([]repoStatus, 0, len(descs))
	for _, desc := range descs {
		state, err := s.states.Get(ctx, desc.RepoID())
		if errors.Is(err, fleet.ErrStateNotFound) {
			state = fleet.NewState(desc.RepoID())
		} else if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("load state for %s failed: %v", desc.RepoID(), err)), nil
		}
		out = append(out, repoStatus{
			RepoID:              desc.RepoID(),
			DisplayName:         desc.DisplayName(),
			RepoPath:            desc.RepoPath(),
			Status:              string(state.Status()),
			ConsecutiveFailures: state.ConsecutiveFailures(),
			LastErrorReason:     state.LastErrorReason(),
			LastRunFinishedAt:   formatTime(state.LastRunFinishedAt()),
			NextEligibleAt:      formatTime(state.NextEligibleAt()),
			LastJobSummary:      state.LastJobSummary(),
		})
	}

	jsonBytes, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// lookupRepo resolves a repo reference the way operators write them: as a
// registry ID first, then as a filesystem path.
func (s *Server) lookupRepo(ctx context.Context, repoRef string) (fleet.Descriptor, error) {
	desc, err := s.registry.FindByID(ctx, repoRef)
	if err == nil {
		return desc, nil
	}
	if !errors.Is(err, fleet.ErrNotRegistered) {
		return fleet.Descriptor{}, err
	}
	return s.registry.FindByPath(ctx, repoRef)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// MCPServer returns the underlying MCP server for transport wiring.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio runs the MCP server on stdio until the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
