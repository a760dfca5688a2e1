package service

import (
	"math"
	"slices"
	"testing"

	"github.com/llmc-dev/ragd/domain/routing"
)

func TestRouteClassifier_ForLang(t *testing.T) {
	c := NewRouteClassifier()

	cases := map[string]string{
		"markdown":   routing.RouteDocs,
		"rst":        routing.RouteDocs,
		"":           routing.RouteDocs,
		"go":         routing.RouteCode,
		"python":     routing.RouteCode,
		"typescript": routing.RouteCode,
	}
	for lang, want := range cases {
		if got := c.ForLang(lang); got != want {
			t.Errorf("ForLang(%q) = %q, want %q", lang, got, want)
		}
	}
}

func TestRouteClassifier_LangsFor(t *testing.T) {
	c := NewRouteClassifier()

	docs := c.LangsFor(routing.RouteDocs)
	if !slices.Equal(docs, []string{"markdown", "rst"}) {
		t.Errorf("LangsFor(docs) = %v", docs)
	}

	code := c.LangsFor(routing.RouteCode)
	if len(code) == 0 {
		t.Fatal("LangsFor(code) returned no languages")
	}
	if !slices.Contains(code, "go") || !slices.Contains(code, "python") {
		t.Errorf("LangsFor(code) missing expected languages: %v", code)
	}
	if slices.Contains(code, "markdown") || slices.Contains(code, "rst") {
		t.Errorf("LangsFor(code) leaked doc languages: %v", code)
	}

	if custom := c.LangsFor("audit"); custom != nil {
		t.Errorf("LangsFor(custom route) = %v, want nil", custom)
	}
}

func TestRouteClassifier_ClassifyQuery(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		route      string
		confidence float64
	}{
		{
			name:       "code signals win",
			query:      "func ProcessBatch(ctx)",
			route:      routing.RouteCode,
			confidence: 1.0,
		},
		{
			name:       "snake case identifier",
			query:      "retry_backoff calculation",
			route:      routing.RouteCode,
			confidence: 1.0,
		},
		{
			name:       "inline code markers",
			query:      "usage of `Submit`",
			route:      routing.RouteCode,
			confidence: 1.0,
		},
		{
			name:       "file extension",
			query:      "parser in scanner.go",
			route:      routing.RouteCode,
			confidence: 1.0,
		},
		{
			name:       "question wins",
			query:      "how does the scheduler decide which repos run?",
			route:      routing.RouteDocs,
			confidence: 1.0,
		},
		{
			name:       "mixed leans docs",
			query:      "what is retry_backoff?",
			route:      routing.RouteDocs,
			confidence: 2.0 / 3.0,
		},
		{
			name:       "tie falls back to docs",
			query:      "what is config_dir",
			route:      routing.RouteDocs,
			confidence: 0.5,
		},
		{
			name:       "punctuation beats phrasing",
			query:      "how does WorkerPool.Submit() work",
			route:      routing.RouteCode,
			confidence: 2.0 / 3.0,
		},
		{
			name:       "empty query",
			query:      "",
			route:      routing.RouteDocs,
			confidence: 0.5,
		},
		{
			name:       "no signal",
			query:      "scheduler",
			route:      routing.RouteDocs,
			confidence: 0.5,
		},
	}

	c := NewRouteClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.ClassifyQuery(tt.query)
			if got.Route != tt.route {
				t.Errorf("route = %q, want %q (reasons: %v)", got.Route, tt.route, got.Reasons)
			}
			if math.Abs(got.Confidence-tt.confidence) > 0.001 {
				t.Errorf("confidence = %v, want %v (reasons: %v)", got.Confidence, tt.confidence, got.Reasons)
			}
			if len(got.Reasons) == 0 {
				t.Error("expected at least one reason")
			}
		})
	}
}
