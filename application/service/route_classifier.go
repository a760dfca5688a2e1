package service

import (
	"regexp"
	"slices"
	"strings"

	"github.com/llmc-dev/ragd/domain/routing"
	"github.com/llmc-dev/ragd/infrastructure/slicing"
)

// docLangs are the languages whose spans embed on the docs route. Everything
// else the extractor recognizes counts as code.
var docLangs = []string{"markdown", "rst"}

var (
	// identifierPattern matches camelCase, UpperCamel with two humps, and
	// snake_case tokens.
	identifierPattern = regexp.MustCompile(`\b[a-z][a-z0-9]*[A-Z]\w*|\b[A-Z][a-z0-9]+[A-Z]\w*|\b\w+_\w+\b`)
	extensionPattern  = regexp.MustCompile(`\.(go|py|js|jsx|ts|tsx|rs|java|c|h|cpp|rb|md|ya?ml|json|toml|sql|sh|proto|tf)\b`)
	keywordPattern    = regexp.MustCompile(`\b(func|def|fn|class|struct|interface|impl|import|package|return|nil|null|async|await|panic|goroutine|mutex)\b`)
	questionPattern   = regexp.MustCompile(`^(how|what|why|where|when|who|which|can|does|do|is|are|should|explain|describe)\b`)
)

// RouteClassifier assigns spans and queries to embedding routes using
// lightweight text heuristics. It implements routing.Router.
type RouteClassifier struct{}

// NewRouteClassifier returns the default keyword-heuristic classifier.
func NewRouteClassifier() RouteClassifier {
	return RouteClassifier{}
}

// ForLang returns the embedding route for spans of the given language.
func (RouteClassifier) ForLang(lang string) string {
	if lang == "" || slices.Contains(docLangs, lang) {
		return routing.RouteDocs
	}
	return routing.RouteCode
}

// LangsFor returns the languages whose spans embed on the named route, or
// nil when the route accepts every language. Planners use this to keep
// spans that belong on another route out of a route's pending set.
func (c RouteClassifier) LangsFor(route string) []string {
	switch route {
	case routing.RouteDocs:
		return slices.Clone(docLangs)
	case routing.RouteCode:
		var langs []string
		for _, lang := range slicing.Languages() {
			if c.ForLang(lang) == routing.RouteCode {
				langs = append(langs, lang)
			}
		}
		return langs
	default:
		return nil
	}
}

// ClassifyQuery routes a search query. Identifier shapes, code punctuation,
// and language keywords vote for the code route; question forms and plain
// phrasing vote for docs. Ties and empty queries fall back to docs.
func (RouteClassifier) ClassifyQuery(text string) routing.QueryRoute {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return routing.QueryRoute{
			Route:      routing.RouteDocs,
			Confidence: 0.5,
			Reasons:    []string{"empty query"},
		}
	}

	var codeVotes, docVotes int
	var reasons []string

	if identifierPattern.MatchString(trimmed) {
		codeVotes++
		reasons = append(reasons, "identifier-like token")
	}
	if strings.ContainsAny(trimmed, "(){};") || strings.Contains(trimmed, "::") ||
		strings.Contains(trimmed, "->") {
		codeVotes++
		reasons = append(reasons, "code punctuation")
	}
	if strings.Contains(trimmed, "`") {
		codeVotes++
		reasons = append(reasons, "inline code markers")
	}
	if extensionPattern.MatchString(trimmed) {
		codeVotes++
		reasons = append(reasons, "file extension")
	}

	lower := strings.ToLower(trimmed)
	if keywordPattern.MatchString(lower) {
		codeVotes++
		reasons = append(reasons, "language keyword")
	}
	if strings.HasSuffix(trimmed, "?") {
		docVotes++
		reasons = append(reasons, "question mark")
	}
	if questionPattern.MatchString(lower) {
		docVotes++
		reasons = append(reasons, "question word")
	}
	if !strings.ContainsAny(trimmed, "_(){}[]`") && len(strings.Fields(trimmed)) >= 4 {
		docVotes++
		reasons = append(reasons, "natural language phrasing")
	}

	total := codeVotes + docVotes
	if total == 0 {
		return routing.QueryRoute{
			Route:      routing.RouteDocs,
			Confidence: 0.5,
			Reasons:    []string{"no strong signal"},
		}
	}
	if codeVotes > docVotes {
		return routing.QueryRoute{
			Route:      routing.RouteCode,
			Confidence: float64(codeVotes) / float64(total),
			Reasons:    reasons,
		}
	}
	return routing.QueryRoute{
		Route:      routing.RouteDocs,
		Confidence: float64(docVotes) / float64(total),
		Reasons:    reasons,
	}
}
