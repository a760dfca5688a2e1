// Package enricher holds the model-facing glue of the enrichment engine:
// span metrics for tier routing, the prompt contract, JSON extraction and
// failure classification for model output, the attempt ledger, and the
// quarantine for rejected output. The engine loop itself lives in the
// application layer; everything here is side-effect-free except the ledger
// and quarantine writers.
package enricher

import (
	"encoding/json"
	"strings"

	"github.com/llmc-dev/ragd/domain/routing"
)

// TokensOutFloor is the minimum estimated output budget. The payload schema
// produces several hundred tokens even for trivial spans.
const TokensOutFloor = 1200

// ComputeMetrics derives tier-routing inputs from a span snippet. Token
// counts are the chars/4 approximation; JSON shape comes from a real parse
// when the snippet is a JSON document, else from a brace heuristic.
func ComputeMetrics(snippet, lang string) routing.Metrics {
	m := routing.Metrics{
		LineCount:    lineCount(snippet),
		NestingDepth: nestingDepth(snippet),
		TokensIn:     len(snippet) / 4,
	}
	m.TokensOut = max(TokensOutFloor, m.TokensIn/2)

	if nodes, depth, elems, ok := jsonShape(snippet); ok {
		m.NodeCount = nodes
		m.SchemaDepth = depth
		m.ArrayElements = elems
	} else {
		m.NodeCount = strings.Count(snippet, "{") + strings.Count(snippet, "[")
		m.SchemaDepth = m.NestingDepth
	}

	if lang == "csv" {
		m.CSVColumns = csvColumns(snippet)
	}
	return m
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n") + 1
	if strings.HasSuffix(s, "\n") {
		n--
	}
	return n
}

// nestingDepth is the maximum brace/bracket/paren depth reached anywhere in
// the snippet. Unbalanced closers never push the depth negative.
func nestingDepth(s string) int {
	depth, maxDepth := 0, 0
	for _, r := range s {
		switch r {
		case '{', '[', '(':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case '}', ']', ')':
			if depth > 0 {
				depth--
			}
		}
	}
	return maxDepth
}

// jsonShape parses the snippet as JSON and measures its shape: total node
// count, maximum depth, and total array elements. ok is false when the
// snippet is not a JSON document.
func jsonShape(snippet string) (nodes, depth, arrayElems int, ok bool) {
	trimmed := strings.TrimSpace(snippet)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return 0, 0, 0, false
	}

	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return 0, 0, 0, false
	}

	nodes, depth, arrayElems = walkJSON(v, 1)
	return nodes, depth, arrayElems, true
}

func walkJSON(v any, depth int) (nodes, maxDepth, arrayElems int) {
	nodes, maxDepth = 1, depth
	switch val := v.(type) {
	case map[string]any:
		for _, child := range val {
			n, d, a := walkJSON(child, depth+1)
			nodes += n
			arrayElems += a
			if d > maxDepth {
				maxDepth = d
			}
		}
	case []any:
		arrayElems += len(val)
		for _, child := range val {
			n, d, a := walkJSON(child, depth+1)
			nodes += n
			arrayElems += a
			if d > maxDepth {
				maxDepth = d
			}
		}
	}
	return nodes, maxDepth, arrayElems
}

// csvColumns counts columns in the snippet's first line. Quoted fields with
// embedded commas are rare in the header row; a plain split is close enough
// for routing.
func csvColumns(snippet string) int {
	line, _, _ := strings.Cut(snippet, "\n")
	if strings.TrimSpace(line) == "" {
		return 0
	}
	return strings.Count(line, ",") + 1
}
