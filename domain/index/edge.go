package index

// EdgeType classifies a tech-docs graph edge.
type EdgeType string

// Edge type constants.
const (
	EdgeReferences EdgeType = "REFERENCES"
	EdgeRequires   EdgeType = "REQUIRES"
	EdgeWarnsAbout EdgeType = "WARNS_ABOUT"
)

// Edge is a directed relation between a documentation span and a target,
// which may be another span or unresolved free text. The triple
// (source, edge type, target text) is unique, so re-enrichment is
// idempotent.
type Edge struct {
	sourceSpanHash string
	targetSpanHash string
	targetText     string
	edgeType       EdgeType
	confidence     float64
}

// NewEdge creates an edge. targetSpanHash may be empty when the target
// text did not resolve to a known span.
func NewEdge(sourceSpanHash, targetSpanHash, targetText string, edgeType EdgeType, confidence float64) Edge {
	return Edge{
		sourceSpanHash: sourceSpanHash,
		targetSpanHash: targetSpanHash,
		targetText:     targetText,
		edgeType:       edgeType,
		confidence:     confidence,
	}
}

// SourceSpanHash returns the originating span's content identity.
func (e Edge) SourceSpanHash() string { return e.sourceSpanHash }

// TargetSpanHash returns the resolved target span, or empty.
func (e Edge) TargetSpanHash() string { return e.targetSpanHash }

// TargetText returns the literal target text from the enrichment.
func (e Edge) TargetText() string { return e.targetText }

// Type returns the edge classification.
func (e Edge) Type() EdgeType { return e.edgeType }

// Confidence returns the model's confidence in the relation.
func (e Edge) Confidence() float64 { return e.confidence }
