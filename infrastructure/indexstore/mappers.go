package indexstore

import (
	"encoding/json"

	"github.com/llmc-dev/ragd/domain/index"
	"github.com/llmc-dev/ragd/internal/database"
)

// FileMapper maps between index.FileRecord and FileModel.
type FileMapper struct{}

// ToDomain converts a FileModel to a domain file record.
func (FileMapper) ToDomain(e FileModel) index.FileRecord {
	return index.ReconstructFileRecord(e.ID, e.Path, e.Lang, e.FileHash, e.Size, e.Mtime)
}

// ToModel converts a domain file record to a FileModel.
func (FileMapper) ToModel(f index.FileRecord) FileModel {
	return FileModel{
		ID:       f.ID(),
		Path:     f.Path(),
		Lang:     f.Lang(),
		FileHash: f.FileHash(),
		Size:     f.Size(),
		Mtime:    f.ModTime(),
	}
}

// SpanMapper maps between index.Span and SpanModel.
type SpanMapper struct{}

// ToDomain converts a SpanModel to a domain span.
func (SpanMapper) ToDomain(e SpanModel) index.Span {
	return index.ReconstructSpan(
		e.ID, e.FileID, e.Symbol, index.Kind(e.Kind),
		e.StartLine, e.EndLine, e.ByteStart, e.ByteEnd,
		e.SpanHash, e.DocHint,
	)
}

// ToModel converts a domain span to a SpanModel.
func (SpanMapper) ToModel(s index.Span) SpanModel {
	return SpanModel{
		ID:        s.ID(),
		FileID:    s.FileID(),
		Symbol:    s.Symbol(),
		Kind:      string(s.Kind()),
		StartLine: s.StartLine(),
		EndLine:   s.EndLine(),
		ByteStart: s.ByteStart(),
		ByteEnd:   s.ByteEnd(),
		SpanHash:  s.Hash(),
		DocHint:   s.DocHint(),
	}
}

// EnrichmentMapper maps between index.Enrichment and EnrichmentModel. The
// payload's list fields are stored as JSON arrays in text columns.
type EnrichmentMapper struct{}

// ToDomain converts an EnrichmentModel to a domain enrichment.
func (EnrichmentMapper) ToDomain(e EnrichmentModel) index.Enrichment {
	payload := index.Payload{
		Summary:      e.Summary,
		Inputs:       decodeStrings(e.Inputs),
		Outputs:      decodeStrings(e.Outputs),
		SideEffects:  decodeStrings(e.SideEffects),
		Pitfalls:     decodeStrings(e.Pitfalls),
		UsageSnippet: e.UsageSnippet,
		Evidence:     decodeEvidence(e.Evidence),
		Tags:         decodeStrings(e.Tags),
	}
	return index.ReconstructEnrichment(e.SpanHash, payload, e.Model, e.TierUsed, e.SchemaVersion, e.CreatedAt)
}

// ToModel converts a domain enrichment to an EnrichmentModel.
func (EnrichmentMapper) ToModel(en index.Enrichment) EnrichmentModel {
	p := en.Payload()
	return EnrichmentModel{
		SpanHash:      en.SpanHash(),
		Summary:       p.Summary,
		Inputs:        encodeStrings(p.Inputs),
		Outputs:       encodeStrings(p.Outputs),
		SideEffects:   encodeStrings(p.SideEffects),
		Pitfalls:      encodeStrings(p.Pitfalls),
		UsageSnippet:  p.UsageSnippet,
		Evidence:      encodeEvidence(p.Evidence),
		Tags:          encodeStrings(p.Tags),
		Model:         en.Model(),
		TierUsed:      en.TierUsed(),
		SchemaVersion: en.SchemaVersion(),
		CreatedAt:     en.CreatedAt(),
	}
}

// EmbeddingMapper maps between index.Embedding and EmbeddingModel.
type EmbeddingMapper struct{}

// ToDomain converts an EmbeddingModel to a domain embedding.
func (EmbeddingMapper) ToDomain(e EmbeddingModel) index.Embedding {
	return index.NewEmbedding(e.SpanHash, e.Vec.Floats(), e.RouteName, e.ProfileName)
}

// ToModel converts a domain embedding to an EmbeddingModel.
func (EmbeddingMapper) ToModel(emb index.Embedding) EmbeddingModel {
	return EmbeddingModel{
		SpanHash:    emb.SpanHash(),
		Vec:         database.NewFloat32Blob(emb.Vector()),
		RouteName:   emb.RouteName(),
		ProfileName: emb.ProfileName(),
	}
}

// EdgeMapper maps between index.Edge and EdgeModel.
type EdgeMapper struct{}

// ToDomain converts an EdgeModel to a domain edge.
func (EdgeMapper) ToDomain(e EdgeModel) index.Edge {
	return index.NewEdge(e.SourceSpanHash, e.TargetSpanHash, e.TargetText, index.EdgeType(e.EdgeType), e.Confidence)
}

// ToModel converts a domain edge to an EdgeModel.
func (EdgeMapper) ToModel(edge index.Edge) EdgeModel {
	return EdgeModel{
		SourceSpanHash: edge.SourceSpanHash(),
		TargetSpanHash: edge.TargetSpanHash(),
		TargetText:     edge.TargetText(),
		EdgeType:       string(edge.Type()),
		Confidence:     edge.Confidence(),
	}
}

func encodeStrings(values []string) string {
	if len(values) == 0 {
		return ""
	}
	data, err := json.Marshal(values)
	if err != nil {
		return ""
	}
	return string(data)
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}

func encodeEvidence(evidence []index.Evidence) string {
	if len(evidence) == 0 {
		return ""
	}
	data, err := json.Marshal(evidence)
	if err != nil {
		return ""
	}
	return string(data)
}

func decodeEvidence(raw string) []index.Evidence {
	if raw == "" {
		return nil
	}
	var evidence []index.Evidence
	if err := json.Unmarshal([]byte(raw), &evidence); err != nil {
		return nil
	}
	return evidence
}
