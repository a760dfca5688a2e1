package index

import "time"

// PayloadSchemaVersion is the enrichment payload schema generation stored
// alongside every row.
const PayloadSchemaVersion = 1

// Enrichment is one persisted enrichment document for a span. Last writer
// wins: storing a second enrichment for the same span hash replaces the
// first in full.
type Enrichment struct {
	spanHash      string
	payload       Payload
	model         string
	tierUsed      string
	schemaVersion int
	createdAt     time.Time
}

// NewEnrichment creates an enrichment produced by a model call.
func NewEnrichment(spanHash string, payload Payload, model, tierUsed string) Enrichment {
	return Enrichment{
		spanHash:      spanHash,
		payload:       payload,
		model:         model,
		tierUsed:      tierUsed,
		schemaVersion: PayloadSchemaVersion,
		createdAt:     time.Now(),
	}
}

// ReconstructEnrichment recreates an enrichment from persistence.
func ReconstructEnrichment(spanHash string, payload Payload, model, tierUsed string, schemaVersion int, createdAt time.Time) Enrichment {
	return Enrichment{
		spanHash:      spanHash,
		payload:       payload,
		model:         model,
		tierUsed:      tierUsed,
		schemaVersion: schemaVersion,
		createdAt:     createdAt,
	}
}

// SpanHash returns the enriched span's content identity.
func (e Enrichment) SpanHash() string { return e.spanHash }

// Payload returns the structured enrichment document.
func (e Enrichment) Payload() Payload { return e.payload }

// Model returns the model identifier that produced the payload.
func (e Enrichment) Model() string { return e.model }

// TierUsed returns the tier that produced the accepted payload.
func (e Enrichment) TierUsed() string { return e.tierUsed }

// SchemaVersion returns the payload schema generation.
func (e Enrichment) SchemaVersion() int { return e.schemaVersion }

// CreatedAt returns when the enrichment was produced.
func (e Enrichment) CreatedAt() time.Time { return e.createdAt }
