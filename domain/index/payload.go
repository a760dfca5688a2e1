package index

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Payload is the structured enrichment document produced by a completion
// model for one span. Field names are the wire schema; the validator, not
// the model, is authoritative about what is accepted.
type Payload struct {
	Summary      string     `json:"summary_120w"`
	Inputs       []string   `json:"inputs,omitempty"`
	Outputs      []string   `json:"outputs,omitempty"`
	SideEffects  []string   `json:"side_effects,omitempty"`
	Pitfalls     []string   `json:"pitfalls,omitempty"`
	UsageSnippet string     `json:"usage_snippet,omitempty"`
	Evidence     []Evidence `json:"evidence,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
}

// Evidence ties one payload field to the line range that supports it.
type Evidence struct {
	Field string `json:"field"`
	Lines []int  `json:"lines"`
}

// MaxSummaryWords caps the summary_120w field.
const MaxSummaryWords = 120

// MaxUsageSnippetLines caps usage_snippet during normalization.
const MaxUsageSnippetLines = 12

// ErrNotJSON reports that a model response body could not be decoded as a
// JSON object at all (as opposed to violating the payload schema).
var ErrNotJSON = errors.New("payload is not a JSON object")

// SchemaError reports a payload that is valid JSON but violates the
// enrichment schema.
type SchemaError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("payload schema: %s", e.Reason)
	}
	return fmt.Sprintf("payload schema: field %q: %s", e.Field, e.Reason)
}

// DecodePayload parses raw bytes into a Payload. Malformed JSON returns an
// error wrapping ErrNotJSON; schema violations (unknown keys, wrong field
// types) return a *SchemaError. Callers classify the two differently.
func DecodePayload(raw []byte) (Payload, error) {
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	if _, ok := probe.(map[string]any); !ok {
		return Payload{}, &SchemaError{Reason: "top level is not an object"}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var p Payload
	if err := dec.Decode(&p); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Payload{}, &SchemaError{
				Field:  typeErr.Field,
				Reason: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
			}
		}
		if field, ok := unknownField(err); ok {
			return Payload{}, &SchemaError{Field: field, Reason: "unknown key"}
		}
		return Payload{}, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	return p, nil
}

// unknownField extracts the field name from encoding/json's unknown-field
// error, which is only exposed as formatted text.
func unknownField(err error) (string, bool) {
	const prefix = "json: unknown field "
	msg := err.Error()
	if !strings.HasPrefix(msg, prefix) {
		return "", false
	}
	return strings.Trim(strings.TrimPrefix(msg, prefix), `"`), true
}

// Normalize returns a copy with model sloppiness repaired: usage_snippet is
// clamped to MaxUsageSnippetLines, and every populated field missing an
// evidence entry gets one spanning the whole span range.
func (p Payload) Normalize(spanStart, spanEnd int) Payload {
	if p.UsageSnippet != "" {
		lines := strings.Split(p.UsageSnippet, "\n")
		if len(lines) > MaxUsageSnippetLines {
			p.UsageSnippet = strings.Join(lines[:MaxUsageSnippetLines], "\n")
		}
	}

	covered := make(map[string]bool, len(p.Evidence))
	for _, ev := range p.Evidence {
		covered[ev.Field] = true
	}
	evidence := make([]Evidence, len(p.Evidence), len(p.Evidence)+4)
	copy(evidence, p.Evidence)
	for _, field := range p.populatedFields() {
		if !covered[field] {
			evidence = append(evidence, Evidence{Field: field, Lines: []int{spanStart, spanEnd}})
		}
	}
	p.Evidence = evidence
	return p
}

func (p Payload) populatedFields() []string {
	var fields []string
	if p.Summary != "" {
		fields = append(fields, "summary_120w")
	}
	if len(p.Inputs) > 0 {
		fields = append(fields, "inputs")
	}
	if len(p.Outputs) > 0 {
		fields = append(fields, "outputs")
	}
	if len(p.SideEffects) > 0 {
		fields = append(fields, "side_effects")
	}
	if len(p.Pitfalls) > 0 {
		fields = append(fields, "pitfalls")
	}
	if p.UsageSnippet != "" {
		fields = append(fields, "usage_snippet")
	}
	if len(p.Tags) > 0 {
		fields = append(fields, "tags")
	}
	return fields
}

// Validate checks the payload against the schema rules that decoding
// cannot enforce: the summary word cap and evidence line ranges contained
// in the span range.
func (p Payload) Validate(spanStart, spanEnd int) error {
	if words := len(strings.Fields(p.Summary)); words > MaxSummaryWords {
		return &SchemaError{
			Field:  "summary_120w",
			Reason: fmt.Sprintf("%d words exceeds the %d word cap", words, MaxSummaryWords),
		}
	}
	for i, ev := range p.Evidence {
		if len(ev.Lines) != 2 {
			return &SchemaError{
				Field:  "evidence",
				Reason: fmt.Sprintf("entry %d: lines must be a [start, end] pair", i),
			}
		}
		if ev.Lines[0] > ev.Lines[1] {
			return &SchemaError{
				Field:  "evidence",
				Reason: fmt.Sprintf("entry %d: start line %d after end line %d", i, ev.Lines[0], ev.Lines[1]),
			}
		}
		if ev.Lines[0] < spanStart || ev.Lines[1] > spanEnd {
			return &SchemaError{
				Field:  "evidence",
				Reason: fmt.Sprintf("entry %d: lines [%d, %d] outside span range [%d, %d]", i, ev.Lines[0], ev.Lines[1], spanStart, spanEnd),
			}
		}
	}
	return nil
}

// Encode serializes the payload as minified JSON for persistence.
func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}
