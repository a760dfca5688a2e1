package index

import (
	"crypto/sha256"
	"encoding/hex"
)

// Kind classifies what a span covers.
type Kind string

// Span kind constants.
const (
	KindFunction Kind = "function"
	KindMethod   Kind = "method"
	KindClass    Kind = "class"
	KindSection  Kind = "section"
	KindBlock    Kind = "block"
)

// Span is a contiguous slice of one file, identified globally by its
// content hash. Identical bytes in the same language intentionally share a
// hash, so re-indexing unchanged code is a no-op.
type Span struct {
	id        int64
	fileID    int64
	symbol    string
	kind      Kind
	startLine int
	endLine   int
	byteStart int64
	byteEnd   int64
	spanHash  string
	docHint   string
}

// NewSpan creates a span extracted from source. The span hash must be
// computed with HashSpan over the exact byte range.
func NewSpan(symbol string, kind Kind, startLine, endLine int, byteStart, byteEnd int64, spanHash, docHint string) Span {
	return Span{
		symbol:    symbol,
		kind:      kind,
		startLine: startLine,
		endLine:   endLine,
		byteStart: byteStart,
		byteEnd:   byteEnd,
		spanHash:  spanHash,
		docHint:   docHint,
	}
}

// ReconstructSpan recreates a span from persistence.
func ReconstructSpan(id, fileID int64, symbol string, kind Kind, startLine, endLine int, byteStart, byteEnd int64, spanHash, docHint string) Span {
	s := NewSpan(symbol, kind, startLine, endLine, byteStart, byteEnd, spanHash, docHint)
	s.id = id
	s.fileID = fileID
	return s
}

// ID returns the database identifier (0 when not yet persisted).
func (s Span) ID() int64 { return s.id }

// FileID returns the owning file's database identifier.
func (s Span) FileID() int64 { return s.fileID }

// Symbol returns the qualified identifier the span covers.
func (s Span) Symbol() string { return s.symbol }

// Kind returns the span classification.
func (s Span) Kind() Kind { return s.kind }

// StartLine returns the 1-based first line of the span.
func (s Span) StartLine() int { return s.startLine }

// EndLine returns the 1-based last line of the span.
func (s Span) EndLine() int { return s.endLine }

// ByteStart returns the byte offset of the span start within the file.
func (s Span) ByteStart() int64 { return s.byteStart }

// ByteEnd returns the byte offset just past the span end.
func (s Span) ByteEnd() int64 { return s.byteEnd }

// Hash returns the span's content identity.
func (s Span) Hash() string { return s.spanHash }

// DocHint returns the optional short documentation hint.
func (s Span) DocHint() string { return s.docHint }

// WithFileID returns a copy bound to a persisted file.
func (s Span) WithFileID(fileID int64) Span {
	s.fileID = fileID
	return s
}

// WithID returns a copy with the database identifier set.
func (s Span) WithID(id int64) Span {
	s.id = id
	return s
}

// HashSpan computes a span's content identity: the hex-encoded SHA-256 of
// the language name, a zero byte, and the span bytes.
func HashSpan(lang string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(lang))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
