package index

// WorkItem is one unit of pending work produced by the planner: a span
// that still needs an enrichment or an embedding. Ephemeral; never
// persisted.
type WorkItem struct {
	spanHash  string
	path      string
	lang      string
	startLine int
	endLine   int
	byteStart int64
	byteEnd   int64
	snippet   string
}

// NewWorkItem creates a work item for a pending span.
func NewWorkItem(spanHash, path, lang string, startLine, endLine int, byteStart, byteEnd int64) WorkItem {
	return WorkItem{
		spanHash:  spanHash,
		path:      path,
		lang:      lang,
		startLine: startLine,
		endLine:   endLine,
		byteStart: byteStart,
		byteEnd:   byteEnd,
	}
}

// SpanHash returns the pending span's content identity.
func (w WorkItem) SpanHash() string { return w.spanHash }

// Path returns the file path relative to the repo root.
func (w WorkItem) Path() string { return w.path }

// Lang returns the span's language.
func (w WorkItem) Lang() string { return w.lang }

// StartLine returns the 1-based first line of the span.
func (w WorkItem) StartLine() int { return w.startLine }

// EndLine returns the 1-based last line of the span.
func (w WorkItem) EndLine() int { return w.endLine }

// ByteStart returns the byte offset of the span start within the file.
func (w WorkItem) ByteStart() int64 { return w.byteStart }

// ByteEnd returns the byte offset just past the span end.
func (w WorkItem) ByteEnd() int64 { return w.byteEnd }

// Snippet returns the truncated source attached by the planner for prompt
// construction. Empty until WithSnippet is applied.
func (w WorkItem) Snippet() string { return w.snippet }

// WithSnippet returns a copy carrying a prompt snippet.
func (w WorkItem) WithSnippet(snippet string) WorkItem {
	w.snippet = snippet
	return w
}
