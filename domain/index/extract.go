package index

// Extractor derives spans from one file's content. Returned spans carry no
// database identifiers; the indexer binds them to a file record before
// persisting. Implementations must not perform I/O beyond the passed bytes,
// and must compute each span's hash with HashSpan over the exact byte range.
type Extractor interface {
	Extract(path, lang string, content []byte) []Span
}
