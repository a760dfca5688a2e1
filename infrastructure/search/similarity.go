// Package search ranks stored span vectors against a query vector. Per-repo
// stores are small enough that a full scan with cosine scoring answers
// interactive queries comfortably; there is no index structure to maintain.
package search

import (
	"math"
	"sort"

	"github.com/llmc-dev/ragd/domain/index"
)

// CosineSimilarity computes the cosine similarity between two vectors:
// 1 identical, -1 opposite, 0 when either vector is empty, zero-magnitude,
// or the widths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// Match holds a span hash and its similarity score.
type Match struct {
	spanHash string
	score    float64
}

// NewMatch creates a Match.
func NewMatch(spanHash string, score float64) Match {
	return Match{spanHash: spanHash, score: score}
}

// SpanHash returns the matched span's content hash.
func (m Match) SpanHash() string { return m.spanHash }

// Score returns the similarity score.
func (m Match) Score() float64 { return m.score }

// TopK scores every stored embedding against the query and returns the k
// best in descending score order. Ties break on span hash so repeated
// queries rank deterministically.
func TopK(query []float32, vectors []index.Embedding, k int) []Match {
	if len(vectors) == 0 || k <= 0 {
		return nil
	}

	matches := make([]Match, 0, len(vectors))
	for _, v := range vectors {
		matches = append(matches, NewMatch(v.SpanHash(), CosineSimilarity(query, v.Vector())))
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].spanHash < matches[j].spanHash
	})

	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k]
}
