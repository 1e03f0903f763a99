package rag

import (
	"math"
	"sort"
)

// VectorIndex scores candidate chunks against a query vector.
type VectorIndex interface {
	Build(chunks []Chunk) error
	Query(query []float32, k int) ([]ScoredChunk, error)
}

// BruteForceIndex scans every chunk on each query. It is meant for
// user-scoped corpora of at most a few thousand chunks.
type BruteForceIndex struct {
	chunks []Chunk
}

var _ VectorIndex = (*BruteForceIndex)(nil)

func NewBruteForceIndex() *BruteForceIndex {
	return &BruteForceIndex{}
}

func (idx *BruteForceIndex) Build(chunks []Chunk) error {
	idx.chunks = append(idx.chunks[:0], chunks...)
	return nil
}

// Query returns the k best chunks by cosine similarity, best first. Equal
// scores keep build order. k <= 0 returns every chunk.
func (idx *BruteForceIndex) Query(query []float32, k int) ([]ScoredChunk, error) {
	for _, c := range idx.chunks {
		if len(c.Embedding) != len(query) {
			return nil, &DimensionMismatchError{Expected: len(query), Actual: len(c.Embedding)}
		}
	}

	scored := make([]ScoredChunk, len(idx.chunks))
	for i, c := range idx.chunks {
		scored[i] = ScoredChunk{Chunk: c, Score: Cosine(query, c.Embedding)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if k > 0 && k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

// Cosine returns dot(a,b)/(|a||b|), or 0 when either norm is zero.
// Vectors of different length also score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
