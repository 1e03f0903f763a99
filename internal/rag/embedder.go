package rag

import (
	"context"
	"math"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"
)

const (
	DefaultDimension = 384
	HashEmbedderName = "local-feature-hash"
)

// Embedder turns text into a vector of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	ModelName() string
}

// HashEmbedder is a deterministic feature-hashing embedder that needs no
// network. Words are bucketed by a 32-bit string hash and slots 0..2 carry
// length, word count and sentence punctuation features.
type HashEmbedder struct {
	dim int
}

var _ Embedder = (*HashEmbedder)(nil)

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim < 3 {
		dim = DefaultDimension
	}
	return &HashEmbedder{dim: dim}
}

func (e *HashEmbedder) Dimension() int    { return e.dim }
func (e *HashEmbedder) ModelName() string { return HashEmbedderName }

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.Vector(text), nil
}

// Vector is Embed without a context; it never fails.
func (e *HashEmbedder) Vector(text string) []float32 {
	acc := make([]float64, e.dim)

	words := tokenize(text)
	if len(words) > 0 {
		weight := 1 / math.Sqrt(float64(len(words)))
		for _, w := range words {
			acc[bucket(w, e.dim)] += weight
		}
	}

	acc[0] = float64(utf8.RuneCountInString(text)) / 1000
	acc[1] = float64(len(words)) / 100
	acc[2] = float64(strings.Count(text, ".")+strings.Count(text, "!")+strings.Count(text, "?")) / 10

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, e.dim)
	if norm == 0 {
		return out
	}
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	words := fields[:0]
	for _, f := range fields {
		w := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}

// bucket hashes over UTF-16 code units with multiplier 31, wrapping at 32 bits.
func bucket(word string, dim int) int {
	var h int32
	for _, c := range utf16.Encode([]rune(word)) {
		h = h<<5 - h + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return int(v % int64(dim))
}
