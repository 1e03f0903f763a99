package rag

import "time"

// Chunk is one embedded window of a document's extracted text.
type Chunk struct {
	ID             uint
	OwnerID        uint
	DocumentID     uint
	SequenceIndex  int
	Text           string
	Embedding      []float32
	EmbedderModel  string
	SourceFilename string
	CreatedAt      time.Time
}

type ScoredChunk struct {
	Chunk Chunk
	Score float64
}
