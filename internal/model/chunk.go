package model

import (
	"encoding/json"
	"fmt"
	"time"

	"dermassist/internal/rag"
)

// Chunk stores a text window and its embedding. Embedding is a JSON array
// of float32; Dimension and EmbedderModel record how it was produced.
type Chunk struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OwnerID        uint      `gorm:"not null;index:idx_chunk_owner_doc,priority:1" json:"owner_id"`
	DocumentID     uint      `gorm:"not null;index:idx_chunk_owner_doc,priority:2;uniqueIndex:idx_chunk_doc_seq,priority:1" json:"document_id"`
	SequenceIndex  int       `gorm:"not null;uniqueIndex:idx_chunk_doc_seq,priority:2" json:"sequence_index"`
	Text           string    `gorm:"type:text;not null" json:"text"`
	Embedding      string    `gorm:"type:mediumtext" json:"-"`
	Dimension      int       `gorm:"not null" json:"dimension"`
	EmbedderModel  string    `gorm:"size:128;not null" json:"embedder_model"`
	SourceFilename string    `gorm:"size:255" json:"source_filename"`
	CreatedAt      time.Time `json:"created_at"`
}

func ChunkFromRAG(c rag.Chunk) (Chunk, error) {
	b, err := json.Marshal(c.Embedding)
	if err != nil {
		return Chunk{}, fmt.Errorf("marshal chunk embedding failed: %w", err)
	}
	return Chunk{
		ID:             c.ID,
		OwnerID:        c.OwnerID,
		DocumentID:     c.DocumentID,
		SequenceIndex:  c.SequenceIndex,
		Text:           c.Text,
		Embedding:      string(b),
		Dimension:      len(c.Embedding),
		EmbedderModel:  c.EmbedderModel,
		SourceFilename: c.SourceFilename,
		CreatedAt:      c.CreatedAt,
	}, nil
}

// ToRAG decodes the stored row. A vector whose length disagrees with the
// recorded dimension is reported rather than silently used.
func (c Chunk) ToRAG() (rag.Chunk, error) {
	var vec []float32
	if c.Embedding != "" {
		if err := json.Unmarshal([]byte(c.Embedding), &vec); err != nil {
			return rag.Chunk{}, fmt.Errorf("decode embedding of chunk %d failed: %w", c.ID, err)
		}
	}
	if len(vec) != c.Dimension {
		return rag.Chunk{}, fmt.Errorf("chunk %d: %w", c.ID, &rag.DimensionMismatchError{Expected: c.Dimension, Actual: len(vec)})
	}
	return rag.Chunk{
		ID:             c.ID,
		OwnerID:        c.OwnerID,
		DocumentID:     c.DocumentID,
		SequenceIndex:  c.SequenceIndex,
		Text:           c.Text,
		Embedding:      vec,
		EmbedderModel:  c.EmbedderModel,
		SourceFilename: c.SourceFilename,
		CreatedAt:      c.CreatedAt,
	}, nil
}
