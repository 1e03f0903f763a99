package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"dermassist/internal/model"
	"dermassist/internal/rag"
)

type ChunkRepository struct {
	db *gorm.DB
}

func NewChunkRepository(db *gorm.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// ListCandidates returns the owner's chunks, optionally limited to the given
// documents, ordered by document then sequence index. IDs of documents the
// owner does not have simply match nothing.
func (r *ChunkRepository) ListCandidates(ctx context.Context, ownerID uint, documentIDs []uint) ([]rag.Chunk, error) {
	q := r.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if len(documentIDs) > 0 {
		q = q.Where("document_id IN ?", documentIDs)
	}

	var rows []model.Chunk
	if err := q.Order("document_id ASC, sequence_index ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list chunks failed: %w", err)
	}

	out := make([]rag.Chunk, 0, len(rows))
	for _, row := range rows {
		c, err := row.ToRAG()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
