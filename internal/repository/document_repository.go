package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"dermassist/internal/model"
	"dermassist/internal/rag"
)

const chunkInsertBatch = 100

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByIDAndOwner(ctx context.Context, id, ownerID uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) ListByOwner(ctx context.Context, ownerID uint) ([]model.Document, error) {
	var list []model.Document
	err := r.db.WithContext(ctx).
		Omit("extracted_text").
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, id DESC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return list, nil
}

// Transition moves a document from one status to the next. The update is
// conditional on the current status, so concurrent movers cannot both win.
func (r *DocumentRepository) Transition(ctx context.Context, id uint, from, to model.DocumentStatus, processingError string) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrStatusConflict, from, to)
	}
	res := r.db.WithContext(ctx).
		Model(&model.Document{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":           to,
			"processing_error": processingError,
		})
	if res.Error != nil {
		return fmt.Errorf("update document status failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: document %d is not %s", ErrStatusConflict, id, from)
	}
	return nil
}

// Complete stores the chunks and marks the document completed in one
// transaction, so chunks never exist for a document in any other status.
func (r *DocumentRepository) Complete(ctx context.Context, id uint, text string, wordCount int, chunks []rag.Chunk) error {
	rows := make([]model.Chunk, 0, len(chunks))
	for _, c := range chunks {
		row, err := model.ChunkFromRAG(c)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Document{}).
			Where("id = ? AND status = ?", id, model.StatusProcessing).
			Updates(map[string]interface{}{
				"status":           model.StatusCompleted,
				"processing_error": "",
				"extracted_text":   text,
				"chunk_count":      len(rows),
				"word_count":       wordCount,
			})
		if res.Error != nil {
			return fmt.Errorf("complete document failed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: document %d is not processing", ErrStatusConflict, id)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(&rows, chunkInsertBatch).Error; err != nil {
			return fmt.Errorf("create chunks failed: %w", err)
		}
		return nil
	})
}

// Delete removes the document and all of its chunks.
func (r *DocumentRepository) Delete(ctx context.Context, id, ownerID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ? AND owner_id = ?", id, ownerID).Delete(&model.Chunk{}).Error; err != nil {
			return fmt.Errorf("delete chunks by document failed: %w", err)
		}
		res := tx.Where("id = ? AND owner_id = ?", id, ownerID).Delete(&model.Document{})
		if res.Error != nil {
			return fmt.Errorf("delete document failed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
