package model

import "time"

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Statuses only move forward: pending, processing, then completed or failed.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Document struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	OwnerID          uint           `gorm:"not null;index" json:"owner_id"`
	OriginalFilename string         `gorm:"size:255;not null" json:"original_filename"`
	MIMEType         string         `gorm:"size:128;not null" json:"mime_type"`
	SizeBytes        int64          `gorm:"not null" json:"size_bytes"`
	StoragePath      string         `gorm:"size:512" json:"-"`
	ExtractedText    string         `gorm:"type:longtext" json:"-"`
	Status           DocumentStatus `gorm:"size:16;not null;index" json:"status"`
	ProcessingError  string         `gorm:"type:text" json:"processing_error,omitempty"`
	ChunkCount       int            `gorm:"not null;default:0" json:"chunk_count"`
	WordCount        int            `gorm:"not null;default:0" json:"word_count"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// IngestJob asks a worker to process one uploaded document.
type IngestJob struct {
	DocumentID uint `json:"document_id"`
	OwnerID    uint `json:"owner_id"`
}

// DocumentStatusView is what clients poll while a document is ingested.
type DocumentStatusView struct {
	DocumentID uint           `json:"document_id"`
	Status     DocumentStatus `json:"status"`
	ChunkCount int            `json:"chunk_count"`
	Error      string         `json:"error,omitempty"`
}

func (d *Document) StatusView() DocumentStatusView {
	return DocumentStatusView{
		DocumentID: d.ID,
		Status:     d.Status,
		ChunkCount: d.ChunkCount,
		Error:      d.ProcessingError,
	}
}
