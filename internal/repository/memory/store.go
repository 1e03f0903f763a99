package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"dermassist/internal/model"
	"dermassist/internal/rag"
	"dermassist/internal/repository"
)

// Store keeps documents and chunks in process memory. It mirrors the MySQL
// repositories closely enough to stand in for them in tests and the CLI.
type Store struct {
	mu sync.RWMutex

	nextDocID   uint
	nextChunkID uint

	docs   map[uint]model.Document
	chunks map[uint][]rag.Chunk // by document id

	now func() time.Time
}

func New() *Store {
	return &Store{
		docs:   make(map[uint]model.Document),
		chunks: make(map[uint][]rag.Chunk),
		now:    time.Now,
	}
}

func (s *Store) Create(_ context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextDocID++
	doc.ID = s.nextDocID
	now := s.now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	s.docs[doc.ID] = *doc
	return nil
}

func (s *Store) GetByIDAndOwner(_ context.Context, id, ownerID uint) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok || doc.OwnerID != ownerID {
		return nil, nil
	}
	return &doc, nil
}

func (s *Store) ListByOwner(_ context.Context, ownerID uint) ([]model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Document
	for _, d := range s.docs {
		if d.OwnerID == ownerID {
			d.ExtractedText = ""
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Store) Transition(_ context.Context, id uint, from, to model.DocumentStatus, processingError string) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", repository.ErrStatusConflict, from, to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok || doc.Status != from {
		return fmt.Errorf("%w: document %d is not %s", repository.ErrStatusConflict, id, from)
	}
	doc.Status = to
	doc.ProcessingError = processingError
	doc.UpdatedAt = s.now()
	s.docs[id] = doc
	return nil
}

func (s *Store) Complete(_ context.Context, id uint, text string, wordCount int, chunks []rag.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok || doc.Status != model.StatusProcessing {
		return fmt.Errorf("%w: document %d is not processing", repository.ErrStatusConflict, id)
	}

	stored := make([]rag.Chunk, len(chunks))
	for i, c := range chunks {
		s.nextChunkID++
		c.ID = s.nextChunkID
		c.Embedding = append([]float32(nil), c.Embedding...)
		stored[i] = c
	}
	sort.SliceStable(stored, func(i, j int) bool { return stored[i].SequenceIndex < stored[j].SequenceIndex })
	s.chunks[id] = stored

	doc.Status = model.StatusCompleted
	doc.ProcessingError = ""
	doc.ExtractedText = text
	doc.ChunkCount = len(stored)
	doc.WordCount = wordCount
	doc.UpdatedAt = s.now()
	s.docs[id] = doc
	return nil
}

func (s *Store) Delete(_ context.Context, id, ownerID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok || doc.OwnerID != ownerID {
		return repository.ErrNotFound
	}
	delete(s.docs, id)
	delete(s.chunks, id)
	return nil
}

func (s *Store) ListCandidates(_ context.Context, ownerID uint, documentIDs []uint) ([]rag.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []uint
	if len(documentIDs) > 0 {
		ids = append(ids, documentIDs...)
	} else {
		for id := range s.chunks {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []rag.Chunk
	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		for _, c := range s.chunks[id] {
			if c.OwnerID == ownerID {
				out = append(out, c)
			}
		}
	}
	return out, nil
}
