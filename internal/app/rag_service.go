package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dermassist/internal/model"
	"dermassist/internal/rag"
	"dermassist/internal/repository"
)

const (
	sniffLen             = 3072
	defaultRetrieveLimit = 5
)

type DocumentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	GetByIDAndOwner(ctx context.Context, id, ownerID uint) (*model.Document, error)
	ListByOwner(ctx context.Context, ownerID uint) ([]model.Document, error)
	Transition(ctx context.Context, id uint, from, to model.DocumentStatus, processingError string) error
	Complete(ctx context.Context, id uint, text string, wordCount int, chunks []rag.Chunk) error
	Delete(ctx context.Context, id, ownerID uint) error
}

type ChunkStore interface {
	ListCandidates(ctx context.Context, ownerID uint, documentIDs []uint) ([]rag.Chunk, error)
}

type FileStore interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
	Open(path string) (io.ReadCloser, error)
	Remove(path string) error
}

type IngestQueue interface {
	Enqueue(ctx context.Context, job model.IngestJob) error
}

// StatusCache may miss at any time; the document store stays authoritative.
type StatusCache interface {
	Get(ctx context.Context, ownerID, documentID uint) (*model.DocumentStatusView, error)
	Set(ctx context.Context, ownerID uint, view model.DocumentStatusView) error
	Delete(ctx context.Context, ownerID, documentID uint) error
}

type QueryEmbedder interface {
	EmbedWithModel(ctx context.Context, text string) ([]float32, string, error)
}

// ModelEmbedder embeds with a named embedder. Query embedders that implement
// it let chunks stored by another embedder be scored in their own space.
type ModelEmbedder interface {
	EmbedAs(ctx context.Context, model, text string) ([]float32, error)
}

type AnswerGenerator interface {
	Generate(ctx context.Context, query, contextText string) (rag.Answer, error)
}

type RAGConfig struct {
	ChunkSize        int
	ChunkOverlap     int
	TopK             int
	RetrieveLimit    int
	EmbedParallelism int
}

type RAGDeps struct {
	Documents DocumentStore
	Chunks    ChunkStore
	Files     FileStore
	Queue     IngestQueue
	Cache     StatusCache
	Extractor *rag.Extractor
	Embedder  QueryEmbedder
	Generator AnswerGenerator
	Retriever *rag.Retriever
}

type RAGService struct {
	docs      DocumentStore
	chunks    ChunkStore
	files     FileStore
	queue     IngestQueue
	cache     StatusCache
	extractor *rag.Extractor
	chunker   *rag.Chunker
	embedder  QueryEmbedder
	generator AnswerGenerator
	retriever *rag.Retriever

	topK          int
	retrieveLimit int
	parallelism   int
	now           func() time.Time
}

func NewRAGService(deps RAGDeps, cfg RAGConfig) (*RAGService, error) {
	if deps.Documents == nil || deps.Chunks == nil || deps.Files == nil || deps.Embedder == nil || deps.Generator == nil {
		return nil, errors.New("rag service: missing dependency")
	}
	if cfg.ChunkSize == 0 && cfg.ChunkOverlap == 0 {
		cfg.ChunkSize, cfg.ChunkOverlap = rag.DefaultChunkSize, rag.DefaultChunkOverlap
	}
	chunker, err := rag.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if cfg.TopK <= 0 {
		cfg.TopK = rag.DefaultTopK
	}
	if cfg.RetrieveLimit <= 0 {
		cfg.RetrieveLimit = defaultRetrieveLimit
	}
	if cfg.EmbedParallelism <= 0 {
		cfg.EmbedParallelism = 1
	}

	s := &RAGService{
		docs:          deps.Documents,
		chunks:        deps.Chunks,
		files:         deps.Files,
		queue:         deps.Queue,
		cache:         deps.Cache,
		extractor:     deps.Extractor,
		chunker:       chunker,
		embedder:      deps.Embedder,
		generator:     deps.Generator,
		retriever:     deps.Retriever,
		topK:          cfg.TopK,
		retrieveLimit: cfg.RetrieveLimit,
		parallelism:   cfg.EmbedParallelism,
		now:           time.Now,
	}
	if s.extractor == nil {
		s.extractor = rag.NewExtractor()
	}
	if s.retriever == nil {
		s.retriever = rag.NewRetriever()
	}
	return s, nil
}

// SetQueue attaches the ingestion queue after construction, for queues that
// need the service themselves.
func (s *RAGService) SetQueue(q IngestQueue) {
	s.queue = q
}

type SubmitInput struct {
	OwnerID      uint
	Filename     string
	DeclaredType string
	Size         int64
	Content      io.Reader
	Policy       rag.UploadPolicy
}

type SubmitResult struct {
	DocumentID uint                 `json:"document_id"`
	Filename   string               `json:"filename"`
	Status     model.DocumentStatus `json:"status"`
}

// Submit validates and stores an upload, records the document and hands it
// to the ingestion queue. Nothing is stored when validation fails.
func (s *RAGService) Submit(ctx context.Context, input SubmitInput) (*SubmitResult, error) {
	if input.OwnerID == 0 {
		return nil, ErrInvalidInput
	}
	if s.queue == nil {
		return nil, ErrQueueUnavailable
	}

	size := input.Size
	if input.Content == nil {
		size = 0
	}
	content := bufio.NewReaderSize(input.Content, sniffLen)
	var head []byte
	if size > 0 {
		head, _ = content.Peek(sniffLen)
	}
	filename := strings.TrimSpace(input.Filename)
	if filename != "" {
		filename = filepath.Base(filename)
	}
	mimeType, err := input.Policy.Validate(rag.Upload{
		Filename:     filename,
		DeclaredType: input.DeclaredType,
		Size:         size,
		Head:         head,
	})
	if err != nil {
		return nil, err
	}

	path, err := s.files.Save(ctx, uuid.NewString()+storedExt(filename), io.LimitReader(content, input.Size))
	if err != nil {
		return nil, err
	}

	doc := &model.Document{
		OwnerID:          input.OwnerID,
		OriginalFilename: filename,
		MIMEType:         mimeType,
		SizeBytes:        input.Size,
		StoragePath:      path,
		Status:           model.StatusPending,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		s.removeFile(path)
		return nil, err
	}
	if err := s.transition(ctx, doc, model.StatusProcessing, ""); err != nil {
		s.abandon(doc, err.Error())
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, model.IngestJob{DocumentID: doc.ID, OwnerID: doc.OwnerID}); err != nil {
		log.Printf("enqueue document %d failed: %v", doc.ID, err)
		s.abandon(doc, ErrQueueUnavailable.Error())
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	return &SubmitResult{
		DocumentID: doc.ID,
		Filename:   doc.OriginalFilename,
		Status:     model.StatusProcessing,
	}, nil
}

// ProcessDocument runs extraction, chunking and embedding for a queued
// document and records the outcome on it. Documents that were deleted or are
// not processing are skipped. Ingestion failures are stored on the document
// and returned; only a cancelled context leaves the document untouched.
func (s *RAGService) ProcessDocument(ctx context.Context, job model.IngestJob) error {
	doc, err := s.docs.GetByIDAndOwner(ctx, job.DocumentID, job.OwnerID)
	if err != nil {
		return err
	}
	if doc == nil {
		log.Printf("ingest skipped, document %d not found", job.DocumentID)
		return nil
	}
	if doc.Status != model.StatusProcessing {
		log.Printf("ingest skipped, document %d is %s", doc.ID, doc.Status)
		return nil
	}

	text, chunks, err := s.ingest(ctx, doc)
	if err == nil {
		err = s.docs.Complete(ctx, doc.ID, text, len(strings.Fields(text)), chunks)
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	s.removeFile(doc.StoragePath)

	if err != nil {
		if terr := s.transition(ctx, doc, model.StatusFailed, err.Error()); terr != nil {
			log.Printf("mark document %d failed: %v", doc.ID, terr)
		}
		return fmt.Errorf("ingest document %d failed: %w", doc.ID, err)
	}

	doc.Status = model.StatusCompleted
	doc.ChunkCount = len(chunks)
	doc.ProcessingError = ""
	s.cacheStatus(ctx, doc)
	return nil
}

func (s *RAGService) ingest(ctx context.Context, doc *model.Document) (string, []rag.Chunk, error) {
	rc, err := s.files.Open(doc.StoragePath)
	if err != nil {
		return "", nil, err
	}
	text, err := s.extractor.Extract(ctx, rc, doc.MIMEType)
	rc.Close()
	if err != nil {
		return "", nil, err
	}

	pieces := s.chunker.Split(text)
	chunks := make([]rag.Chunk, len(pieces))
	createdAt := s.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, piece := range pieces {
		i, piece := i, piece
		g.Go(func() error {
			vec, embedder, err := s.embedder.EmbedWithModel(gctx, piece)
			if err != nil {
				return fmt.Errorf("embed chunk %d failed: %w", i, err)
			}
			chunks[i] = rag.Chunk{
				OwnerID:        doc.OwnerID,
				DocumentID:     doc.ID,
				SequenceIndex:  i,
				Text:           piece,
				Embedding:      vec,
				EmbedderModel:  embedder,
				SourceFilename: doc.OriginalFilename,
				CreatedAt:      createdAt,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", nil, err
	}
	return text, chunks, nil
}

func (s *RAGService) Status(ctx context.Context, ownerID, documentID uint) (*model.DocumentStatusView, error) {
	if ownerID == 0 || documentID == 0 {
		return nil, ErrInvalidInput
	}
	if s.cache != nil {
		view, err := s.cache.Get(ctx, ownerID, documentID)
		if err != nil {
			log.Printf("get status cache failed: %v", err)
		} else if view != nil {
			return view, nil
		}
	}

	doc, err := s.docs.GetByIDAndOwner(ctx, documentID, ownerID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	// A non-terminal view read here may already be outdated by the worker,
	// so only final statuses are cached from the read path.
	if doc.Status.Terminal() {
		s.cacheStatus(ctx, doc)
	}
	view := doc.StatusView()
	return &view, nil
}

func (s *RAGService) ListDocuments(ctx context.Context, ownerID uint) ([]model.Document, error) {
	if ownerID == 0 {
		return nil, ErrInvalidInput
	}
	return s.docs.ListByOwner(ctx, ownerID)
}

// ListFilesFor lists the documents of requestedUserID on behalf of ownerID.
// Callers may only list their own files.
func (s *RAGService) ListFilesFor(ctx context.Context, ownerID, requestedUserID uint) ([]model.Document, error) {
	if ownerID == 0 || requestedUserID == 0 {
		return nil, ErrInvalidInput
	}
	if ownerID != requestedUserID {
		return nil, ErrAccessDenied
	}
	return s.docs.ListByOwner(ctx, ownerID)
}

// DeleteDocument removes a document with its chunks and any upload still on
// disk.
func (s *RAGService) DeleteDocument(ctx context.Context, ownerID, documentID uint) error {
	if ownerID == 0 || documentID == 0 {
		return ErrInvalidInput
	}
	doc, err := s.docs.GetByIDAndOwner(ctx, documentID, ownerID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}
	if err := s.docs.Delete(ctx, documentID, ownerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrDocumentNotFound
		}
		return err
	}
	if doc.StoragePath != "" {
		s.removeFile(doc.StoragePath)
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, ownerID, documentID); err != nil {
			log.Printf("delete status cache failed: %v", err)
		}
	}
	return nil
}

type AskInput struct {
	OwnerID     uint
	Query       string
	DocumentIDs []uint
	TopK        int
}

type Source struct {
	DocumentID uint    `json:"document_id"`
	Filename   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

type AskResult struct {
	Answer             string   `json:"answer"`
	Sources            []Source `json:"sources"`
	RelevantChunkCount int      `json:"relevant_chunk_count"`
	Model              string   `json:"model"`
	Fallback           bool     `json:"fallback"`
}

// Ask answers a question from the owner's completed documents. With nothing
// to search it returns a fixed informational answer rather than an error.
func (s *RAGService) Ask(ctx context.Context, input AskInput) (*AskResult, error) {
	topK := input.TopK
	if topK <= 0 {
		topK = s.topK
	}
	query, scored, err := s.search(ctx, input.OwnerID, input.Query, input.DocumentIDs, topK)
	if err != nil {
		return nil, err
	}
	if len(scored) == 0 {
		return &AskResult{Answer: rag.NoRelevantInfoAnswer, Sources: []Source{}}, nil
	}

	texts := make([]string, len(scored))
	sources := make([]Source, len(scored))
	for i, sc := range scored {
		texts[i] = sc.Chunk.Text
		sources[i] = Source{
			DocumentID: sc.Chunk.DocumentID,
			Filename:   sc.Chunk.SourceFilename,
			ChunkIndex: sc.Chunk.SequenceIndex,
			Score:      sc.Score,
		}
	}

	answer, err := s.generator.Generate(ctx, query, strings.Join(texts, "\n\n"))
	if err != nil {
		return nil, err
	}
	return &AskResult{
		Answer:             answer.Text,
		Sources:            sources,
		RelevantChunkCount: len(scored),
		Model:              answer.Model,
		Fallback:           answer.Fallback,
	}, nil
}

type RetrieveInput struct {
	OwnerID     uint
	Query       string
	DocumentIDs []uint
	Limit       int
}

type RetrievedChunk struct {
	DocumentID uint    `json:"document_id"`
	Filename   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// Retrieve returns the best matching chunks without generating an answer.
func (s *RAGService) Retrieve(ctx context.Context, input RetrieveInput) ([]RetrievedChunk, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = s.retrieveLimit
	}
	_, scored, err := s.search(ctx, input.OwnerID, input.Query, input.DocumentIDs, limit)
	if err != nil {
		return nil, err
	}
	out := make([]RetrievedChunk, len(scored))
	for i, sc := range scored {
		out[i] = RetrievedChunk{
			DocumentID: sc.Chunk.DocumentID,
			Filename:   sc.Chunk.SourceFilename,
			ChunkIndex: sc.Chunk.SequenceIndex,
			Text:       sc.Chunk.Text,
			Score:      sc.Score,
		}
	}
	return out, nil
}

func (s *RAGService) search(ctx context.Context, ownerID uint, rawQuery string, documentIDs []uint, k int) (string, []rag.ScoredChunk, error) {
	if ownerID == 0 {
		return "", nil, ErrInvalidInput
	}
	query := strings.TrimSpace(rawQuery)
	if query == "" {
		return "", nil, &rag.ValidationError{Field: "query", Reason: "query is required"}
	}

	candidates, err := s.chunks.ListCandidates(ctx, ownerID, documentIDs)
	if err != nil {
		return "", nil, err
	}
	if len(candidates) == 0 {
		return query, nil, nil
	}

	vec, queryModel, err := s.embedder.EmbedWithModel(ctx, query)
	if err != nil {
		return "", nil, err
	}
	groups := groupByEmbedder(candidates, queryModel)
	if len(groups) == 1 && groups[0].model == queryModel {
		scored, err := s.retriever.Retrieve(vec, candidates, k)
		if err != nil {
			return "", nil, err
		}
		return query, scored, nil
	}

	scored, err := s.retrieveMixed(ctx, query, vec, queryModel, groups, candidates, k)
	if err != nil {
		return "", nil, err
	}
	return query, scored, nil
}

type embedderGroup struct {
	model  string
	chunks []rag.Chunk
}

// groupByEmbedder splits candidates by the embedder that produced them,
// keeping candidate order inside each group. Chunks without a recorded
// embedder are treated as coming from queryModel.
func groupByEmbedder(candidates []rag.Chunk, queryModel string) []embedderGroup {
	var groups []embedderGroup
	pos := make(map[string]int)
	for _, c := range candidates {
		m := c.EmbedderModel
		if m == "" {
			m = queryModel
		}
		i, ok := pos[m]
		if !ok {
			i = len(groups)
			pos[m] = i
			groups = append(groups, embedderGroup{model: m})
		}
		groups[i].chunks = append(groups[i].chunks, c)
	}
	return groups
}

// retrieveMixed scores each group against a query vector from the same
// embedder, then merges the rankings. Ties keep candidate order. Groups whose
// embedder cannot be reached are left out.
func (s *RAGService) retrieveMixed(ctx context.Context, query string, queryVec []float32, queryModel string, groups []embedderGroup, candidates []rag.Chunk, k int) ([]rag.ScoredChunk, error) {
	named, _ := s.embedder.(ModelEmbedder)

	var merged []rag.ScoredChunk
	for _, g := range groups {
		vec := queryVec
		if g.model != queryModel {
			if named == nil {
				log.Printf("skipping %d chunks embedded by %s: query embedded by %s", len(g.chunks), g.model, queryModel)
				continue
			}
			var err error
			vec, err = named.EmbedAs(ctx, g.model, query)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				log.Printf("skipping %d chunks embedded by %s: %v", len(g.chunks), g.model, err)
				continue
			}
		}
		scored, err := s.retriever.Retrieve(vec, g.chunks, 0)
		if err != nil {
			return nil, err
		}
		merged = append(merged, scored...)
	}

	order := make(map[[2]uint]int, len(candidates))
	for i, c := range candidates {
		order[[2]uint{c.DocumentID, uint(c.SequenceIndex)}] = i
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		a, b := merged[i].Chunk, merged[j].Chunk
		return order[[2]uint{a.DocumentID, uint(a.SequenceIndex)}] < order[[2]uint{b.DocumentID, uint(b.SequenceIndex)}]
	})
	if k > 0 && len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

func (s *RAGService) transition(ctx context.Context, doc *model.Document, to model.DocumentStatus, processingError string) error {
	if err := s.docs.Transition(ctx, doc.ID, doc.Status, to, processingError); err != nil {
		return err
	}
	doc.Status = to
	doc.ProcessingError = processingError
	s.cacheStatus(ctx, doc)
	return nil
}

// abandon marks a submitted document failed and drops its upload. It runs
// detached from the request so a cancelled caller still cleans up.
func (s *RAGService) abandon(doc *model.Document, reason string) {
	ctx := context.Background()
	if err := s.docs.Transition(ctx, doc.ID, doc.Status, model.StatusFailed, reason); err != nil {
		log.Printf("mark document %d failed: %v", doc.ID, err)
	} else {
		doc.Status = model.StatusFailed
		doc.ProcessingError = reason
		s.cacheStatus(ctx, doc)
	}
	s.removeFile(doc.StoragePath)
}

func (s *RAGService) cacheStatus(ctx context.Context, doc *model.Document) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, doc.OwnerID, doc.StatusView()); err != nil {
		log.Printf("set status cache failed: %v", err)
	}
}

func (s *RAGService) removeFile(path string) {
	if err := s.files.Remove(path); err != nil {
		log.Printf("remove upload %s failed: %v", path, err)
	}
}

func storedExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf", ".doc", ".docx", ".txt":
		return ext
	default:
		return ".bin"
	}
}
