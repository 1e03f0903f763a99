package app

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dermassist/internal/model"
	"dermassist/internal/rag"
	"dermassist/internal/repository/memory"
	"dermassist/internal/storage"
)

const (
	psoriasisNotes = "Psoriasis is a chronic inflammatory skin disease. Plaque psoriasis often responds well to IL-17 inhibitors. Topical corticosteroids remain the first line treatment for mild disease."
	acneNotes      = "Acne vulgaris affects the pilosebaceous unit. Benzoyl peroxide cleansers reduce bacterial load on the skin. Oral isotretinoin is reserved for severe nodular acne."
)

type captureQueue struct {
	mu   sync.Mutex
	jobs []model.IngestJob
	err  error
}

func (q *captureQueue) Enqueue(_ context.Context, job model.IngestJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *captureQueue) Jobs() []model.IngestJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]model.IngestJob(nil), q.jobs...)
}

type mapCache struct {
	mu    sync.Mutex
	views map[[2]uint]model.DocumentStatusView
}

func newMapCache() *mapCache {
	return &mapCache{views: make(map[[2]uint]model.DocumentStatusView)}
}

func (c *mapCache) Get(_ context.Context, ownerID, documentID uint) (*model.DocumentStatusView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[[2]uint{ownerID, documentID}]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (c *mapCache) Set(_ context.Context, ownerID uint, view model.DocumentStatusView) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[[2]uint{ownerID, view.DocumentID}] = view
	return nil
}

func (c *mapCache) Delete(_ context.Context, ownerID, documentID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.views, [2]uint{ownerID, documentID})
	return nil
}

type fixture struct {
	svc   *RAGService
	store *memory.Store
	files *storage.LocalFileStore
	queue *captureQueue
	cache *mapCache
}

func newFixture(t *testing.T, cfg RAGConfig) *fixture {
	t.Helper()
	store := memory.New()
	files, err := storage.NewLocalFileStore(t.TempDir())
	require.NoError(t, err)
	embedder, err := rag.NewResilientEmbedder(nil, rag.NewHashEmbedder(rag.DefaultDimension), nil, nil)
	require.NoError(t, err)

	f := &fixture{store: store, files: files, queue: &captureQueue{}, cache: newMapCache()}
	f.svc, err = NewRAGService(RAGDeps{
		Documents: store,
		Chunks:    store,
		Files:     files,
		Queue:     f.queue,
		Cache:     f.cache,
		Embedder:  embedder,
		Generator: rag.NewGenerator(nil),
	}, cfg)
	require.NoError(t, err)
	return f
}

func (f *fixture) submitText(t *testing.T, owner uint, name, text string) *SubmitResult {
	t.Helper()
	res, err := f.svc.Submit(context.Background(), SubmitInput{
		OwnerID:      owner,
		Filename:     name,
		DeclaredType: "text/plain; charset=utf-8",
		Size:         int64(len(text)),
		Content:      strings.NewReader(text),
		Policy:       rag.DocumentPolicy(0),
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) ingest(t *testing.T, owner uint, name, text string) uint {
	t.Helper()
	res := f.submitText(t, owner, name, text)
	require.NoError(t, f.svc.ProcessDocument(context.Background(), model.IngestJob{DocumentID: res.DocumentID, OwnerID: owner}))
	return res.DocumentID
}

func dirEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func TestSubmitQueuesDocument(t *testing.T) {
	f := newFixture(t, RAGConfig{})
	res := f.submitText(t, 1, "psoriasis.txt", psoriasisNotes)

	assert.Equal(t, model.StatusProcessing, res.Status)
	assert.Equal(t, "psoriasis.txt", res.Filename)
	assert.Equal(t, []model.IngestJob{{DocumentID: res.DocumentID, OwnerID: 1}}, f.queue.Jobs())
	assert.Equal(t, 1, dirEntries(t, f.files.Dir()))

	view, err := f.svc.Status(context.Background(), 1, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, view.Status)
}

func TestSubmitValidationStoresNothing(t *testing.T) {
	f := newFixture(t, RAGConfig{})
	_, err := f.svc.Submit(context.Background(), SubmitInput{
		OwnerID:      1,
		Filename:     "notes.txt",
		DeclaredType: "text/plain",
		Size:         5,
		Content:      strings.NewReader("hello"),
		Policy:       rag.PDFOnlyPolicy(0),
	})
	require.ErrorIs(t, err, rag.ErrValidation)

	_, err = f.svc.Submit(context.Background(), SubmitInput{OwnerID: 1, Policy: rag.DocumentPolicy(0)})
	require.ErrorIs(t, err, rag.ErrValidation)

	docs, err := f.svc.ListDocuments(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Empty(t, f.queue.Jobs())
	assert.Equal(t, 0, dirEntries(t, f.files.Dir()))
}

func TestProcessDocumentCompletes(t *testing.T) {
	f := newFixture(t, RAGConfig{})
	id := f.ingest(t, 1, "psoriasis.txt", psoriasisNotes)

	view, err := f.svc.Status(context.Background(), 1, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, view.Status)
	assert.Equal(t, 1, view.ChunkCount)
	assert.Empty(t, view.Error)
	assert.Equal(t, 0, dirEntries(t, f.files.Dir()))

	cached, err := f.cache.Get(context.Background(), 1, id)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, model.StatusCompleted, cached.Status)

	chunks, err := f.store.ListCandidates(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, psoriasisNotes, chunks[0].Text)
	assert.Equal(t, rag.HashEmbedderName, chunks[0].EmbedderModel)
	assert.Equal(t, "psoriasis.txt", chunks[0].SourceFilename)
	assert.Len(t, chunks[0].Embedding, rag.DefaultDimension)
}

func TestProcessDocumentKeepsSequenceWithParallelism(t *testing.T) {
	f := newFixture(t, RAGConfig{ChunkSize: 40, ChunkOverlap: 10, EmbedParallelism: 4})
	text := strings.Repeat(psoriasisNotes+" ", 4)
	id := f.ingest(t, 1, "long.txt", text)

	want, err := rag.ChunkText(strings.TrimSpace(text), 40, 10)
	require.NoError(t, err)

	chunks, err := f.store.ListCandidates(context.Background(), 1, []uint{id})
	require.NoError(t, err)
	require.Len(t, chunks, len(want))
	for i, c := range chunks {
		assert.Equal(t, i, c.SequenceIndex)
		assert.Equal(t, want[i], c.Text)
	}
}

func TestProcessDocumentRecordsFailure(t *testing.T) {
	f := newFixture(t, RAGConfig{})
	res, err := f.svc.Submit(context.Background(), SubmitInput{
		OwnerID:      1,
		Filename:     "old.doc",
		DeclaredType: rag.MIMEDOC,
		Size:         8,
		Content:      strings.NewReader("\xd0\xcf\x11\xe0\xa1\xb1\x1a\xe1"),
		Policy:       rag.DocumentPolicy(0),
	})
	require.NoError(t, err)

	err = f.svc.ProcessDocument(context.Background(), model.IngestJob{DocumentID: res.DocumentID, OwnerID: 1})
	require.ErrorIs(t, err, rag.ErrExtraction)

	view, err := f.svc.Status(context.Background(), 1, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, view.Status)
	assert.Contains(t, view.Error, "legacy binary word documents are not supported")
	assert.Equal(t, 0, dirEntries(t, f.files.Dir()))

	chunks, err := f.store.ListCandidates(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestProcessDocumentSkipsUnknownAndFinished(t *testing.T) {
	f := newFixture(t, RAGConfig{})
	assert.NoError(t, f.svc.ProcessDocument(context.Background(), model.IngestJob{DocumentID: 99, OwnerID: 1}))

	id := f.ingest(t, 1, "psoriasis.txt", psoriasisNotes)
	assert.NoError(t, f.svc.ProcessDocument(context.Background(), model.IngestJob{DocumentID: id, OwnerID: 1}))
}

func TestSubmitMarksFailedWhenQueueIsDown(t *testing.T) {
	f := newFixture(t, RAGConfig{})
	f.queue.err = errors.New("connection refused")

	_, err := f.svc.Submit(context.Background(), SubmitInput{
		OwnerID:      1,
		Filename:     "notes.txt",
		DeclaredType: rag.MIMEText,
		Size:         int64(len(acneNotes)),
		Content:      strings.NewReader(acneNotes),
		Policy:       rag.DocumentPolicy(0),
	})
	require.ErrorIs(t, err, ErrQueueUnavailable)

	docs, err := f.svc.ListDocuments(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, model.StatusFailed, docs[0].Status)
	assert.Equal(t, 0, dirEntries(t, f.files.Dir()))
}

func TestAskWithoutDocuments(t *testing.T) {
	f := newFixture(t, RAGConfig{})
	res, err := f.svc.Ask(context.Background(), AskInput{OwnerID: 1, Query: "What treats psoriasis?"})
	require.NoError(t, err)
	assert.Equal(t, rag.NoRelevantInfoAnswer, res.Answer)
	assert.Empty(t, res.Sources)
	assert.Zero(t, res.RelevantChunkCount)
}

func TestAskRejectsEmptyQuery(t *testing.T) {
	f := newFixture(t, RAGConfig{})
	_, err := f.svc.Ask(context.Background(), AskInput{OwnerID: 1, Query: "   "})
	assert.ErrorIs(t, err, rag.ErrValidation)

	_, err = f.svc.Ask(context.Background(), AskInput{Query: "psoriasis"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAskUsesOwnerDocuments(t *testing.T) {
	f := newFixture(t, RAGConfig{})
	psoriasis := f.ingest(t, 1, "psoriasis.txt", psoriasisNotes)
	f.ingest(t, 1, "acne.txt", acneNotes)
	f.ingest(t, 2, "other.txt", acneNotes)

	res, err := f.svc.Ask(context.Background(), AskInput{OwnerID: 1, Query: "Which inhibitors help plaque psoriasis?"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RelevantChunkCount)
	require.Len(t, res.Sources, 2)
	for _, src := range res.Sources {
		assert.NotEqual(t, "other.txt", src.Filename)
	}
	assert.True(t, res.Fallback)
	assert.Equal(t, rag.ExtractiveModelName, res.Model)
	assert.Contains(t, res.Answer, "IL-17 inhibitors")

	scoped, err := f.svc.Ask(context.Background(), AskInput{OwnerID: 1, Query: "psoriasis", DocumentIDs: []uint{psoriasis}})
	require.NoError(t, err)
	require.Len(t, scoped.Sources, 1)
	assert.Equal(t, psoriasis, scoped.Sources[0].DocumentID)
	assert.Equal(t, 0, scoped.Sources[0].ChunkIndex)
}

func TestRetrieveLimit(t *testing.T) {
	f := newFixture(t, RAGConfig{})
	f.ingest(t, 1, "psoriasis.txt", psoriasisNotes)
	f.ingest(t, 1, "acne.txt", acneNotes)

	got, err := f.svc.Retrieve(context.Background(), RetrieveInput{OwnerID: 1, Query: "skin", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].Text)

	all, err := f.svc.Retrieve(context.Background(), RetrieveInput{OwnerID: 1, Query: "skin"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.GreaterOrEqual(t, all[0].Score, all[1].Score)
}

func TestDeleteDocument(t *testing.T) {
	f := newFixture(t, RAGConfig{})
	id := f.ingest(t, 1, "psoriasis.txt", psoriasisNotes)

	assert.ErrorIs(t, f.svc.DeleteDocument(context.Background(), 2, id), ErrDocumentNotFound)
	require.NoError(t, f.svc.DeleteDocument(context.Background(), 1, id))
	assert.ErrorIs(t, f.svc.DeleteDocument(context.Background(), 1, id), ErrDocumentNotFound)

	_, err := f.svc.Status(context.Background(), 1, id)
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	chunks, err := f.store.ListCandidates(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestStatusIsOwnerScoped(t *testing.T) {
	f := newFixture(t, RAGConfig{})
	id := f.ingest(t, 1, "psoriasis.txt", psoriasisNotes)

	_, err := f.svc.Status(context.Background(), 2, id)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestListFilesFor(t *testing.T) {
	f := newFixture(t, RAGConfig{})
	f.ingest(t, 1, "psoriasis.txt", psoriasisNotes)

	docs, err := f.svc.ListFilesFor(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	_, err = f.svc.ListFilesFor(context.Background(), 1, 2)
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestNewRAGServiceRejectsBadChunking(t *testing.T) {
	store := memory.New()
	embedder, err := rag.NewResilientEmbedder(nil, rag.NewHashEmbedder(0), nil, nil)
	require.NoError(t, err)
	_, err = NewRAGService(RAGDeps{
		Documents: store,
		Chunks:    store,
		Files:     &storage.LocalFileStore{},
		Embedder:  embedder,
		Generator: rag.NewGenerator(nil),
	}, RAGConfig{ChunkSize: 100, ChunkOverlap: 100})
	assert.ErrorIs(t, err, rag.ErrInvalidConfig)
}

// hookedStore lets a test act between a read and the service's next step.
type hookedStore struct {
	*memory.Store
	afterGet      func()
	transitionErr error
}

func (h *hookedStore) GetByIDAndOwner(ctx context.Context, id, ownerID uint) (*model.Document, error) {
	doc, err := h.Store.GetByIDAndOwner(ctx, id, ownerID)
	if hook := h.afterGet; hook != nil {
		h.afterGet = nil
		hook()
	}
	return doc, err
}

func (h *hookedStore) Transition(ctx context.Context, id uint, from, to model.DocumentStatus, processingError string) error {
	if h.transitionErr != nil && to == model.StatusProcessing {
		return h.transitionErr
	}
	return h.Store.Transition(ctx, id, from, to, processingError)
}

func newHookedFixture(t *testing.T) (*fixture, *hookedStore) {
	t.Helper()
	f := newFixture(t, RAGConfig{})
	hooked := &hookedStore{Store: f.store}
	f.svc.docs = hooked
	return f, hooked
}

func TestStatusReadDoesNotCacheOutdatedView(t *testing.T) {
	f, hooked := newHookedFixture(t)
	ctx := context.Background()
	res := f.submitText(t, 1, "psoriasis.txt", psoriasisNotes)
	require.NoError(t, f.cache.Delete(ctx, 1, res.DocumentID))

	hooked.afterGet = func() {
		require.NoError(t, f.svc.ProcessDocument(ctx, model.IngestJob{DocumentID: res.DocumentID, OwnerID: 1}))
	}
	view, err := f.svc.Status(ctx, 1, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, view.Status)

	cached, err := f.cache.Get(ctx, 1, res.DocumentID)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, model.StatusCompleted, cached.Status)

	view, err = f.svc.Status(ctx, 1, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, view.Status)
}

func TestStatusReadCachesTerminalView(t *testing.T) {
	f := newFixture(t, RAGConfig{})
	ctx := context.Background()
	id := f.ingest(t, 1, "psoriasis.txt", psoriasisNotes)
	require.NoError(t, f.cache.Delete(ctx, 1, id))

	_, err := f.svc.Status(ctx, 1, id)
	require.NoError(t, err)
	cached, err := f.cache.Get(ctx, 1, id)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, model.StatusCompleted, cached.Status)
}

func TestSubmitCleansUpWhenStartFails(t *testing.T) {
	f, hooked := newHookedFixture(t)
	hooked.transitionErr = errors.New("db gone")

	_, err := f.svc.Submit(context.Background(), SubmitInput{
		OwnerID:      1,
		Filename:     "psoriasis.txt",
		DeclaredType: "text/plain",
		Size:         int64(len(psoriasisNotes)),
		Content:      strings.NewReader(psoriasisNotes),
		Policy:       rag.DocumentPolicy(0),
	})
	require.Error(t, err)

	assert.Equal(t, 0, dirEntries(t, f.files.Dir()))
	assert.Empty(t, f.queue.Jobs())
	docs, err := f.svc.ListDocuments(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, model.StatusFailed, docs[0].Status)
	assert.Equal(t, "db gone", docs[0].ProcessingError)
}

// twoSpaceEmbedder embeds queries with "remote" and can also embed with the
// local hash embedder on request.
type twoSpaceEmbedder struct {
	remote  []float32
	hash    *rag.HashEmbedder
	asCalls []string
}

func (e *twoSpaceEmbedder) EmbedWithModel(context.Context, string) ([]float32, string, error) {
	return e.remote, "remote", nil
}

func (e *twoSpaceEmbedder) EmbedAs(_ context.Context, name, text string) ([]float32, error) {
	e.asCalls = append(e.asCalls, name)
	if name != rag.HashEmbedderName {
		return nil, rag.ErrEmbeddingService
	}
	return e.hash.Vector(text), nil
}

type remoteOnlyEmbedder struct{ inner *twoSpaceEmbedder }

func (e remoteOnlyEmbedder) EmbedWithModel(ctx context.Context, text string) ([]float32, string, error) {
	return e.inner.EmbedWithModel(ctx, text)
}

func seedCompleted(t *testing.T, store *memory.Store, owner uint, name string, chunks []rag.Chunk) uint {
	t.Helper()
	ctx := context.Background()
	doc := &model.Document{OwnerID: owner, OriginalFilename: name, Status: model.StatusProcessing}
	require.NoError(t, store.Create(ctx, doc))
	for i := range chunks {
		chunks[i].OwnerID = owner
		chunks[i].DocumentID = doc.ID
		chunks[i].SequenceIndex = i
		chunks[i].SourceFilename = name
	}
	require.NoError(t, store.Complete(ctx, doc.ID, "", 0, chunks))
	return doc.ID
}

func TestRetrieveScoresEachEmbedderInItsOwnSpace(t *testing.T) {
	const query = "itchy scalp"
	hash := rag.NewHashEmbedder(4)
	embedder := &twoSpaceEmbedder{remote: []float32{1, 0, 0, 0}, hash: hash}

	build := func(t *testing.T, e QueryEmbedder) (*RAGService, uint, uint) {
		store := memory.New()
		remoteDoc := seedCompleted(t, store, 1, "remote.txt", []rag.Chunk{
			{Text: "match", Embedding: []float32{1, 0, 0, 0}, EmbedderModel: "remote"},
			{Text: "orthogonal", Embedding: []float32{0, 1, 0, 0}, EmbedderModel: "remote"},
		})
		hashDoc := seedCompleted(t, store, 1, "hash.txt", []rag.Chunk{
			{Text: query, Embedding: hash.Vector(query), EmbedderModel: rag.HashEmbedderName},
		})
		files, err := storage.NewLocalFileStore(t.TempDir())
		require.NoError(t, err)
		svc, err := NewRAGService(RAGDeps{
			Documents: store,
			Chunks:    store,
			Files:     files,
			Queue:     &captureQueue{},
			Embedder:  e,
			Generator: rag.NewGenerator(nil),
		}, RAGConfig{})
		require.NoError(t, err)
		return svc, remoteDoc, hashDoc
	}

	t.Run("query re-embedded for fallback chunks", func(t *testing.T) {
		svc, remoteDoc, hashDoc := build(t, embedder)
		got, err := svc.Retrieve(context.Background(), RetrieveInput{OwnerID: 1, Query: query, Limit: 3})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.ElementsMatch(t, []uint{remoteDoc, hashDoc}, []uint{got[0].DocumentID, got[1].DocumentID})
		assert.InDelta(t, 1.0, got[0].Score, 1e-6)
		assert.InDelta(t, 1.0, got[1].Score, 1e-6)
		assert.Equal(t, "orthogonal", got[2].Text)
		assert.InDelta(t, 0.0, got[2].Score, 1e-6)
		assert.Equal(t, []string{rag.HashEmbedderName}, embedder.asCalls)
	})

	t.Run("chunks from another embedder are skipped without EmbedAs", func(t *testing.T) {
		svc, remoteDoc, _ := build(t, remoteOnlyEmbedder{inner: embedder})
		got, err := svc.Retrieve(context.Background(), RetrieveInput{OwnerID: 1, Query: query, Limit: 5})
		require.NoError(t, err)
		require.Len(t, got, 2)
		for _, c := range got {
			assert.Equal(t, remoteDoc, c.DocumentID)
		}
	})
}
