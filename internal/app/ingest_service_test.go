package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"compliance-doc-engine/internal/model"
	"compliance-doc-engine/internal/repository"
)

type fakeDocStore struct {
	docs   map[uint]*model.Document
	nextID uint
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{docs: map[uint]*model.Document{}}
}

func (f *fakeDocStore) Create(doc *model.Document) error {
	f.nextID++
	doc.ID = f.nextID
	stored := *doc
	f.docs[doc.ID] = &stored
	return nil
}

func (f *fakeDocStore) GetByID(id uint) (*model.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, nil
	}
	copied := *doc
	return &copied, nil
}

func (f *fakeDocStore) GetByIDAndUserID(id, userID uint) (*model.Document, error) {
	doc, ok := f.docs[id]
	if !ok || doc.UserID != userID {
		return nil, nil
	}
	copied := *doc
	return &copied, nil
}

func (f *fakeDocStore) List(filter repository.ListFilter) ([]model.Document, int64, error) {
	var out []model.Document
	for _, doc := range f.docs {
		if filter.UserID != 0 && doc.UserID != filter.UserID {
			continue
		}
		if filter.OrganizationID != 0 && doc.OrganizationID != filter.OrganizationID {
			continue
		}
		out = append(out, *doc)
	}
	return out, int64(len(out)), nil
}

func (f *fakeDocStore) TransitionStatus(id uint, from, to model.DocumentStatus) (bool, error) {
	doc, ok := f.docs[id]
	if !ok || doc.Status != from {
		return false, nil
	}
	doc.Status = to
	return true, nil
}

func (f *fakeDocStore) MarkCompleted(id uint, textLength, chunkCount, embeddingCount int) (bool, error) {
	doc, ok := f.docs[id]
	if !ok || doc.Status != model.StatusProcessing {
		return false, nil
	}
	doc.Status = model.StatusCompleted
	doc.TextLength = textLength
	doc.ChunkCount = chunkCount
	doc.EmbeddingCount = embeddingCount
	doc.ErrorKind = ""
	doc.ErrorDetail = ""
	return true, nil
}

func (f *fakeDocStore) MarkFailed(id uint, kind, detail string) error {
	doc, ok := f.docs[id]
	if !ok {
		return nil
	}
	doc.Status = model.StatusFailed
	doc.ErrorKind = kind
	doc.ErrorDetail = detail
	return nil
}

func (f *fakeDocStore) ResetForReprocess(id uint, chunkSize, chunkOverlap int, strategy string) (bool, error) {
	doc, ok := f.docs[id]
	if !ok || (doc.Status != model.StatusCompleted && doc.Status != model.StatusFailed) {
		return false, nil
	}
	doc.Status = model.StatusPending
	doc.ChunkSize = chunkSize
	doc.ChunkOverlap = chunkOverlap
	doc.Strategy = strategy
	doc.ChunkCount = 0
	doc.EmbeddingCount = 0
	doc.ErrorKind = ""
	doc.ErrorDetail = ""
	return true, nil
}

func (f *fakeDocStore) Delete(id uint) error {
	delete(f.docs, id)
	return nil
}

type fakeChunkStore struct {
	chunks map[uint][]model.Chunk
}

func newFakeChunkStore() *fakeChunkStore {
	return &fakeChunkStore{chunks: map[uint][]model.Chunk{}}
}

func (f *fakeChunkStore) ReplaceForDocument(documentID uint, chunks []model.Chunk) error {
	copied := make([]model.Chunk, len(chunks))
	copy(copied, chunks)
	f.chunks[documentID] = copied
	return nil
}

func (f *fakeChunkStore) ListByDocumentID(documentID uint) ([]model.Chunk, error) {
	return f.chunks[documentID], nil
}

func (f *fakeChunkStore) DeleteByDocumentID(documentID uint) error {
	delete(f.chunks, documentID)
	return nil
}

type fakeBlobStore struct {
	blobs   map[uint][]byte
	saveErr error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: map[uint][]byte{}}
}

func (f *fakeBlobStore) Save(documentID uint, data []byte) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.blobs[documentID] = data
	return nil
}

func (f *fakeBlobStore) Load(documentID uint) ([]byte, error) {
	data, ok := f.blobs[documentID]
	if !ok {
		return nil, fmt.Errorf("blob %d not found", documentID)
	}
	return data, nil
}

func (f *fakeBlobStore) Delete(documentID uint) error {
	delete(f.blobs, documentID)
	return nil
}

type fakePublisher struct {
	published []uint
	err       error
}

func (f *fakePublisher) PublishIngestJob(_ context.Context, documentID uint) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, documentID)
	return nil
}

type ingestFixture struct {
	svc       *IngestService
	docs      *fakeDocStore
	chunks    *fakeChunkStore
	blobs     *fakeBlobStore
	publisher *fakePublisher
	embedder  *fakeEmbedder
}

func newIngestFixture() *ingestFixture {
	f := &ingestFixture{
		docs:      newFakeDocStore(),
		chunks:    newFakeChunkStore(),
		blobs:     newFakeBlobStore(),
		publisher: &fakePublisher{},
		embedder:  &fakeEmbedder{dim: 3, modelName: "test-model", queryVec: []float32{1, 0, 0}},
	}
	f.svc = NewIngestService(f.docs, f.chunks, f.blobs, f.publisher, nil, f.embedder, IngestConfig{
		EmbedBatchSize:  2,
		EmbedTimeout:    time.Second,
		EmbedMaxRetries: 3,
		RetryBaseDelay:  time.Millisecond,
	})
	return f
}

func validInput() IngestInput {
	return IngestInput{
		UserID:       7,
		Title:        "Retention Policy",
		FileType:     "txt",
		Data:         []byte("Data retention rules. Backups are kept for ninety days. Audit logs are kept for one year."),
		ChunkSize:    40,
		ChunkOverlap: 8,
		Strategy:     "fixed",
		AutoEmbed:    true,
	}
}

func TestIngestCreatesPendingAndPublishes(t *testing.T) {
	f := newIngestFixture()

	doc, err := f.svc.Ingest(context.Background(), validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Status != model.StatusPending {
		t.Fatalf("new document must be pending, got %s", doc.Status)
	}
	if len(f.publisher.published) != 1 || f.publisher.published[0] != doc.ID {
		t.Fatalf("expected one job for document %d, got %v", doc.ID, f.publisher.published)
	}
	if _, ok := f.blobs.blobs[doc.ID]; !ok {
		t.Fatal("raw bytes not stored")
	}
}

func TestIngestValidation(t *testing.T) {
	f := newIngestFixture()

	tests := []struct {
		name    string
		mutate  func(*IngestInput)
		wantErr error
	}{
		{"missing user", func(in *IngestInput) { in.UserID = 0 }, ErrInvalidInput},
		{"empty data", func(in *IngestInput) { in.Data = nil }, ErrInvalidInput},
		{"unsupported format", func(in *IngestInput) { in.FileType = "exe" }, model.ErrUnsupportedFormat},
		{"unknown strategy", func(in *IngestInput) { in.Strategy = "magic" }, model.ErrInvalidChunkConfig},
		{"zero chunk size", func(in *IngestInput) { in.ChunkSize = 0 }, model.ErrInvalidChunkConfig},
		{"overlap >= size", func(in *IngestInput) { in.ChunkOverlap = 40 }, model.ErrInvalidChunkConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			_, err := f.svc.Ingest(context.Background(), in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
	if len(f.publisher.published) != 0 {
		t.Fatalf("rejected inputs must not enqueue jobs, got %v", f.publisher.published)
	}
}

func TestIngestRollsBackOnPublishFailure(t *testing.T) {
	f := newIngestFixture()
	f.publisher.err = errors.New("broker down")

	_, err := f.svc.Ingest(context.Background(), validInput())
	if err == nil {
		t.Fatal("expected error when enqueue fails")
	}
	if len(f.docs.docs) != 0 {
		t.Fatal("document row must be rolled back when enqueue fails")
	}
	if len(f.blobs.blobs) != 0 {
		t.Fatal("blob must be rolled back when enqueue fails")
	}
}

func TestProcessHappyPath(t *testing.T) {
	f := newIngestFixture()
	doc, err := f.svc.Ingest(context.Background(), validInput())
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	if err := f.svc.Process(context.Background(), doc.ID); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	stored := f.docs.docs[doc.ID]
	if stored.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s: %s)", stored.Status, stored.ErrorKind, stored.ErrorDetail)
	}
	chunks := f.chunks.chunks[doc.ID]
	if len(chunks) == 0 {
		t.Fatal("expected chunks to be written")
	}
	if stored.ChunkCount != len(chunks) || stored.EmbeddingCount != len(chunks) {
		t.Fatalf("counts mismatch: chunk_count=%d embedding_count=%d chunks=%d",
			stored.ChunkCount, stored.EmbeddingCount, len(chunks))
	}
	if stored.TextLength == 0 {
		t.Fatal("text length not recorded")
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Errorf("chunk %d has index %d", i, c.ChunkIndex)
		}
		if len(c.EmbeddingVector()) != 3 || c.EmbeddingModel != "test-model" {
			t.Errorf("chunk %d missing embedding provenance", i)
		}
	}
}

func TestProcessGarbagePDFFails(t *testing.T) {
	f := newIngestFixture()
	in := validInput()
	in.FileType = "pdf"
	in.Data = []byte("this is not a pdf at all")
	doc, err := f.svc.Ingest(context.Background(), in)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	if err := f.svc.Process(context.Background(), doc.ID); err != nil {
		t.Fatalf("process must record the failure, not return it: %v", err)
	}

	stored := f.docs.docs[doc.ID]
	if stored.Status != model.StatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if stored.ErrorKind != "ExtractionError" {
		t.Fatalf("expected ExtractionError, got %q", stored.ErrorKind)
	}
	if len(f.chunks.chunks[doc.ID]) != 0 {
		t.Fatal("failed document must have no chunks")
	}
}

func TestProcessSkipsNonPending(t *testing.T) {
	f := newIngestFixture()
	doc, _ := f.svc.Ingest(context.Background(), validInput())
	f.docs.docs[doc.ID].Status = model.StatusProcessing

	if err := f.svc.Process(context.Background(), doc.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.docs.docs[doc.ID].Status != model.StatusProcessing {
		t.Fatal("a claimed document must not be touched by a second pass")
	}
}

func TestProcessDeletedDocument(t *testing.T) {
	f := newIngestFixture()
	if err := f.svc.Process(context.Background(), 424242); err != nil {
		t.Fatalf("processing a deleted document must be a no-op, got %v", err)
	}
}

func TestProcessEmbedRetrySucceeds(t *testing.T) {
	f := newIngestFixture()
	f.embedder.failTimes = 2
	doc, _ := f.svc.Ingest(context.Background(), validInput())

	if err := f.svc.Process(context.Background(), doc.ID); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if f.docs.docs[doc.ID].Status != model.StatusCompleted {
		t.Fatalf("transient backend failures within the retry budget must still complete, got %s",
			f.docs.docs[doc.ID].Status)
	}
	if f.embedder.calls < 3 {
		t.Fatalf("expected at least 3 embed attempts, got %d", f.embedder.calls)
	}
}

func TestProcessEmbedRetriesExhausted(t *testing.T) {
	f := newIngestFixture()
	f.embedder.failTimes = 100
	doc, _ := f.svc.Ingest(context.Background(), validInput())

	if err := f.svc.Process(context.Background(), doc.ID); err != nil {
		t.Fatalf("process must record the failure: %v", err)
	}
	stored := f.docs.docs[doc.ID]
	if stored.Status != model.StatusFailed || stored.ErrorKind != "EmbeddingBackendError" {
		t.Fatalf("expected failed/EmbeddingBackendError, got %s/%s", stored.Status, stored.ErrorKind)
	}
	if len(f.chunks.chunks[doc.ID]) != 0 {
		t.Fatal("no chunks may be written when embedding never succeeded")
	}
}

func TestProcessCancelledContext(t *testing.T) {
	f := newIngestFixture()
	doc, _ := f.svc.Ingest(context.Background(), validInput())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := f.svc.Process(ctx, doc.ID); err != nil {
		t.Fatalf("process must record the cancellation: %v", err)
	}
	stored := f.docs.docs[doc.ID]
	if stored.Status != model.StatusFailed {
		t.Fatalf("cancelled pass must leave the document failed, got %s", stored.Status)
	}
	if stored.ErrorKind != "Cancelled" {
		t.Fatalf("expected Cancelled, got %q", stored.ErrorKind)
	}
	if len(f.chunks.chunks[doc.ID]) != 0 {
		t.Fatal("cancelled pass must not leave partial chunks")
	}
}

func TestProcessAutoEmbedDisabled(t *testing.T) {
	f := newIngestFixture()
	in := validInput()
	in.AutoEmbed = false
	doc, _ := f.svc.Ingest(context.Background(), in)

	if err := f.svc.Process(context.Background(), doc.ID); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	stored := f.docs.docs[doc.ID]
	if stored.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
	if stored.EmbeddingCount != 0 {
		t.Fatalf("auto_embed=false must record zero embeddings, got %d", stored.EmbeddingCount)
	}
	if f.embedder.calls != 0 {
		t.Fatalf("embedder must not be called, got %d calls", f.embedder.calls)
	}
	for i, c := range f.chunks.chunks[doc.ID] {
		if c.Embedding != "" {
			t.Fatalf("chunk %d unexpectedly embedded", i)
		}
	}
}

func TestReprocessReplacesChunks(t *testing.T) {
	f := newIngestFixture()
	doc, _ := f.svc.Ingest(context.Background(), validInput())
	if err := f.svc.Process(context.Background(), doc.ID); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	firstCount := len(f.chunks.chunks[doc.ID])

	updated, err := f.svc.Reprocess(context.Background(), 7, doc.ID, 20, 4, "fixed")
	if err != nil {
		t.Fatalf("reprocess failed: %v", err)
	}
	if updated.Status != model.StatusPending {
		t.Fatalf("reprocess must re-enter pending, got %s", updated.Status)
	}
	if updated.ChunkSize != 20 || updated.ChunkOverlap != 4 {
		t.Fatalf("new configuration not recorded: size=%d overlap=%d", updated.ChunkSize, updated.ChunkOverlap)
	}

	if err := f.svc.Process(context.Background(), doc.ID); err != nil {
		t.Fatalf("second process failed: %v", err)
	}
	secondCount := len(f.chunks.chunks[doc.ID])
	if secondCount <= firstCount {
		t.Fatalf("smaller chunk size must yield more chunks: first=%d second=%d", firstCount, secondCount)
	}
	for i, c := range f.chunks.chunks[doc.ID] {
		if c.EndOffset-c.StartOffset > 20 {
			t.Fatalf("chunk %d belongs to the old configuration: span [%d,%d)", i, c.StartOffset, c.EndOffset)
		}
	}
}

func TestReprocessBusyDocument(t *testing.T) {
	f := newIngestFixture()
	doc, _ := f.svc.Ingest(context.Background(), validInput())
	f.docs.docs[doc.ID].Status = model.StatusProcessing

	_, err := f.svc.Reprocess(context.Background(), 7, doc.ID, 20, 4, "fixed")
	if !errors.Is(err, ErrDocumentBusy) {
		t.Fatalf("expected ErrDocumentBusy, got %v", err)
	}
}

func TestDeleteDocumentRemovesEverything(t *testing.T) {
	f := newIngestFixture()
	doc, _ := f.svc.Ingest(context.Background(), validInput())
	if err := f.svc.Process(context.Background(), doc.ID); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if err := f.svc.DeleteDocument(context.Background(), 7, doc.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok := f.docs.docs[doc.ID]; ok {
		t.Fatal("document row survived deletion")
	}
	if len(f.chunks.chunks[doc.ID]) != 0 {
		t.Fatal("chunks survived deletion")
	}
	if _, ok := f.blobs.blobs[doc.ID]; ok {
		t.Fatal("blob survived deletion")
	}
}

func TestDeleteDocumentForeignUser(t *testing.T) {
	f := newIngestFixture()
	doc, _ := f.svc.Ingest(context.Background(), validInput())

	err := f.svc.DeleteDocument(context.Background(), 8, doc.ID)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("foreign user must see ErrNotFound, got %v", err)
	}
	if _, ok := f.docs.docs[doc.ID]; !ok {
		t.Fatal("document must survive a foreign delete attempt")
	}
}

func TestGetStatusOwnership(t *testing.T) {
	f := newIngestFixture()
	doc, _ := f.svc.Ingest(context.Background(), validInput())

	status, err := f.svc.GetStatus(context.Background(), 7, doc.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Status != string(model.StatusPending) || status.DocumentID != doc.ID {
		t.Fatalf("unexpected status payload: %+v", status)
	}

	if _, err := f.svc.GetStatus(context.Background(), 8, doc.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("foreign user must see ErrNotFound, got %v", err)
	}
}
