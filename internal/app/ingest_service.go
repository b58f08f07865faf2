package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"compliance-doc-engine/internal/ai"
	"compliance-doc-engine/internal/cache"
	"compliance-doc-engine/internal/chunker"
	"compliance-doc-engine/internal/extract"
	"compliance-doc-engine/internal/model"
	"compliance-doc-engine/internal/pkg/backoff"
	"compliance-doc-engine/internal/repository"
)

// DocumentStore is the slice of the document repository the orchestrator writes.
type DocumentStore interface {
	Create(doc *model.Document) error
	GetByID(id uint) (*model.Document, error)
	GetByIDAndUserID(id, userID uint) (*model.Document, error)
	List(f repository.ListFilter) ([]model.Document, int64, error)
	TransitionStatus(id uint, from, to model.DocumentStatus) (bool, error)
	MarkCompleted(id uint, textLength, chunkCount, embeddingCount int) (bool, error)
	MarkFailed(id uint, kind, detail string) error
	ResetForReprocess(id uint, chunkSize, chunkOverlap int, strategy string) (bool, error)
	Delete(id uint) error
}

type ChunkStore interface {
	ReplaceForDocument(documentID uint, chunks []model.Chunk) error
	ListByDocumentID(documentID uint) ([]model.Chunk, error)
	DeleteByDocumentID(documentID uint) error
}

type BlobStore interface {
	Save(documentID uint, data []byte) error
	Load(documentID uint) ([]byte, error)
	Delete(documentID uint) error
}

// JobPublisher hands ingestion jobs to the worker pool.
type JobPublisher interface {
	PublishIngestJob(ctx context.Context, documentID uint) error
}

// StatusCache is the optional hot path for status polls; nil disables caching.
type StatusCache interface {
	Get(ctx context.Context, documentID uint) (*cache.DocumentStatus, bool, error)
	Set(ctx context.Context, status cache.DocumentStatus) error
	Delete(ctx context.Context, documentID uint) error
}

// IngestConfig bounds the embedding stage of a processing pass.
type IngestConfig struct {
	EmbedBatchSize  int
	EmbedTimeout    time.Duration // per batch
	EmbedMaxRetries int
	RetryBaseDelay  time.Duration
}

// IngestService drives Extractor -> Chunker -> Embedder -> Store for one
// document at a time, tracking the pending -> processing -> completed|failed
// state machine.
type IngestService struct {
	docs        DocumentStore
	chunks      ChunkStore
	blobs       BlobStore
	publisher   JobPublisher
	statusCache StatusCache
	embedder    ai.Embedder
	cfg         IngestConfig
}

func NewIngestService(
	docs DocumentStore,
	chunks ChunkStore,
	blobs BlobStore,
	publisher JobPublisher,
	statusCache StatusCache,
	embedder ai.Embedder,
	cfg IngestConfig,
) *IngestService {
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 10
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 30 * time.Second
	}
	if cfg.EmbedMaxRetries <= 0 {
		cfg.EmbedMaxRetries = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	return &IngestService{
		docs:        docs,
		chunks:      chunks,
		blobs:       blobs,
		publisher:   publisher,
		statusCache: statusCache,
		embedder:    embedder,
		cfg:         cfg,
	}
}

type IngestInput struct {
	UserID         uint
	OrganizationID uint
	AssessmentID   uint
	ControlID      uint
	Title          string
	FileType       string
	Data           []byte
	ChunkSize      int
	ChunkOverlap   int
	Strategy       string
	AutoEmbed      bool
	Metadata       map[string]any
}

// Ingest validates the request, persists the document in pending state, stores
// the raw bytes, and enqueues the processing job. The heavy work happens on
// the worker pool; callers poll GetStatus.
func (s *IngestService) Ingest(ctx context.Context, input IngestInput) (*model.Document, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}
	if len(input.Data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidInput)
	}
	fileType := strings.ToLower(strings.TrimSpace(input.FileType))
	if !extract.SupportedTypes[fileType] {
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedFormat, fileType)
	}
	strategy, err := chunker.ParseStrategy(input.Strategy)
	if err != nil {
		return nil, err
	}
	if input.ChunkSize <= 0 || input.ChunkOverlap < 0 || input.ChunkOverlap >= input.ChunkSize {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", model.ErrInvalidChunkConfig, input.ChunkSize, input.ChunkOverlap)
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "Untitled"
	}

	doc := &model.Document{
		UserID:         input.UserID,
		OrganizationID: input.OrganizationID,
		AssessmentID:   input.AssessmentID,
		ControlID:      input.ControlID,
		Title:          title,
		FileType:       fileType,
		FileSize:       int64(len(input.Data)),
		Status:         model.StatusPending,
		ChunkSize:      input.ChunkSize,
		ChunkOverlap:   input.ChunkOverlap,
		Strategy:       string(strategy),
		AutoEmbed:      input.AutoEmbed,
	}
	doc.SetMetadata(input.Metadata)
	if err := s.docs.Create(doc); err != nil {
		return nil, err
	}

	if err := s.blobs.Save(doc.ID, input.Data); err != nil {
		_ = s.docs.Delete(doc.ID)
		return nil, err
	}
	if err := s.publisher.PublishIngestJob(ctx, doc.ID); err != nil {
		_ = s.blobs.Delete(doc.ID)
		_ = s.docs.Delete(doc.ID)
		return nil, fmt.Errorf("enqueue ingest job failed: %w", err)
	}
	return doc, nil
}

// Process runs one full processing attempt for the document. It is the worker
// entry point: the pending -> processing transition claims the document, so
// two workers can never interleave chunk replacements for the same id.
func (s *IngestService) Process(ctx context.Context, documentID uint) error {
	doc, err := s.docs.GetByID(documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		// Deleted between enqueue and pickup; nothing to do.
		return nil
	}

	claimed, err := s.docs.TransitionStatus(documentID, model.StatusPending, model.StatusProcessing)
	if err != nil {
		return err
	}
	if !claimed {
		log.Printf("ingest: document %d not pending, skipping", documentID)
		return nil
	}
	s.invalidateStatus(documentID)

	if err := s.runPipeline(ctx, doc); err != nil {
		kind := errorKind(err)
		if markErr := s.docs.MarkFailed(documentID, kind, err.Error()); markErr != nil {
			log.Printf("ingest: mark document %d failed errored: %v", documentID, markErr)
		}
		s.invalidateStatus(documentID)
		log.Printf("ingest: document %d failed (%s): %v", documentID, kind, err)
		return nil
	}
	s.invalidateStatus(documentID)
	return nil
}

func (s *IngestService) runPipeline(ctx context.Context, doc *model.Document) error {
	data, err := s.blobs.Load(doc.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrExtraction, err)
	}

	text, err := extract.Extract(data, doc.FileType)
	if err != nil {
		return err
	}

	pieces, err := chunker.Chunk(text, chunker.Config{
		Size:     doc.ChunkSize,
		Overlap:  doc.ChunkOverlap,
		Strategy: chunker.Strategy(doc.Strategy),
	})
	if err != nil {
		return err
	}

	chunks := make([]model.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = model.Chunk{
			DocumentID:  doc.ID,
			ChunkIndex:  i,
			StartOffset: p.Start,
			EndOffset:   p.End,
			Content:     p.Text,
		}
	}

	embedded := 0
	if doc.AutoEmbed && len(chunks) > 0 {
		if err := s.embedChunks(ctx, chunks); err != nil {
			return err
		}
		embedded = len(chunks)
	}

	// A cancelled attempt must never leave a half-written completed state:
	// bail out before the replace, the failed status covers the rest.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("processing cancelled: %w", err)
	}

	if err := s.chunks.ReplaceForDocument(doc.ID, chunks); err != nil {
		return err
	}

	completed, err := s.docs.MarkCompleted(doc.ID, len([]rune(text)), len(chunks), embedded)
	if err != nil {
		return err
	}
	if !completed {
		// The document left processing under us (deleted mid-attempt).
		// Remove what this pass wrote so nothing dangles.
		_ = s.chunks.DeleteByDocumentID(doc.ID)
		_ = s.blobs.Delete(doc.ID)
		return fmt.Errorf("document %d vanished during processing", doc.ID)
	}
	return nil
}

// embedChunks fills chunk embeddings batch by batch. Each batch carries its
// own timeout and is retried with bounded exponential backoff on backend
// failure; no lock is held across the network call.
func (s *IngestService) embedChunks(ctx context.Context, chunks []model.Chunk) error {
	for start := 0; start < len(chunks); start += s.cfg.EmbedBatchSize {
		end := start + s.cfg.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = chunks[i].Content
		}

		vectors, err := s.embedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("%w: got %d vectors for %d chunks", model.ErrEmbeddingBackend, len(vectors), len(texts))
		}
		for i := range vectors {
			chunks[start+i].SetEmbedding(vectors[i], s.embedder.Model())
		}
	}
	return nil
}

func (s *IngestService) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.EmbedMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("processing cancelled: %w", ctx.Err())
			case <-time.After(backoff.Delay(s.cfg.RetryBaseDelay, attempt)):
			}
		}

		batchCtx, cancel := context.WithTimeout(ctx, s.cfg.EmbedTimeout)
		vectors, err := s.embedder.Embed(batchCtx, texts)
		cancel()
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !errors.Is(err, model.ErrEmbeddingBackend) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("processing cancelled: %w", ctx.Err())
		}
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", s.cfg.EmbedMaxRetries, lastErr)
}

// GetStatus serves status polls, preferring the short-TTL cache.
func (s *IngestService) GetStatus(ctx context.Context, userID, documentID uint) (*cache.DocumentStatus, error) {
	if userID == 0 || documentID == 0 {
		return nil, ErrInvalidInput
	}

	if s.statusCache != nil {
		cached, hit, err := s.statusCache.Get(ctx, documentID)
		if err != nil {
			log.Printf("status cache read failed: %v", err)
		} else if hit {
			if cached.UserID != userID {
				return nil, fmt.Errorf("%w: document %d", model.ErrNotFound, documentID)
			}
			return cached, nil
		}
	}

	doc, err := s.docs.GetByIDAndUserID(documentID, userID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document %d", model.ErrNotFound, documentID)
	}

	status := &cache.DocumentStatus{
		DocumentID:     doc.ID,
		UserID:         doc.UserID,
		Status:         string(doc.Status),
		ChunkCount:     doc.ChunkCount,
		EmbeddingCount: doc.EmbeddingCount,
		ErrorKind:      doc.ErrorKind,
		ErrorDetail:    doc.ErrorDetail,
	}
	if s.statusCache != nil {
		if err := s.statusCache.Set(ctx, *status); err != nil {
			log.Printf("status cache write failed: %v", err)
		}
	}
	return status, nil
}

func (s *IngestService) GetDocument(userID, documentID uint) (*model.Document, error) {
	if userID == 0 || documentID == 0 {
		return nil, ErrInvalidInput
	}
	doc, err := s.docs.GetByIDAndUserID(documentID, userID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document %d", model.ErrNotFound, documentID)
	}
	return doc, nil
}

func (s *IngestService) ListDocuments(f repository.ListFilter) ([]model.Document, int64, error) {
	if f.UserID == 0 {
		return nil, 0, ErrInvalidInput
	}
	return s.docs.List(f)
}

// Reprocess re-enters the state machine with a new chunk configuration. The
// eventual chunk replace removes every chunk of the previous configuration.
func (s *IngestService) Reprocess(ctx context.Context, userID, documentID uint, chunkSize, chunkOverlap int, strategy string) (*model.Document, error) {
	if userID == 0 || documentID == 0 {
		return nil, ErrInvalidInput
	}
	parsed, err := chunker.ParseStrategy(strategy)
	if err != nil {
		return nil, err
	}
	if chunkSize <= 0 || chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", model.ErrInvalidChunkConfig, chunkSize, chunkOverlap)
	}

	doc, err := s.docs.GetByIDAndUserID(documentID, userID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document %d", model.ErrNotFound, documentID)
	}

	reset, err := s.docs.ResetForReprocess(documentID, chunkSize, chunkOverlap, string(parsed))
	if err != nil {
		return nil, err
	}
	if !reset {
		return nil, fmt.Errorf("%w: document %d", ErrDocumentBusy, documentID)
	}
	s.invalidateStatus(documentID)

	if err := s.publisher.PublishIngestJob(ctx, documentID); err != nil {
		_ = s.docs.MarkFailed(documentID, "Internal", "enqueue reprocess job failed: "+err.Error())
		s.invalidateStatus(documentID)
		return nil, fmt.Errorf("enqueue reprocess job failed: %w", err)
	}

	doc, err = s.docs.GetByIDAndUserID(documentID, userID)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// DeleteDocument removes the document, its chunks and vectors, its raw blob,
// and any cached status. Parent-owns-children: nothing survives the parent.
func (s *IngestService) DeleteDocument(ctx context.Context, userID, documentID uint) error {
	if userID == 0 || documentID == 0 {
		return ErrInvalidInput
	}
	doc, err := s.docs.GetByIDAndUserID(documentID, userID)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("%w: document %d", model.ErrNotFound, documentID)
	}

	if err := s.chunks.DeleteByDocumentID(documentID); err != nil {
		return err
	}
	if err := s.docs.Delete(documentID); err != nil {
		return err
	}
	if err := s.blobs.Delete(documentID); err != nil {
		log.Printf("delete blob for document %d failed: %v", documentID, err)
	}
	s.invalidateStatus(documentID)
	return nil
}

func (s *IngestService) invalidateStatus(documentID uint) {
	if s.statusCache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.statusCache.Delete(ctx, documentID); err != nil {
		log.Printf("status cache invalidate failed: %v", err)
	}
}

// errorKind maps a pipeline error to the recorded taxonomy name.
func errorKind(err error) string {
	switch {
	case errors.Is(err, model.ErrUnsupportedFormat):
		return "UnsupportedFormat"
	case errors.Is(err, model.ErrExtraction):
		return "ExtractionError"
	case errors.Is(err, model.ErrInvalidChunkConfig):
		return "InvalidChunkConfig"
	case errors.Is(err, model.ErrEmbeddingBackend):
		return "EmbeddingBackendError"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Cancelled"
	}
	return "Internal"
}
