package app

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"compliance-doc-engine/internal/ai"
	"compliance-doc-engine/internal/model"
	"compliance-doc-engine/internal/repository"
)

// CandidateStore is the slice of the document store the retriever reads.
type CandidateStore interface {
	Candidates(f repository.CandidateFilter) ([]model.Chunk, map[uint]model.Document, error)
}

// QueryConfig carries the product defaults; they are configuration, not
// constants baked into the ranking.
type QueryConfig struct {
	DefaultTopK          int
	MaxTopK              int
	DefaultMinSimilarity float32
}

type QueryService struct {
	docs     DocumentReader
	chunks   CandidateStore
	embedder ai.Embedder
	cfg      QueryConfig
}

// DocumentReader resolves document ownership for allowlist validation.
type DocumentReader interface {
	GetByIDAndUserID(id, userID uint) (*model.Document, error)
}

func NewQueryService(docs DocumentReader, chunks CandidateStore, embedder ai.Embedder, cfg QueryConfig) *QueryService {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 5
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = 20
	}
	return &QueryService{docs: docs, chunks: chunks, embedder: embedder, cfg: cfg}
}

type QueryInput struct {
	UserID         uint
	OrganizationID uint
	AssessmentID   uint
	ControlID      uint
	DocumentIDs    []uint
	Text           string
	TopK           int // 0 = configured default
	MinSimilarity  *float32
}

type QueryChunk struct {
	ChunkID         uint    `json:"chunk_id"`
	DocumentID      uint    `json:"document_id"`
	DocumentTitle   string  `json:"document_title"`
	ChunkText       string  `json:"chunk_text"`
	ChunkIndex      int     `json:"chunk_index"`
	SimilarityScore float32 `json:"similarity_score"`
}

type QueryResult struct {
	Chunks                  []QueryChunk `json:"chunks"`
	TotalCandidatesSearched int          `json:"total_candidates_searched"`
	ElapsedSeconds          float64      `json:"elapsed_seconds"`
}

// Query embeds the text, ranks scope-filtered candidate chunks by cosine
// similarity, and returns at most top_k results above the threshold. An empty
// result is a valid outcome, not an error.
func (s *QueryService) Query(ctx context.Context, input QueryInput) (*QueryResult, error) {
	start := time.Now()

	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: query text is empty", ErrInvalidInput)
	}

	topK := input.TopK
	if topK == 0 {
		topK = s.cfg.DefaultTopK
	}
	if topK < 1 || topK > s.cfg.MaxTopK {
		return nil, fmt.Errorf("%w: top_k must be between 1 and %d, got %d",
			model.ErrInvalidQueryConfig, s.cfg.MaxTopK, topK)
	}

	minSim := s.cfg.DefaultMinSimilarity
	if input.MinSimilarity != nil {
		minSim = *input.MinSimilarity
	}
	if minSim < -1 || minSim > 1 {
		return nil, fmt.Errorf("%w: min_similarity must be within [-1, 1], got %v",
			model.ErrInvalidQueryConfig, minSim)
	}

	// An explicit allowlist must not widen the caller's scope: every listed
	// document has to belong to the calling user.
	for _, id := range input.DocumentIDs {
		doc, err := s.docs.GetByIDAndUserID(id, input.UserID)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, fmt.Errorf("%w: document %d", model.ErrNotFound, id)
		}
	}

	queryVec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	filter := repository.CandidateFilter{
		UserID:         input.UserID,
		OrganizationID: input.OrganizationID,
		AssessmentID:   input.AssessmentID,
		ControlID:      input.ControlID,
		DocumentIDs:    input.DocumentIDs,
	}
	candidates, docsByID, err := s.chunks.Candidates(filter)
	if err != nil {
		return nil, err
	}

	type scored struct {
		chunk model.Chunk
		doc   model.Document
		score float32
	}
	passing := make([]scored, 0, len(candidates))
	for _, chunk := range candidates {
		doc, ok := docsByID[chunk.DocumentID]
		if !ok || violatesScope(doc, filter) {
			return nil, fmt.Errorf("%w: chunk %d of document %d escaped filter",
				model.ErrScopeViolation, chunk.ID, chunk.DocumentID)
		}

		vec := chunk.EmbeddingVector()
		if len(vec) != len(queryVec) || chunk.EmbeddingModel != s.embedder.Model() {
			// Vector from another backend/dimension: ranking it would be
			// silent corruption, so it never competes.
			continue
		}

		sim := cosineSimilarity(queryVec, vec)
		if sim < minSim {
			continue
		}
		passing = append(passing, scored{chunk: chunk, doc: doc, score: sim})
	}

	sort.Slice(passing, func(i, j int) bool {
		if passing[i].score != passing[j].score {
			return passing[i].score > passing[j].score
		}
		if passing[i].chunk.DocumentID != passing[j].chunk.DocumentID {
			return passing[i].chunk.DocumentID < passing[j].chunk.DocumentID
		}
		return passing[i].chunk.ChunkIndex < passing[j].chunk.ChunkIndex
	})
	if len(passing) > topK {
		passing = passing[:topK]
	}

	result := &QueryResult{
		Chunks:                  make([]QueryChunk, len(passing)),
		TotalCandidatesSearched: len(candidates),
		ElapsedSeconds:          time.Since(start).Seconds(),
	}
	for i, p := range passing {
		result.Chunks[i] = QueryChunk{
			ChunkID:         p.chunk.ID,
			DocumentID:      p.chunk.DocumentID,
			DocumentTitle:   p.doc.Title,
			ChunkText:       p.chunk.Content,
			ChunkIndex:      p.chunk.ChunkIndex,
			SimilarityScore: p.score,
		}
	}
	return result, nil
}

func violatesScope(doc model.Document, f repository.CandidateFilter) bool {
	if f.UserID != 0 && doc.UserID != f.UserID {
		return true
	}
	if f.OrganizationID != 0 && doc.OrganizationID != f.OrganizationID {
		return true
	}
	if f.AssessmentID != 0 && doc.AssessmentID != f.AssessmentID {
		return true
	}
	if f.ControlID != 0 && doc.ControlID != f.ControlID {
		return true
	}
	return false
}

// cosineSimilarity returns dot(a,b) / (||a|| * ||b||), or 0 when either vector
// has zero magnitude.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
