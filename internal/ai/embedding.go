package ai

import "context"

// Embedder maps texts to fixed-dimension vectors. A query and a chunk are
// embedded by the same backend with the same dimension so cosine similarity
// between them is meaningful. Implementations are stateless per call and safe
// for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Model() string
}
