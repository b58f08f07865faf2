package model

import (
	"encoding/json"
	"time"
)

// Chunk is one retrieval unit of a document's normalized text. The embedding is
// stored on the chunk row as a JSON array of float32 for portability, together
// with the backend model and dimension that produced it, so the retriever can
// distinguish vectors from a different backend instead of ranking them.
type Chunk struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	DocumentID     uint      `gorm:"not null;index" json:"document_id"`
	ChunkIndex     int       `gorm:"not null" json:"chunk_index"`
	StartOffset    int       `gorm:"not null" json:"start_offset"`
	EndOffset      int       `gorm:"not null" json:"end_offset"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	Metadata       string    `gorm:"type:text" json:"-"` // JSON object
	Embedding      string    `gorm:"type:text" json:"-"` // JSON array of float32
	EmbeddingDim   int       `json:"embedding_dim"`
	EmbeddingModel string    `gorm:"size:128" json:"embedding_model,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// EmbeddingVector returns the parsed embedding slice; nil if absent or on parse error.
func (c *Chunk) EmbeddingVector() []float32 {
	if c.Embedding == "" {
		return nil
	}
	var v []float32
	_ = json.Unmarshal([]byte(c.Embedding), &v)
	return v
}

// SetEmbedding stores vec as JSON and records its dimension and producing model.
func (c *Chunk) SetEmbedding(vec []float32, modelName string) {
	if len(vec) == 0 {
		c.Embedding = ""
		c.EmbeddingDim = 0
		c.EmbeddingModel = ""
		return
	}
	b, _ := json.Marshal(vec)
	c.Embedding = string(b)
	c.EmbeddingDim = len(vec)
	c.EmbeddingModel = modelName
}
