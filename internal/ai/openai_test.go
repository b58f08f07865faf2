package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"compliance-doc-engine/internal/model"
)

func newEmbeddingsServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *OpenAIEmbedder) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	embedder := NewOpenAIEmbedder(OpenAIConfig{
		BaseURL:   server.URL,
		APIKey:    "test-key",
		Model:     "text-embedding-3-small",
		Dimension: 3,
	})
	return server, embedder
}

func TestOpenAIEmbed(t *testing.T) {
	_, embedder := newEmbeddingsServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header %q", got)
		}

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "text-embedding-3-small" {
			t.Errorf("unexpected model %q", req.Model)
		}

		resp := map[string]any{"data": []map[string]any{}}
		data := resp["data"].([]map[string]any)
		for i := range req.Input {
			data = append(data, map[string]any{"embedding": []float32{float32(i), 1, 0}})
		}
		resp["data"] = data
		_ = json.NewEncoder(w).Encode(resp)
	})

	vecs, err := embedder.Embed(context.Background(), []string{"first chunk", "second chunk"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	if vecs[1][0] != 1 {
		t.Fatalf("vectors out of order: %v", vecs)
	}
}

func TestOpenAIEmbedEmptyInput(t *testing.T) {
	_, embedder := newEmbeddingsServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty input")
	})
	vecs, err := embedder.Embed(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Fatalf("expected nil, nil for empty input, got %v, %v", vecs, err)
	}
}

func TestOpenAIEmbedServerError(t *testing.T) {
	_, embedder := newEmbeddingsServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})
	_, err := embedder.Embed(context.Background(), []string{"chunk"})
	if !errors.Is(err, model.ErrEmbeddingBackend) {
		t.Fatalf("expected ErrEmbeddingBackend, got %v", err)
	}
}

func TestOpenAIEmbedCountMismatch(t *testing.T) {
	_, embedder := newEmbeddingsServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1, 0, 0}}},
		})
	})
	_, err := embedder.Embed(context.Background(), []string{"a", "b"})
	if !errors.Is(err, model.ErrEmbeddingBackend) {
		t.Fatalf("expected ErrEmbeddingBackend on count mismatch, got %v", err)
	}
}

func TestOpenAIEmbedDimensionMismatch(t *testing.T) {
	_, embedder := newEmbeddingsServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1, 0}}},
		})
	})
	_, err := embedder.Embed(context.Background(), []string{"a"})
	if !errors.Is(err, model.ErrEmbeddingBackend) {
		t.Fatalf("expected ErrEmbeddingBackend on dimension mismatch, got %v", err)
	}
}

func TestOpenAIEmbedQuery(t *testing.T) {
	_, embedder := newEmbeddingsServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0, 1, 0}}},
		})
	})
	vec, err := embedder.EmbedQuery(context.Background(), "retention policy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 || vec[1] != 1 {
		t.Fatalf("unexpected vector %v", vec)
	}
}

func TestOpenAIEmbedUnreachableBackend(t *testing.T) {
	server, embedder := newEmbeddingsServer(t, func(w http.ResponseWriter, r *http.Request) {})
	server.Close()

	_, err := embedder.Embed(context.Background(), []string{"chunk"})
	if !errors.Is(err, model.ErrEmbeddingBackend) {
		t.Fatalf("expected ErrEmbeddingBackend when backend is unreachable, got %v", err)
	}
}
