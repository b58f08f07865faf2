package model

import "errors"

// Engine error taxonomy. Services wrap these with detail; handlers map them
// to HTTP codes. ErrEmbeddingBackend is the only retryable kind.
var (
	// ErrUnsupportedFormat indicates a declared file type outside {pdf, docx, doc, txt, md}.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrExtraction indicates unreadable or corrupt file content.
	ErrExtraction = errors.New("text extraction failed")

	// ErrInvalidChunkConfig indicates a bad chunk size/overlap/strategy combination.
	ErrInvalidChunkConfig = errors.New("invalid chunk config")

	// ErrEmbeddingBackend indicates a transport/quota failure from the embedding
	// backend. Retryable; the orchestrator retries with bounded backoff.
	ErrEmbeddingBackend = errors.New("embedding backend failed")

	// ErrInvalidQueryConfig indicates top_k or min_similarity outside the allowed range.
	ErrInvalidQueryConfig = errors.New("invalid query config")

	// ErrScopeViolation indicates a candidate or result crossing the caller's
	// declared scope. This is an internal invariant failure, never a user error.
	ErrScopeViolation = errors.New("scope violation")

	// ErrNotFound indicates an unknown document or chunk id.
	ErrNotFound = errors.New("not found")
)
