package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

// DocumentStatus is the cached shape served to status polls.
type DocumentStatus struct {
	DocumentID     uint   `json:"document_id"`
	UserID         uint   `json:"user_id"`
	Status         string `json:"status"`
	ChunkCount     int    `json:"chunk_count"`
	EmbeddingCount int    `json:"embedding_count"`
	ErrorKind      string `json:"error_kind,omitempty"`
	ErrorDetail    string `json:"error_detail,omitempty"`
}

// StatusCache keeps recent document processing status in Redis so clients
// polling get_status during ingestion do not hammer MySQL. Every status
// transition invalidates the entry.
type StatusCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewStatusCache(client *redisv9.Client, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &StatusCache{client: client, ttl: ttl}
}

func (c *StatusCache) Get(ctx context.Context, documentID uint) (*DocumentStatus, bool, error) {
	raw, err := c.client.Get(ctx, c.key(documentID)).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get document status failed: %w", err)
	}
	var status DocumentStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached status failed: %w", err)
	}
	return &status, true, nil
}

func (c *StatusCache) Set(ctx context.Context, status DocumentStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status cache failed: %w", err)
	}
	if err := c.client.Set(ctx, c.key(status.DocumentID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set document status failed: %w", err)
	}
	return nil
}

func (c *StatusCache) Delete(ctx context.Context, documentID uint) error {
	if err := c.client.Del(ctx, c.key(documentID)).Err(); err != nil {
		return fmt.Errorf("redis delete document status failed: %w", err)
	}
	return nil
}

func (c *StatusCache) key(documentID uint) string {
	return fmt.Sprintf("doc:status:%d", documentID)
}
