package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"dermassist/internal/model"
)

const defaultStatusTTL = 10 * time.Minute

// DocumentStatusCache keeps the latest status view per document so polling
// clients do not hit MySQL. Every status change overwrites the entry.
type DocumentStatusCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewDocumentStatusCache(client *redisv9.Client, ttl time.Duration) *DocumentStatusCache {
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}
	return &DocumentStatusCache{client: client, ttl: ttl}
}

func (c *DocumentStatusCache) Get(ctx context.Context, ownerID, documentID uint) (*model.DocumentStatusView, error) {
	raw, err := c.client.Get(ctx, statusKey(ownerID, documentID)).Result()
	if err == redisv9.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get document status failed: %w", err)
	}

	var view model.DocumentStatusView
	if err := json.Unmarshal([]byte(raw), &view); err != nil {
		return nil, fmt.Errorf("unmarshal cached document status failed: %w", err)
	}
	return &view, nil
}

func (c *DocumentStatusCache) Set(ctx context.Context, ownerID uint, view model.DocumentStatusView) error {
	payload, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("marshal document status failed: %w", err)
	}
	if err := c.client.Set(ctx, statusKey(ownerID, view.DocumentID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set document status failed: %w", err)
	}
	return nil
}

func (c *DocumentStatusCache) Delete(ctx context.Context, ownerID, documentID uint) error {
	if err := c.client.Del(ctx, statusKey(ownerID, documentID)).Err(); err != nil {
		return fmt.Errorf("redis delete document status failed: %w", err)
	}
	return nil
}

func statusKey(ownerID, documentID uint) string {
	return fmt.Sprintf("rag:doc:status:%d:%d", ownerID, documentID)
}
