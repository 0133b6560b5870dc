package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gradeflow/internal/model"
)

// DetectionCache remembers roll-number detections by file content hash
type DetectionCache interface {
	Get(ctx context.Context, contentHash string) (*model.RollNumberDetection, error)
	Set(ctx context.Context, contentHash string, d *model.RollNumberDetection) error
}

type detectionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDetectionCache creates a new detection cache
func NewDetectionCache(client *redis.Client) DetectionCache {
	return &detectionCache{
		client: client,
		ttl:    24 * time.Hour,
	}
}

func (c *detectionCache) key(hash string) string {
	return fmt.Sprintf("detect:%s", hash)
}

func (c *detectionCache) Get(ctx context.Context, contentHash string) (*model.RollNumberDetection, error) {
	data, err := c.client.Get(ctx, c.key(contentHash)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var d model.RollNumberDetection
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *detectionCache) Set(ctx context.Context, contentHash string, d *model.RollNumberDetection) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(contentHash), data, c.ttl).Err()
}
