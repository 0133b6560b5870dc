package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gradeflow/internal/model"
)

// RosterCache handles Redis caching of active class rosters
type RosterCache interface {
	GetStudents(ctx context.Context, classID string) ([]*model.Student, error)
	SetStudents(ctx context.Context, classID string, students []*model.Student) error
	Invalidate(ctx context.Context, classID string) error
}

type rosterCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRosterCache creates a new roster cache
func NewRosterCache(client *redis.Client) RosterCache {
	return &rosterCache{
		client: client,
		ttl:    15 * time.Minute,
	}
}

func (c *rosterCache) key(classID string) string {
	return fmt.Sprintf("roster:%s", classID)
}

// GetStudents returns nil, nil on a cache miss
func (c *rosterCache) GetStudents(ctx context.Context, classID string) ([]*model.Student, error) {
	data, err := c.client.Get(ctx, c.key(classID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var students []*model.Student
	if err := json.Unmarshal([]byte(data), &students); err != nil {
		return nil, err
	}
	return students, nil
}

func (c *rosterCache) SetStudents(ctx context.Context, classID string, students []*model.Student) error {
	if students == nil {
		students = []*model.Student{}
	}
	data, err := json.Marshal(students)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(classID), data, c.ttl).Err()
}

func (c *rosterCache) Invalidate(ctx context.Context, classID string) error {
	return c.client.Del(ctx, c.key(classID)).Err()
}
