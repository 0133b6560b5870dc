package cache

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gradeflow/internal/model"
)

// testRedis connects to REDIS_TEST_ADDR; the selected DB is flushed.
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set, skipping Redis integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	require.NoError(t, rdb.Ping(context.Background()).Err())
	require.NoError(t, rdb.FlushDB(context.Background()).Err())
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRosterCache(t *testing.T) {
	c := NewRosterCache(testRedis(t))
	ctx := context.Background()

	got, err := c.GetStudents(ctx, "class-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	students := []*model.Student{{ID: "s1", ClassID: "class-1", RollNumber: "007", IsActive: true}}
	require.NoError(t, c.SetStudents(ctx, "class-1", students))

	got, err = c.GetStudents(ctx, "class-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "007", got[0].RollNumber)

	require.NoError(t, c.Invalidate(ctx, "class-1"))
	got, _ = c.GetStudents(ctx, "class-1")
	assert.Nil(t, got)
}

func TestDetectionCache(t *testing.T) {
	c := NewDetectionCache(testRedis(t))
	ctx := context.Background()

	miss, err := c.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, miss)

	d := &model.RollNumberDetection{RollNumber: "120", Confidence: 0.85, ImageQuality: model.ScanQualityGood}
	require.NoError(t, c.Set(ctx, "abc", d))

	hit, err := c.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, d, hit)
}
