package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisQueue(client, "crm:test")
	t.Cleanup(func() { q.Close() })
	return q, mr
}

func TestRedisQueueDeliversInOrder(t *testing.T) {
	q, _ := newRedisQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, _ := NewJob("provision_tenant", map[string]uint{"tenant_id": 1}, 3)
	second, _ := NewJob("provision_tenant", map[string]uint{"tenant_id": 2}, 3)
	require.NoError(t, q.Enqueue(ctx, first, 0))
	require.NoError(t, q.Enqueue(ctx, second, 0))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	var payload struct {
		TenantID uint `json:"tenant_id"`
	}
	require.NoError(t, got.Decode(&payload))
	assert.Equal(t, uint(1), payload.TenantID)

	ready, processing, _, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ready)
	assert.Equal(t, int64(1), processing)

	require.NoError(t, q.Ack(ctx, got))
	_, processing, _, err = q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), processing)
}

func TestRedisQueueRecoversUnacknowledgedJobs(t *testing.T) {
	q, _ := newRedisQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, _ := NewJob("provision_tenant", nil, 3)
	require.NoError(t, q.Enqueue(ctx, job, 0))
	_, err := q.Dequeue(ctx)
	require.NoError(t, err)

	// the consumer crashed before Ack
	n, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)
}

func TestRedisQueuePromotesDelayedJobs(t *testing.T) {
	q, _ := newRedisQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, _ := NewJob("provision_tenant", nil, 3)
	job.Attempt = 1
	require.NoError(t, q.Enqueue(ctx, job, 100*time.Millisecond))

	_, _, delayed, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), delayed)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, 1, got.Attempt)
}

func TestRedisQueueDequeueHonoursContext(t *testing.T) {
	q, _ := newRedisQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.Error(t, err)
}
