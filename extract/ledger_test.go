package extract

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLedger(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	l := NewRedisLedger(client, time.Hour)

	require.NoError(t, l.Record(ctx, "run-1", Result{File: "b.md", Status: StatusTimeout}))
	require.NoError(t, l.Record(ctx, "run-1", Result{File: "a.md", Status: StatusSuccess, Crops: 2}))
	require.NoError(t, l.Record(ctx, "run-1", Result{File: "c.md", Status: StatusRateLimited}))

	results, err := l.Run(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a.md", results[0].File)
	assert.Equal(t, 2, results[0].Crops)

	pending, err := l.PendingRetries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.md", "c.md"}, pending)

	assert.True(t, mr.TTL("labelgraph:extract:run:run-1") > 0)

	// A later success clears the retry entry.
	require.NoError(t, l.Record(ctx, "run-2", Result{File: "b.md", Status: StatusSuccess}))
	pending, err = l.PendingRetries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c.md"}, pending)
}
