package invalidation

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/querycache/internal/cache"
	"github.com/conduit-lang/querycache/internal/metrics"
)

func newFacade(t *testing.T) *cache.Facade {
	backend := cache.NewMemoryCache()
	t.Cleanup(func() { _ = backend.Close() })
	return cache.NewFacade(backend, nil, nil)
}

func TestEvent_Tags(t *testing.T) {
	assert.Equal(t, []string{"table:users", "table:users:insert"}, Event{Table: "users", Operation: OpInsert}.Tags())
	assert.Equal(t, []string{"table:users"}, Event{Table: "users"}.Tags())
}

func TestReadTags(t *testing.T) {
	assert.Equal(t, []string{"table:users", "table:orders"}, ReadTags("users", "orders", "users", ""))
	assert.Empty(t, ReadTags())
}

func TestCoordinator_InvalidateClearsTaggedReads(t *testing.T) {
	facade := newFacade(t)
	m := metrics.New(prometheus.NewRegistry())
	c := NewCoordinator(facade, nil, m)
	ctx := context.Background()

	facade.Set(ctx, "query:users:1", []int{1}, time.Minute, ReadTags("users")...)
	facade.Set(ctx, "query:users:2", []int{2}, time.Minute, ReadTags("users", "orders")...)
	facade.Set(ctx, "query:orders:1", []int{3}, time.Minute, ReadTags("orders")...)

	c.Invalidate(ctx, Event{Table: "users", Operation: OpUpdate})

	assert.False(t, facade.Exists(ctx, "query:users:1"))
	assert.False(t, facade.Exists(ctx, "query:users:2"))
	assert.True(t, facade.Exists(ctx, "query:orders:1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InvalidationsTotal.WithLabelValues("users", OpUpdate)))
}

func TestCoordinator_AsyncWait(t *testing.T) {
	facade := newFacade(t)
	c := NewCoordinator(facade, nil, nil, WithAsync())

	ctx, cancel := context.WithCancel(context.Background())
	facade.Set(ctx, "query:users:1", 1, time.Minute, ReadTags("users")...)

	c.Invalidate(ctx, Event{Table: "users", Operation: OpDelete})
	// Cancelling the writer's context must not abort the invalidation
	cancel()
	c.Wait()

	assert.False(t, facade.Exists(context.Background(), "query:users:1"))
}

func TestCoordinator_NilIsNoop(t *testing.T) {
	var c *Coordinator
	require.NotPanics(t, func() {
		c.Invalidate(context.Background(), Event{Table: "users"})
		c.Wait()
	})

	withoutCache := NewCoordinator(nil, nil, nil)
	require.NotPanics(t, func() {
		withoutCache.Invalidate(context.Background(), Event{Table: "users", Operation: OpInsert})
	})
}
