package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/conduit-lang/querycache/internal/metrics"
)

// failingCache fails every operation with err
type failingCache struct {
	err error
}

func (f failingCache) Get(context.Context, string) ([]byte, error) { return nil, f.err }
func (f failingCache) Set(context.Context, string, []byte, time.Duration) error { return f.err }
func (f failingCache) Delete(context.Context, string) error { return f.err }
func (f failingCache) Clear(context.Context) error { return f.err }
func (f failingCache) Exists(context.Context, string) (bool, error) { return false, f.err }

type user struct {
	ID    int    `json:"id"`
	Email string `json:"email"`
}

func newTestFacade(t *testing.T) (*Facade, *MemoryCache) {
	backend := NewMemoryCache()
	t.Cleanup(func() { _ = backend.Close() })
	return NewFacade(backend, nil, nil), backend
}

func TestFacade_SetAndGet(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := context.Background()

	f.Set(ctx, "user:1", user{ID: 1, Email: "a@x.com"}, time.Minute)

	var got user
	require.True(t, f.Get(ctx, "user:1", &got))
	assert.Equal(t, user{ID: 1, Email: "a@x.com"}, got)
}

func TestFacade_GetMiss(t *testing.T) {
	f, _ := newTestFacade(t)

	var got user
	assert.False(t, f.Get(context.Background(), "missing", &got))
}

func TestFacade_TagIndexContainsEveryTaggedKey(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := context.Background()

	f.Set(ctx, "q1", 1, time.Minute, "table:users")
	f.Set(ctx, "q2", 2, time.Minute, "table:users", "table:orders")
	f.Set(ctx, "q2", 2, time.Minute, "table:users")

	assert.Equal(t, []string{"q1", "q2"}, f.TagMembers(ctx, "table:users"))
	assert.Equal(t, []string{"q2"}, f.TagMembers(ctx, "table:orders"))
}

func TestFacade_ShortEntryDoesNotShortenTagIndex(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := context.Background()

	f.Set(ctx, "long", "stale", time.Hour, "table:users")
	f.Set(ctx, "short", "fresh", 50*time.Millisecond, "table:users")
	time.Sleep(120 * time.Millisecond)

	assert.Equal(t, []string{"long", "short"}, f.TagMembers(ctx, "table:users"))

	f.InvalidateByTags(ctx, "table:users")

	var v string
	assert.False(t, f.Get(ctx, "long", &v))
}

func TestFacade_TagIndexWithoutExpiryStaysUnbounded(t *testing.T) {
	f, backend := newTestFacade(t)
	ctx := context.Background()

	f.Set(ctx, "forever", 1, -1, "table:users")
	f.Set(ctx, "brief", 2, 20*time.Millisecond, "table:users")
	time.Sleep(50 * time.Millisecond)

	ok, err := backend.Exists(ctx, TagKey("table:users"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFacade_InvalidationSeesKeysFromOtherProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	newProcess := func() *Facade {
		local := NewMemoryCache()
		remote := NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), DefaultCacheConfig())
		t.Cleanup(func() {
			_ = local.Close()
			_ = remote.Close()
		})
		return NewFacade(NewTiered(local, remote, 30*time.Second), nil, nil)
	}

	a := newProcess()
	b := newProcess()

	a.Set(ctx, "q1", "rowsA", time.Minute, "table:users")
	b.Set(ctx, "q2", "rowsB", time.Minute, "table:users")

	a.InvalidateByTags(ctx, "table:users")

	assert.False(t, mr.Exists("qc:q1"))
	assert.False(t, mr.Exists("qc:q2"))
	assert.False(t, mr.Exists("qc:tag:table:users"))

	var v string
	fresh := newProcess()
	assert.False(t, fresh.Get(ctx, "q2", &v))
	assert.False(t, a.Get(ctx, "q1", &v))
}

func TestFacade_InvalidateByTags(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := context.Background()

	f.Set(ctx, "q1", 1, time.Minute, "table:users")
	f.Set(ctx, "q2", 2, time.Minute, "table:users")
	f.Set(ctx, "q3", 3, time.Minute, "table:orders")

	f.InvalidateByTags(ctx, "table:users")

	var v int
	assert.False(t, f.Get(ctx, "q1", &v))
	assert.False(t, f.Get(ctx, "q2", &v))
	assert.False(t, f.Exists(ctx, TagKey("table:users")))
	assert.True(t, f.Get(ctx, "q3", &v))
}

func TestFacade_InvalidateUnknownTagIsNoop(t *testing.T) {
	f, _ := newTestFacade(t)

	assert.NotPanics(t, func() {
		f.InvalidateByTags(context.Background(), "table:nothing")
	})
}

func TestFacade_BackendErrorsAreNonFatal(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	m := metrics.New(prometheus.NewRegistry())
	f := NewFacade(failingCache{err: errors.New("connection refused")}, zap.New(core), m)
	ctx := context.Background()

	var v int
	assert.False(t, f.Get(ctx, "k", &v))
	assert.NotPanics(t, func() { f.Set(ctx, "k", 1, time.Minute, "table:users") })
	assert.False(t, f.Delete(ctx, "k"))
	assert.False(t, f.Exists(ctx, "k"))
	assert.NotPanics(t, func() { f.InvalidateByTags(ctx, "table:users") })

	assert.NotZero(t, logs.FilterMessage("cache get failed").Len())
	assert.NotZero(t, logs.FilterMessage("cache set failed").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheOperationsTotal.WithLabelValues("get", "error")))
}

func TestFacade_CorruptEntryIsMiss(t *testing.T) {
	f, backend := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "k", []byte("{not json"), time.Minute))

	var v map[string]interface{}
	assert.False(t, f.Get(ctx, "k", &v))
}

func TestFacade_NilIsAlwaysEmpty(t *testing.T) {
	var f *Facade
	ctx := context.Background()

	f.Set(ctx, "k", 1, time.Minute, "t")
	var v int
	assert.False(t, f.Get(ctx, "k", &v))
	assert.False(t, f.Delete(ctx, "k"))
	f.InvalidateByTags(ctx, "t")
}

func TestFacade_OverRedis(t *testing.T) {
	backend, mr := setupTestRedis(t)
	f := NewFacade(backend, nil, nil)
	ctx := context.Background()

	f.Set(ctx, "q1", []string{"a"}, time.Minute, "table:users")
	assert.True(t, mr.Exists("qc:q1"))
	assert.True(t, mr.Exists("qc:tag:table:users"))

	f.InvalidateByTags(ctx, "table:users")
	assert.False(t, mr.Exists("qc:q1"))
	assert.False(t, mr.Exists("qc:tag:table:users"))
}

func TestFacade_Clear(t *testing.T) {
	f, backend := newTestFacade(t)
	ctx := context.Background()

	f.Set(ctx, "query:users:1", user{ID: 1}, time.Minute, "table:users")
	require.NotZero(t, backend.Len())

	require.NoError(t, f.Clear(ctx))
	assert.Zero(t, backend.Len())
}

func TestFacade_ClearReportsBackendError(t *testing.T) {
	boom := errors.New("redis down")
	f := NewFacade(failingCache{err: boom}, nil, nil)

	assert.ErrorIs(t, f.Clear(context.Background()), boom)

	var nilFacade *Facade
	assert.NoError(t, nilFacade.Clear(context.Background()))
}
