package cache

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/querycache/internal/metrics"
)

// Facade is the tagged, JSON-valued view over a Cache backend.
//
// The facade never returns backend errors: a failed lookup is reported as a
// miss and a failed write or delete is logged and dropped. Callers treat the
// cache strictly as an optimization.
//
// A nil *Facade is valid and behaves as an always-empty cache.
type Facade struct {
	backend Cache
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewFacade wraps a backend. logger and m may be nil.
func NewFacade(backend Cache, logger *zap.Logger, m *metrics.Metrics) *Facade {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Facade{
		backend: backend,
		logger:  logger.Named("cache"),
		metrics: m,
	}
}

func (f *Facade) enabled() bool {
	return f != nil && f.backend != nil
}

// Get decodes the value stored under key into dest and reports whether it was found
func (f *Facade) Get(ctx context.Context, key string, dest interface{}) bool {
	if !f.enabled() {
		return false
	}

	raw, err := f.backend.Get(ctx, key)
	if err != nil {
		if IsCacheMiss(err) {
			f.metrics.RecordCache("get", "miss")
			return false
		}
		f.metrics.RecordCache("get", "error")
		f.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		f.metrics.RecordCache("get", "error")
		f.logger.Warn("cache entry could not be decoded", zap.String("key", key), zap.Error(err))
		return false
	}

	f.metrics.RecordCache("get", "hit")
	return true
}

// Set stores value under key and registers the key under every tag
func (f *Facade) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) {
	if !f.enabled() {
		return
	}

	raw, err := json.Marshal(value)
	if err != nil {
		f.metrics.RecordCache("set", "error")
		f.logger.Warn("cache value could not be encoded", zap.String("key", key), zap.Error(err))
		return
	}

	if err := f.backend.Set(ctx, key, raw, ttl); err != nil {
		f.metrics.RecordCache("set", "error")
		f.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return
	}
	f.metrics.RecordCache("set", "ok")

	for _, tag := range tags {
		f.addToTag(ctx, tag, key, ttl)
	}
}

// tagIndex is the stored form of a tag's member list. ExpiresAt is zero
// when the index never expires.
type tagIndex struct {
	Keys      []string  `json:"keys"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// addToTag appends key to the tag's index entry. The index lifetime only
// grows, so it always outlives its longest-lived member. The
// read-modify-write is not atomic; a concurrent writer can drop a member,
// which then lives until its TTL.
func (f *Facade) addToTag(ctx context.Context, tag, key string, ttl time.Duration) {
	index, found := f.tagIndex(ctx, tag)

	expiresAt := time.Time{}
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	switch {
	case !found:
		index.ExpiresAt = expiresAt
	case index.ExpiresAt.IsZero() || expiresAt.IsZero():
		index.ExpiresAt = time.Time{}
	case expiresAt.After(index.ExpiresAt):
		index.ExpiresAt = expiresAt
	}

	present := false
	for _, m := range index.Keys {
		if m == key {
			present = true
			break
		}
	}
	if !present {
		index.Keys = append(index.Keys, key)
		sort.Strings(index.Keys)
	}

	raw, err := json.Marshal(index)
	if err != nil {
		return
	}

	indexTTL := time.Duration(-1)
	if !index.ExpiresAt.IsZero() {
		indexTTL = time.Until(index.ExpiresAt)
		if indexTTL <= 0 {
			indexTTL = ttl
		}
	}
	if err := f.backend.Set(ctx, TagKey(tag), raw, indexTTL); err != nil {
		f.metrics.RecordCache("tag", "error")
		f.logger.Warn("cache tag index update failed", zap.String("tag", tag), zap.Error(err))
	}
}

func (f *Facade) tagIndex(ctx context.Context, tag string) (tagIndex, bool) {
	raw, err := f.backend.Get(ctx, TagKey(tag))
	if err != nil {
		if !IsCacheMiss(err) {
			f.logger.Warn("cache tag index read failed", zap.String("tag", tag), zap.Error(err))
		}
		return tagIndex{}, false
	}

	var index tagIndex
	if err := json.Unmarshal(raw, &index); err != nil {
		f.logger.Warn("cache tag index corrupt", zap.String("tag", tag), zap.Error(err))
		return tagIndex{}, false
	}
	return index, true
}

// TagMembers returns the keys currently registered under tag
func (f *Facade) TagMembers(ctx context.Context, tag string) []string {
	if !f.enabled() {
		return nil
	}
	index, _ := f.tagIndex(ctx, tag)
	return index.Keys
}

// Delete removes a single key and reports whether the backend accepted the delete
func (f *Facade) Delete(ctx context.Context, key string) bool {
	if !f.enabled() {
		return false
	}

	if err := f.backend.Delete(ctx, key); err != nil {
		f.metrics.RecordCache("delete", "error")
		f.logger.Warn("cache delete failed", zap.String("key", key), zap.Error(err))
		return false
	}
	f.metrics.RecordCache("delete", "ok")
	return true
}

// Exists reports whether key is present. Backend errors count as absent.
func (f *Facade) Exists(ctx context.Context, key string) bool {
	if !f.enabled() {
		return false
	}

	ok, err := f.backend.Exists(ctx, key)
	if err != nil {
		f.logger.Warn("cache exists failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

// InvalidateByTags deletes every key registered under the given tags and then
// the tag index entries themselves. Failures leave keys to expire via TTL.
func (f *Facade) InvalidateByTags(ctx context.Context, tags ...string) {
	if !f.enabled() {
		return
	}

	for _, tag := range tags {
		members := f.TagMembers(ctx, tag)
		for _, key := range members {
			f.Delete(ctx, key)
		}
		if err := f.backend.Delete(ctx, TagKey(tag)); err != nil {
			f.metrics.RecordCache("invalidate", "error")
			f.logger.Warn("cache tag index delete failed", zap.String("tag", tag), zap.Error(err))
			continue
		}
		f.metrics.RecordCache("invalidate", "ok")
		f.logger.Debug("cache tag invalidated", zap.String("tag", tag), zap.Int("keys", len(members)))
	}
}

// Clear empties the backend. Unlike the other methods it reports the backend
// error, since callers invoke it explicitly.
func (f *Facade) Clear(ctx context.Context) error {
	if !f.enabled() {
		return nil
	}
	if err := f.backend.Clear(ctx); err != nil {
		f.metrics.RecordCache("clear", "error")
		return err
	}
	f.metrics.RecordCache("clear", "ok")
	f.logger.Info("cache cleared")
	return nil
}
