package cache

import (
	"context"
	"strings"
	"time"
)

// Tiered layers a fast local cache in front of a shared external cache.
// Local entries live for at most LocalTTL so that invalidations made by other
// processes become visible within that window.
//
// Tag index entries bypass the local tier: every process must see the
// complete member list when it invalidates a tag.
type Tiered struct {
	local    Cache
	remote   Cache
	localTTL time.Duration
}

// NewTiered creates a two-tier cache
func NewTiered(local, remote Cache, localTTL time.Duration) *Tiered {
	if localTTL <= 0 {
		localTTL = 30 * time.Second
	}
	return &Tiered{local: local, remote: remote, localTTL: localTTL}
}

// Get reads the local tier first, then the remote tier, back-filling the local tier on a remote hit
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, error) {
	if remoteOnly(key) {
		return t.remote.Get(ctx, key)
	}
	if value, err := t.local.Get(ctx, key); err == nil {
		return value, nil
	}

	value, err := t.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	_ = t.local.Set(ctx, key, value, t.localTTL)
	return value, nil
}

// Set writes the remote tier, then the local tier
func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := t.remote.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if remoteOnly(key) {
		return nil
	}
	return t.local.Set(ctx, key, value, t.capLocal(ttl))
}

// Delete removes the key from both tiers
func (t *Tiered) Delete(ctx context.Context, key string) error {
	localErr := t.local.Delete(ctx, key)
	if err := t.remote.Delete(ctx, key); err != nil {
		return err
	}
	return localErr
}

// Clear clears both tiers
func (t *Tiered) Clear(ctx context.Context) error {
	localErr := t.local.Clear(ctx)
	if err := t.remote.Clear(ctx); err != nil {
		return err
	}
	return localErr
}

// Exists reports whether either tier holds the key
func (t *Tiered) Exists(ctx context.Context, key string) (bool, error) {
	if remoteOnly(key) {
		return t.remote.Exists(ctx, key)
	}
	if ok, err := t.local.Exists(ctx, key); err == nil && ok {
		return true, nil
	}
	return t.remote.Exists(ctx, key)
}

func (t *Tiered) capLocal(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > t.localTTL {
		return t.localTTL
	}
	return ttl
}

func remoteOnly(key string) bool {
	return strings.HasPrefix(key, tagIndexPrefix)
}
