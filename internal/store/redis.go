package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rwastockholm/custody-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

// Apply forwards to the primary and drops every cached key cs touched once
// the primary has committed. A failed Apply leaves the cache alone.
func (s *CachedStore) Apply(ctx context.Context, cs model.ChangeSet, commit CommitFunc) error {
	if err := s.primary.Apply(ctx, cs, commit); err != nil {
		return err
	}

	keys := make([]string, 0, len(cs.Listings)+len(cs.Positions)+1)
	for id := range cs.Listings {
		keys = append(keys, listingKey(id))
	}
	for id := range cs.Positions {
		keys = append(keys, positionKey(id))
	}
	if cs.Config != nil {
		keys = append(keys, configCacheKey)
	}
	if len(keys) > 0 {
		// The primary has committed; a stale entry expires with its TTL.
		if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
			slog.Warn("cache invalidation failed", "keys", keys, "err", err)
		}
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetListing(ctx context.Context, assetID string) (*model.Listing, error) {
	var l model.Listing
	if s.fromCache(ctx, listingKey(assetID), &l) {
		return &l, nil
	}

	found, err := s.primary.GetListing(ctx, assetID)
	if err != nil {
		return nil, err
	}
	s.toCache(ctx, listingKey(assetID), found)
	return found, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, assetID string) (*model.StakedPosition, error) {
	var p model.StakedPosition
	if s.fromCache(ctx, positionKey(assetID), &p) {
		return &p, nil
	}

	found, err := s.primary.GetPosition(ctx, assetID)
	if err != nil {
		return nil, err
	}
	s.toCache(ctx, positionKey(assetID), found)
	return found, nil
}

func (s *CachedStore) GetConfig(ctx context.Context) (*model.Config, error) {
	var c model.Config
	if s.fromCache(ctx, configCacheKey, &c) {
		return &c, nil
	}

	found, err := s.primary.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	s.toCache(ctx, configCacheKey, found)
	return found, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetCustody(ctx context.Context, assetID string) (*model.Custody, error) {
	return s.primary.GetCustody(ctx, assetID)
}

func (s *CachedStore) GetSummary(ctx context.Context) (*model.StakingSummary, error) {
	return s.primary.GetSummary(ctx)
}

func (s *CachedStore) ListListings(ctx context.Context) ([]model.Listing, error) {
	return s.primary.ListListings(ctx)
}

func (s *CachedStore) ListPositions(ctx context.Context, owner string) ([]model.StakedPosition, error) {
	return s.primary.ListPositions(ctx, owner)
}

// Close closes the primary, and the Redis client too when it owns a
// connection pool.
func (s *CachedStore) Close() error {
	err := s.primary.Close()
	if c, ok := s.rdb.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}

// --- Cache helpers ---

func (s *CachedStore) fromCache(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (s *CachedStore) toCache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const configCacheKey = "config"

func listingKey(id string) string  { return fmt.Sprintf("listing:%s", id) }
func positionKey(id string) string { return fmt.Sprintf("position:%s", id) }
