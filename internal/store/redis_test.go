package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rwastockholm/custody-engine/internal/model"
)

// mapRedis answers the three commands CachedStore issues from a map.
type mapRedis struct {
	redis.Cmdable
	data   map[string]string
	delErr error
}

func newMapRedis() *mapRedis {
	return &mapRedis{data: make(map[string]string)}
}

func (m *mapRedis) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mapRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (m *mapRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	if m.delErr != nil {
		return redis.NewIntResult(0, m.delErr)
	}
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestCachedStore_ReadThroughPopulatesCache(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore()
	rdb := newMapRedis()
	s := NewCachedStore(primary, rdb, time.Minute)

	var cs model.ChangeSet
	cs.PutListing(listing("1", "seller1abcdefg", 100))
	if err := s.Apply(ctx, cs, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if _, err := s.GetListing(ctx, "1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := rdb.data[listingKey("1")]; !ok {
		t.Fatal("listing was not cached after read")
	}

	// A cached entry is served even if the primary no longer has it.
	var del model.ChangeSet
	del.DeleteListing("1")
	primary.Apply(ctx, del, nil)

	l, err := s.GetListing(ctx, "1")
	if err != nil {
		t.Fatalf("expected cache hit, got %v", err)
	}
	if l.Seller != "seller1abcdefg" {
		t.Errorf("unexpected cached listing %+v", l)
	}
}

func TestCachedStore_ApplyInvalidatesTouchedKeys(t *testing.T) {
	ctx := context.Background()
	s := NewCachedStore(NewMemoryStore(), newMapRedis(), time.Minute)

	var cs model.ChangeSet
	cs.PutListing(listing("1", "seller1abcdefg", 100))
	cs.PutConfig(model.Config{Admin: "admin1abcdefg"})
	s.Apply(ctx, cs, nil)
	s.GetListing(ctx, "1")
	s.GetConfig(ctx)

	var del model.ChangeSet
	del.DeleteListing("1")
	del.PutConfig(model.Config{Admin: "admin2abcdefg"})
	if err := s.Apply(ctx, del, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if _, err := s.GetListing(ctx, "1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after invalidation, got %v", err)
	}
	cfg, err := s.GetConfig(ctx)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg.Admin != "admin2abcdefg" {
		t.Errorf("stale config served: %s", cfg.Admin)
	}
}

func TestCachedStore_FailedApplyKeepsCache(t *testing.T) {
	ctx := context.Background()
	rdb := newMapRedis()
	s := NewCachedStore(NewMemoryStore(), rdb, time.Minute)

	var cs model.ChangeSet
	cs.PutListing(listing("1", "seller1abcdefg", 100))
	s.Apply(ctx, cs, nil)
	s.GetListing(ctx, "1")

	var del model.ChangeSet
	del.DeleteListing("1")
	err := s.Apply(ctx, del, func(context.Context) error { return errors.New("rejected") })
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := rdb.data[listingKey("1")]; !ok {
		t.Error("cache entry should survive a failed apply")
	}
}

func TestCachedStore_InvalidationFailureDoesNotFailApply(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore()
	rdb := newMapRedis()
	rdb.delErr = errors.New("connection reset")
	s := NewCachedStore(primary, rdb, time.Minute)

	var cs model.ChangeSet
	cs.PutListing(listing("1", "seller1abcdefg", 100))
	if err := s.Apply(ctx, cs, nil); err != nil {
		t.Fatalf("apply should succeed once the primary commits: %v", err)
	}
	if _, err := primary.GetListing(ctx, "1"); err != nil {
		t.Errorf("primary missing committed listing: %v", err)
	}
}
