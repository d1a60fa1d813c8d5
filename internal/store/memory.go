package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/tidwall/btree"

	"github.com/rwastockholm/custody-engine/internal/model"
)

// MemoryStore implements Store with in-memory ordered maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Apply takes copy-on-write snapshots of the maps so a failed commit can be
// rolled back without copying any records.
type MemoryStore struct {
	mu        sync.RWMutex
	listings  *btree.Map[string, model.Listing]
	positions *btree.Map[string, model.StakedPosition]
	custody   *btree.Map[string, model.Custody]
	summary   model.StakingSummary
	config    *model.Config
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings:  btree.NewMap[string, model.Listing](32),
		positions: btree.NewMap[string, model.StakedPosition](32),
		custody:   btree.NewMap[string, model.Custody](32),
	}
}

func (s *MemoryStore) GetListing(_ context.Context, assetID string) (*model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings.Get(assetID)
	if !ok {
		return nil, fmt.Errorf("listing %s: %w", assetID, ErrNotFound)
	}
	return &l, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, assetID string) (*model.StakedPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions.Get(assetID)
	if !ok {
		return nil, fmt.Errorf("position %s: %w", assetID, ErrNotFound)
	}
	return &p, nil
}

func (s *MemoryStore) GetCustody(_ context.Context, assetID string) (*model.Custody, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.custody.Get(assetID)
	if !ok {
		return nil, fmt.Errorf("custody %s: %w", assetID, ErrNotFound)
	}
	return &c, nil
}

func (s *MemoryStore) GetSummary(_ context.Context) (*model.StakingSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := s.summary
	return &summary, nil
}

func (s *MemoryStore) GetConfig(_ context.Context) (*model.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.config == nil {
		return nil, fmt.Errorf("config: %w", ErrNotFound)
	}
	cfg := *s.config
	return &cfg, nil
}

func (s *MemoryStore) ListListings(_ context.Context) ([]model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listings := make([]model.Listing, 0, s.listings.Len())
	s.listings.Scan(func(_ string, l model.Listing) bool {
		listings = append(listings, l)
		return true
	})
	return listings, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, owner string) ([]model.StakedPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make([]model.StakedPosition, 0)
	s.positions.Scan(func(_ string, p model.StakedPosition) bool {
		if owner == "" || p.Owner == owner {
			positions = append(positions, p)
		}
		return true
	})
	return positions, nil
}

// Apply writes cs under the write lock, so readers never observe a staged
// change set. On commit failure the maps are swapped back to the snapshots.
func (s *MemoryStore) Apply(ctx context.Context, cs model.ChangeSet, commit CommitFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	listings := s.listings.Copy()
	positions := s.positions.Copy()
	custody := s.custody.Copy()
	summary := s.summary
	config := s.config

	for id, l := range cs.Listings {
		if l == nil {
			s.listings.Delete(id)
		} else {
			s.listings.Set(id, *l)
		}
	}
	for id, p := range cs.Positions {
		if p == nil {
			s.positions.Delete(id)
		} else {
			s.positions.Set(id, *p)
		}
	}
	for id, c := range cs.Custody {
		if c == nil {
			s.custody.Delete(id)
		} else {
			s.custody.Set(id, *c)
		}
	}
	if cs.Summary != nil {
		s.summary = *cs.Summary
	}
	if cs.Config != nil {
		cfg := *cs.Config
		s.config = &cfg
	}

	if commit != nil {
		if err := commit(ctx); err != nil {
			s.listings = listings
			s.positions = positions
			s.custody = custody
			s.summary = summary
			s.config = config
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
