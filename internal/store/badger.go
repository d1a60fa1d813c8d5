package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"

	"github.com/rwastockholm/custody-engine/internal/model"
)

const (
	listingPrefix  = "listing/"
	positionPrefix = "position/"
	custodyPrefix  = "custody/"
	summaryKey     = "summary"
	configKey      = "config"
)

// BadgerStore implements Store on an embedded BadgerDB for single-node
// deployments without PostgreSQL. Records are stored as JSON; key prefixes
// keep asset ids ordered within each record type.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a BadgerDB at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions(path))
}

// NewInMemoryBadgerStore opens a BadgerDB that never touches disk.
func NewInMemoryBadgerStore() (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true))
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) GetListing(_ context.Context, assetID string) (*model.Listing, error) {
	var l model.Listing
	if err := s.get(listingPrefix+assetID, &l); err != nil {
		return nil, fmt.Errorf("listing %s: %w", assetID, err)
	}
	return &l, nil
}

func (s *BadgerStore) GetPosition(_ context.Context, assetID string) (*model.StakedPosition, error) {
	var p model.StakedPosition
	if err := s.get(positionPrefix+assetID, &p); err != nil {
		return nil, fmt.Errorf("position %s: %w", assetID, err)
	}
	return &p, nil
}

func (s *BadgerStore) GetCustody(_ context.Context, assetID string) (*model.Custody, error) {
	var c model.Custody
	if err := s.get(custodyPrefix+assetID, &c); err != nil {
		return nil, fmt.Errorf("custody %s: %w", assetID, err)
	}
	return &c, nil
}

func (s *BadgerStore) GetSummary(_ context.Context) (*model.StakingSummary, error) {
	var sum model.StakingSummary
	err := s.get(summaryKey, &sum)
	if errors.Is(err, ErrNotFound) {
		return &model.StakingSummary{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	return &sum, nil
}

func (s *BadgerStore) GetConfig(_ context.Context) (*model.Config, error) {
	var c model.Config
	if err := s.get(configKey, &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &c, nil
}

func (s *BadgerStore) ListListings(_ context.Context) ([]model.Listing, error) {
	listings := make([]model.Listing, 0)
	err := s.scan(listingPrefix, func(v []byte) error {
		var l model.Listing
		if err := json.Unmarshal(v, &l); err != nil {
			return err
		}
		listings = append(listings, l)
		return nil
	})
	return listings, err
}

func (s *BadgerStore) ListPositions(_ context.Context, owner string) ([]model.StakedPosition, error) {
	positions := make([]model.StakedPosition, 0)
	err := s.scan(positionPrefix, func(v []byte) error {
		var p model.StakedPosition
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		if owner == "" || p.Owner == owner {
			positions = append(positions, p)
		}
		return nil
	})
	return positions, err
}

// Apply stages cs in one badger transaction and runs commit before the
// transaction is committed. Badger detects conflicting concurrent writers
// and returns badger.ErrConflict instead of interleaving them.
func (s *BadgerStore) Apply(ctx context.Context, cs model.ChangeSet, commit CommitFunc) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for id, l := range cs.Listings {
			if err := put(txn, listingPrefix+id, l); err != nil {
				return err
			}
		}
		for id, p := range cs.Positions {
			if err := put(txn, positionPrefix+id, p); err != nil {
				return err
			}
		}
		for id, c := range cs.Custody {
			if err := put(txn, custodyPrefix+id, c); err != nil {
				return err
			}
		}
		if cs.Summary != nil {
			if err := put(txn, summaryKey, cs.Summary); err != nil {
				return err
			}
		}
		if cs.Config != nil {
			if err := put(txn, configKey, cs.Config); err != nil {
				return err
			}
		}

		if commit != nil {
			return commit(ctx)
		}
		return nil
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// put writes v as JSON under key, or deletes key when v is a nil pointer.
func put[T any](txn *badger.Txn, key string, v *T) error {
	if v == nil {
		return txn.Delete([]byte(key))
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

func (s *BadgerStore) get(key string, v any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(data []byte) error {
			return json.Unmarshal(data, v)
		})
	})
}

func (s *BadgerStore) scan(prefix string, fn func(v []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}
