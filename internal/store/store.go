// Package store defines the persistence interface for the custody ledger.
// Implementations include PostgreSQL (source of truth), BadgerDB (embedded,
// single node), Redis (read-through cache over another Store) and in-memory
// (for testing and development).
package store

import (
	"context"

	"github.com/rwastockholm/custody-engine/internal/model"
)

// ErrNotFound is returned by Get* when the record does not exist.
var ErrNotFound = model.NewError(model.CodeRecordNotFound, "store: record not found")

// CommitFunc runs after a ChangeSet is staged and before it becomes
// visible. Returning an error discards the staged writes.
type CommitFunc func(ctx context.Context) error

// Reader is the read side of the ledger that engines consult.
type Reader interface {
	// GetListing retrieves the active listing for an asset.
	GetListing(ctx context.Context, assetID string) (*model.Listing, error)

	// GetPosition retrieves the staked position for an asset.
	GetPosition(ctx context.Context, assetID string) (*model.StakedPosition, error)

	// GetCustody retrieves the custody record for an asset.
	GetCustody(ctx context.Context, assetID string) (*model.Custody, error)

	// GetSummary returns the staking aggregate; zero before the first write.
	GetSummary(ctx context.Context) (*model.StakingSummary, error)

	// GetConfig returns the contract configuration, or ErrNotFound before
	// the contract is instantiated.
	GetConfig(ctx context.Context) (*model.Config, error)
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	Reader

	// ListListings returns all active listings ordered by asset id.
	ListListings(ctx context.Context) ([]model.Listing, error)

	// ListPositions returns staked positions ordered by asset id, filtered
	// by owner unless owner is empty.
	ListPositions(ctx context.Context, owner string) ([]model.StakedPosition, error)

	// Apply writes cs as one unit. commit (may be nil) runs inside the
	// unit; if it fails nothing in cs is persisted.
	Apply(ctx context.Context, cs model.ChangeSet, commit CommitFunc) error

	// Close releases the underlying resources.
	Close() error
}
