package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rwastockholm/custody-engine/internal/model"
)

var epoch = time.Unix(1_700_000_000, 0).UTC()

// backends returns every Store implementation that runs without external
// services.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	bs, err := NewInMemoryBadgerStore()
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { bs.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"badger": bs,
	}
}

func listing(id, seller string, price int64) model.Listing {
	return model.Listing{AssetID: id, Seller: seller, Price: model.NewCoin(price, "om"), ListedAt: epoch}
}

func position(id, owner string) model.StakedPosition {
	return model.StakedPosition{
		Owner: owner, AssetContract: "nft1contract", AssetID: id,
		StakedSince: epoch, AccrualStart: epoch,
	}
}

func TestStore_GetMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.GetListing(ctx, "nope"); !errors.Is(err, ErrNotFound) {
				t.Errorf("listing: expected ErrNotFound, got %v", err)
			}
			if _, err := s.GetPosition(ctx, "nope"); !errors.Is(err, ErrNotFound) {
				t.Errorf("position: expected ErrNotFound, got %v", err)
			}
			if _, err := s.GetCustody(ctx, "nope"); !errors.Is(err, ErrNotFound) {
				t.Errorf("custody: expected ErrNotFound, got %v", err)
			}
			if _, err := s.GetConfig(ctx); !errors.Is(err, ErrNotFound) {
				t.Errorf("config: expected ErrNotFound, got %v", err)
			}
			if model.CodeOf(ErrNotFound) != model.CodeRecordNotFound {
				t.Errorf("ErrNotFound should carry record_not_found")
			}
		})
	}
}

func TestStore_SummaryZeroBeforeFirstWrite(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			sum, err := s.GetSummary(ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sum.TotalStaked != 0 || !sum.RewardsPaid.IsZero() || !sum.RewardsFunded.IsZero() {
				t.Errorf("expected zero summary, got %+v", sum)
			}
		})
	}
}

func TestStore_ApplyPutAndDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var cs model.ChangeSet
			cs.PutListing(listing("2", "seller1abcdefg", 150))
			cs.PutListing(listing("1", "seller1abcdefg", 100))
			cs.PutPosition(position("7", "alice1abcdefg"))
			cs.PutSummary(model.StakingSummary{TotalStaked: 1, RewardsFunded: decimal.NewFromInt(500)})
			if err := s.Apply(ctx, cs, nil); err != nil {
				t.Fatalf("apply: %v", err)
			}

			l, err := s.GetListing(ctx, "1")
			if err != nil {
				t.Fatalf("get listing: %v", err)
			}
			if !l.Price.Amount.Equal(decimal.NewFromInt(100)) || l.Price.Denom != "om" {
				t.Errorf("unexpected price %+v", l.Price)
			}

			listings, _ := s.ListListings(ctx)
			if len(listings) != 2 || listings[0].AssetID != "1" || listings[1].AssetID != "2" {
				t.Errorf("expected listings ordered by asset id, got %+v", listings)
			}

			sum, _ := s.GetSummary(ctx)
			if sum.TotalStaked != 1 || !sum.RewardsFunded.Equal(decimal.NewFromInt(500)) {
				t.Errorf("unexpected summary %+v", sum)
			}

			var del model.ChangeSet
			del.DeleteListing("1")
			del.DeletePosition("7")
			if err := s.Apply(ctx, del, nil); err != nil {
				t.Fatalf("apply delete: %v", err)
			}
			if _, err := s.GetListing(ctx, "1"); !errors.Is(err, ErrNotFound) {
				t.Errorf("listing should be gone, got %v", err)
			}
			if _, err := s.GetPosition(ctx, "7"); !errors.Is(err, ErrNotFound) {
				t.Errorf("position should be gone, got %v", err)
			}
			if _, err := s.GetListing(ctx, "2"); err != nil {
				t.Errorf("untouched listing should remain: %v", err)
			}
		})
	}
}

func TestStore_CommitFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var seed model.ChangeSet
			seed.PutListing(listing("1", "seller1abcdefg", 100))
			if err := s.Apply(ctx, seed, nil); err != nil {
				t.Fatalf("seed: %v", err)
			}

			var cs model.ChangeSet
			cs.DeleteListing("1")
			cs.PutPosition(position("1", "alice1abcdefg"))
			cs.PutConfig(model.Config{Admin: "admin1abcdefg"})
			boom := errors.New("host rejected batch")

			err := s.Apply(ctx, cs, func(context.Context) error { return boom })
			if !errors.Is(err, boom) {
				t.Fatalf("expected commit error, got %v", err)
			}

			if _, err := s.GetListing(ctx, "1"); err != nil {
				t.Errorf("listing should survive rollback: %v", err)
			}
			if _, err := s.GetPosition(ctx, "1"); !errors.Is(err, ErrNotFound) {
				t.Errorf("position should not exist after rollback, got %v", err)
			}
			if _, err := s.GetConfig(ctx); !errors.Is(err, ErrNotFound) {
				t.Errorf("config should not exist after rollback, got %v", err)
			}
		})
	}
}

func TestStore_CommitSeesStagedWritesOnlyOnSuccess(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var cs model.ChangeSet
			cs.PutCustody(model.Custody{AssetContract: "nft1contract", AssetID: "9", Depositor: "bob1abcdefg", ReceivedAt: epoch})

			called := false
			if err := s.Apply(ctx, cs, func(context.Context) error { called = true; return nil }); err != nil {
				t.Fatalf("apply: %v", err)
			}
			if !called {
				t.Error("commit hook was not called")
			}
			c, err := s.GetCustody(ctx, "9")
			if err != nil {
				t.Fatalf("get custody: %v", err)
			}
			if c.Depositor != "bob1abcdefg" {
				t.Errorf("expected depositor bob1abcdefg, got %s", c.Depositor)
			}
		})
	}
}

func TestStore_ListPositionsFiltersByOwner(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var cs model.ChangeSet
			cs.PutPosition(position("3", "alice1abcdefg"))
			cs.PutPosition(position("1", "alice1abcdefg"))
			cs.PutPosition(position("2", "bob1abcdefg"))
			if err := s.Apply(ctx, cs, nil); err != nil {
				t.Fatalf("apply: %v", err)
			}

			all, _ := s.ListPositions(ctx, "")
			if len(all) != 3 {
				t.Errorf("expected 3 positions, got %d", len(all))
			}

			alice, _ := s.ListPositions(ctx, "alice1abcdefg")
			if len(alice) != 2 || alice[0].AssetID != "1" || alice[1].AssetID != "3" {
				t.Errorf("unexpected alice positions %+v", alice)
			}

			none, _ := s.ListPositions(ctx, "carol1abcdefg")
			if len(none) != 0 {
				t.Errorf("expected no positions, got %+v", none)
			}
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var cs model.ChangeSet
	cs.PutListing(listing("1", "seller1abcdefg", 100))
	s.Apply(ctx, cs, nil)

	l, _ := s.GetListing(ctx, "1")
	l.Seller = "mallory1abcdefg"

	again, _ := s.GetListing(ctx, "1")
	if again.Seller != "seller1abcdefg" {
		t.Errorf("caller mutation leaked into store: %s", again.Seller)
	}
}
