// Package market implements fixed-price listings of non-fungible assets.
//
// A listing is keyed by asset id, so any number of assets can be on sale at
// once and each asset has at most one active offer. Buying an asset removes
// its listing, moves the asset to the buyer and pays the listed price to the
// seller; the three effects are returned as one Transition so the caller can
// commit them together.
//
// The engine never writes anything itself. Every operation reads the ledger,
// decides, and returns the writes and instructions it wants applied.
package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/rwastockholm/custody-engine/internal/contract"
	"github.com/rwastockholm/custody-engine/internal/guard"
	"github.com/rwastockholm/custody-engine/internal/host"
	"github.com/rwastockholm/custody-engine/internal/model"
	"github.com/rwastockholm/custody-engine/internal/store"
)

var (
	// ErrUnauthorized is returned when the caller does not own the asset.
	ErrUnauthorized = model.NewError(model.CodeUnauthorized, "market: caller does not own the asset")

	// ErrNoActiveListing is returned when the asset is not on sale.
	ErrNoActiveListing = model.NewError(model.CodeNoActiveListing, "market: no active listing for asset")

	// ErrInsufficientFunds is returned when no offered coin covers the price.
	ErrInsufficientFunds = model.NewError(model.CodeInsufficientFunds, "market: offered funds do not cover the price")
)

// OwnerQuerier answers the non-fungible token contract's ownership query.
type OwnerQuerier interface {
	OwnerOf(ctx context.Context, nftContract, assetID string) (string, error)
}

// Engine evaluates list and buy operations against the ledger.
type Engine struct {
	ledger store.Reader
	owners OwnerQuerier
}

// NewEngine creates a listing engine.
func NewEngine(ledger store.Reader, owners OwnerQuerier) *Engine {
	return &Engine{ledger: ledger, owners: owners}
}

// ListForSale offers assetID at price. Only the asset's current owner, as
// reported by the NFT contract at call time, may list it. Listing an asset
// that is already on sale replaces the earlier offer.
func (e *Engine) ListForSale(ctx context.Context, env model.Env, assetID string, price model.Coin) (model.Transition, error) {
	if err := contract.ValidateCoin(price); err != nil {
		return model.Transition{}, err
	}

	cfg, err := e.ledger.GetConfig(ctx)
	if err != nil {
		return model.Transition{}, fmt.Errorf("load config: %w", err)
	}

	owner, err := e.owners.OwnerOf(ctx, cfg.NFTContract, assetID)
	if errors.Is(err, host.ErrUnknownToken) {
		return model.Transition{}, fmt.Errorf("%w: %s does not exist", ErrUnauthorized, assetID)
	}
	if err != nil {
		return model.Transition{}, fmt.Errorf("query owner of %s: %w", assetID, err)
	}
	if !guard.Permits(env.Sender, owner) {
		return model.Transition{}, fmt.Errorf("%w: %s is not the owner of %s", ErrUnauthorized, env.Sender, assetID)
	}

	listing := model.Listing{
		AssetID:  assetID,
		Seller:   env.Sender,
		Price:    price,
		ListedAt: env.BlockTime,
	}

	var t model.Transition
	t.Changes.PutListing(listing)
	t.Attributes = []model.Attribute{
		model.Attr("action", "list_for_sale"),
		model.Attr("token_id", assetID),
		model.Attr("seller", env.Sender),
		model.Attr("price", price.String()),
	}
	return t, nil
}

// BuyNft purchases assetID with the funds attached to env. Any attached coin
// of the listing's denomination whose amount reaches the price is accepted.
// The seller receives exactly the listed price; any excess stays with the
// contract and is not refunded.
func (e *Engine) BuyNft(ctx context.Context, env model.Env, assetID string) (model.Transition, error) {
	listing, err := e.ledger.GetListing(ctx, assetID)
	if errors.Is(err, store.ErrNotFound) {
		return model.Transition{}, fmt.Errorf("%w: %s", ErrNoActiveListing, assetID)
	}
	if err != nil {
		return model.Transition{}, err
	}
	if env.Sender == "" {
		return model.Transition{}, fmt.Errorf("%w: anonymous buyer", ErrUnauthorized)
	}

	if !Covers(env.Funds, listing.Price) {
		return model.Transition{}, fmt.Errorf("%w: price %s", ErrInsufficientFunds, listing.Price)
	}

	cfg, err := e.ledger.GetConfig(ctx)
	if err != nil {
		return model.Transition{}, fmt.Errorf("load config: %w", err)
	}

	// A listing outlives a transfer made outside the marketplace; such an
	// offer can no longer be honored.
	owner, err := e.owners.OwnerOf(ctx, cfg.NFTContract, assetID)
	if errors.Is(err, host.ErrUnknownToken) {
		return model.Transition{}, fmt.Errorf("%w: %s no longer exists", ErrNoActiveListing, assetID)
	}
	if err != nil {
		return model.Transition{}, fmt.Errorf("query owner of %s: %w", assetID, err)
	}
	if owner != listing.Seller {
		return model.Transition{}, fmt.Errorf("%w: %s no longer owned by seller", ErrNoActiveListing, assetID)
	}

	var t model.Transition
	t.Changes.DeleteListing(assetID)
	t.Instructions = []model.Instruction{
		model.TransferNFT(cfg.NFTContract, env.Sender, assetID),
		model.BankSend(listing.Seller, listing.Price),
	}
	t.Attributes = []model.Attribute{
		model.Attr("action", "buy_nft"),
		model.Attr("token_id", assetID),
		model.Attr("buyer", env.Sender),
		model.Attr("seller", listing.Seller),
		model.Attr("price", listing.Price.String()),
	}
	return t, nil
}

// Covers reports whether any coin in funds pays price.
func Covers(funds []model.Coin, price model.Coin) bool {
	for _, c := range funds {
		if c.Denom == price.Denom && c.Amount.GreaterThanOrEqual(price.Amount) {
			return true
		}
	}
	return false
}
