package market

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwastockholm/custody-engine/internal/host"
	"github.com/rwastockholm/custody-engine/internal/model"
	"github.com/rwastockholm/custody-engine/internal/store"
)

const (
	nftContract = "mantra1nftcontract"
	seller      = "mantra1seller00"
	buyer       = "mantra1buyer000"
)

var now = time.Unix(1_700_000_000, 0).UTC()

type owners map[string]string

func (o owners) OwnerOf(_ context.Context, _, assetID string) (string, error) {
	owner, ok := o[assetID]
	if !ok {
		return "", fmt.Errorf("%w: %s", host.ErrUnknownToken, assetID)
	}
	return owner, nil
}

type failingOwners struct{ err error }

func (f failingOwners) OwnerOf(context.Context, string, string) (string, error) {
	return "", f.err
}

// d is a test helper for creating decimals from int64.
func d(i int64) decimal.Decimal {
	return decimal.NewFromInt(i)
}

func setup(t *testing.T) (*Engine, *store.MemoryStore, owners) {
	t.Helper()
	st := store.NewMemoryStore()
	var cs model.ChangeSet
	cs.PutConfig(model.Config{Admin: "mantra1admin000", NFTContract: nftContract})
	require.NoError(t, st.Apply(context.Background(), cs, nil))

	o := owners{"1": seller, "2": seller}
	return NewEngine(st, o), st, o
}

func env(sender string, funds ...model.Coin) model.Env {
	return model.Env{Contract: "mantra1marketplace", Sender: sender, Funds: funds, BlockTime: now}
}

func apply(t *testing.T, st store.Store, tr model.Transition) {
	t.Helper()
	require.NoError(t, st.Apply(context.Background(), tr.Changes, nil))
}

func TestListForSale_OwnerCreatesListing(t *testing.T) {
	ctx := context.Background()
	e, st, _ := setup(t)

	tr, err := e.ListForSale(ctx, env(seller), "1", model.NewCoin(100, "om"))
	require.NoError(t, err)
	assert.Empty(t, tr.Instructions, "listing emits no instructions")
	apply(t, st, tr)

	l, err := st.GetListing(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "1", l.AssetID)
	assert.Equal(t, seller, l.Seller)
	assert.True(t, l.Price.Amount.Equal(d(100)))
	assert.Contains(t, tr.Attributes, model.Attr("price", "100om"))
}

func TestListForSale_NonOwnerUnauthorized(t *testing.T) {
	ctx := context.Background()
	e, st, _ := setup(t)

	tr, err := e.ListForSale(ctx, env(buyer), "1", model.NewCoin(100, "om"))
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, model.CodeUnauthorized, model.CodeOf(err))
	assert.True(t, tr.Changes.Empty())

	_, err = st.GetListing(ctx, "1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListForSale_UnmintedAssetUnauthorized(t *testing.T) {
	e, _, _ := setup(t)

	_, err := e.ListForSale(context.Background(), env(seller), "999", model.NewCoin(100, "om"))
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, model.CodeUnauthorized, model.CodeOf(err))
}

func TestListForSale_OwnerQueryFailurePassesThrough(t *testing.T) {
	boom := errors.New("ownership feed unavailable")
	st := store.NewMemoryStore()
	var cs model.ChangeSet
	cs.PutConfig(model.Config{Admin: "mantra1admin000", NFTContract: nftContract})
	require.NoError(t, st.Apply(context.Background(), cs, nil))
	e := NewEngine(st, failingOwners{boom})

	_, err := e.ListForSale(context.Background(), env(seller), "1", model.NewCoin(100, "om"))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, model.CodeOf(err))
}

func TestListForSale_RejectsZeroPrice(t *testing.T) {
	e, _, _ := setup(t)
	_, err := e.ListForSale(context.Background(), env(seller), "1", model.NewCoin(0, "om"))
	assert.Equal(t, model.CodeInvalidRequest, model.CodeOf(err))
}

func TestListForSale_RelistOverwrites(t *testing.T) {
	ctx := context.Background()
	e, st, _ := setup(t)

	tr, err := e.ListForSale(ctx, env(seller), "1", model.NewCoin(100, "om"))
	require.NoError(t, err)
	apply(t, st, tr)

	tr, err = e.ListForSale(ctx, env(seller), "1", model.NewCoin(80, "om"))
	require.NoError(t, err)
	apply(t, st, tr)

	listings, err := st.ListListings(ctx)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.True(t, listings[0].Price.Amount.Equal(d(80)))
}

// Each asset has its own listing; buying one never touches another.
func TestListings_KeyedByAsset(t *testing.T) {
	ctx := context.Background()
	e, st, _ := setup(t)

	for _, id := range []string{"1", "2"} {
		tr, err := e.ListForSale(ctx, env(seller), id, model.NewCoin(100, "om"))
		require.NoError(t, err)
		apply(t, st, tr)
	}

	tr, err := e.BuyNft(ctx, env(buyer, model.NewCoin(100, "om")), "2")
	require.NoError(t, err)
	apply(t, st, tr)

	_, err = st.GetListing(ctx, "1")
	assert.NoError(t, err, "listing 1 must survive the purchase of 2")
	_, err = st.GetListing(ctx, "2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBuyNft_OverpaymentPaysListedPrice(t *testing.T) {
	ctx := context.Background()
	e, st, _ := setup(t)

	tr, err := e.ListForSale(ctx, env(seller), "1", model.NewCoin(100, "om"))
	require.NoError(t, err)
	apply(t, st, tr)

	tr, err = e.BuyNft(ctx, env(buyer, model.NewCoin(150, "om")), "1")
	require.NoError(t, err)

	require.Len(t, tr.Instructions, 2)
	nft, pay := tr.Instructions[0], tr.Instructions[1]

	assert.Equal(t, model.InstructionNFTTransfer, nft.Kind)
	assert.Equal(t, nftContract, nft.Contract)
	assert.Equal(t, buyer, nft.Recipient)
	assert.Equal(t, "1", nft.AssetID)

	assert.Equal(t, model.InstructionBankSend, pay.Kind)
	assert.Equal(t, seller, pay.Recipient)
	assert.Equal(t, "om", pay.Denom)
	assert.True(t, pay.Amount.Equal(d(100)), "seller gets the listed price, not the offer: %s", pay.Amount)

	require.Contains(t, tr.Changes.Listings, "1")
	assert.Nil(t, tr.Changes.Listings["1"], "listing is deleted in the same transition")
}

func TestBuyNft_InsufficientFundsMutatesNothing(t *testing.T) {
	ctx := context.Background()
	e, st, _ := setup(t)

	tr, err := e.ListForSale(ctx, env(seller), "1", model.NewCoin(100, "om"))
	require.NoError(t, err)
	apply(t, st, tr)

	offers := [][]model.Coin{
		nil,
		{model.NewCoin(99, "om")},
		{model.NewCoin(500, "uusdc")},
		{model.NewCoin(50, "om"), model.NewCoin(60, "om")},
	}
	for _, funds := range offers {
		tr, err := e.BuyNft(ctx, env(buyer, funds...), "1")
		assert.ErrorIs(t, err, ErrInsufficientFunds, "funds %v", funds)
		assert.Empty(t, tr.Instructions)
		assert.True(t, tr.Changes.Empty())
	}

	l, err := st.GetListing(ctx, "1")
	require.NoError(t, err)
	assert.True(t, l.Price.Amount.Equal(d(100)))
}

func TestBuyNft_UnknownAssetIsNoActiveListing(t *testing.T) {
	e, _, _ := setup(t)

	for _, funds := range [][]model.Coin{nil, {model.NewCoin(1_000_000, "om")}} {
		_, err := e.BuyNft(context.Background(), env(buyer, funds...), "404")
		assert.ErrorIs(t, err, ErrNoActiveListing)
		assert.Equal(t, model.CodeNoActiveListing, model.CodeOf(err))
	}
}

func TestBuyNft_AnonymousBuyerOfMissingAsset(t *testing.T) {
	e, _, _ := setup(t)

	_, err := e.BuyNft(context.Background(), env(""), "404")
	assert.ErrorIs(t, err, ErrNoActiveListing)
	assert.Equal(t, model.CodeNoActiveListing, model.CodeOf(err))
}

func TestBuyNft_AnonymousBuyerOfListedAsset(t *testing.T) {
	ctx := context.Background()
	e, st, _ := setup(t)

	tr, err := e.ListForSale(ctx, env(seller), "1", model.NewCoin(100, "om"))
	require.NoError(t, err)
	apply(t, st, tr)

	_, err = e.BuyNft(ctx, env("", model.NewCoin(100, "om")), "1")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestBuyNft_BurnedAssetIsNoActiveListing(t *testing.T) {
	ctx := context.Background()
	e, st, o := setup(t)

	tr, err := e.ListForSale(ctx, env(seller), "1", model.NewCoin(100, "om"))
	require.NoError(t, err)
	apply(t, st, tr)

	delete(o, "1")

	_, err = e.BuyNft(ctx, env(buyer, model.NewCoin(100, "om")), "1")
	assert.ErrorIs(t, err, ErrNoActiveListing)
	assert.Equal(t, model.CodeNoActiveListing, model.CodeOf(err))
}

func TestBuyNft_StaleListing(t *testing.T) {
	ctx := context.Background()
	e, st, o := setup(t)

	tr, err := e.ListForSale(ctx, env(seller), "1", model.NewCoin(100, "om"))
	require.NoError(t, err)
	apply(t, st, tr)

	o["1"] = "mantra1someoneelse"

	_, err = e.BuyNft(ctx, env(buyer, model.NewCoin(100, "om")), "1")
	assert.ErrorIs(t, err, ErrNoActiveListing)
}

func TestCovers(t *testing.T) {
	price := model.NewCoin(100, "om")
	assert.True(t, Covers([]model.Coin{model.NewCoin(100, "om")}, price))
	assert.True(t, Covers([]model.Coin{model.NewCoin(1, "uusdc"), model.NewCoin(101, "om")}, price))
	assert.False(t, Covers([]model.Coin{model.NewCoin(100, "uom")}, price))
	assert.False(t, Covers(nil, price))
}
