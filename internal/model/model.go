// Package model defines the core domain types shared across the custody engine.
// All token amounts use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Coin is an amount of one native denomination.
type Coin struct {
	Amount decimal.Decimal `json:"amount"`
	Denom  string          `json:"denom"`
}

// NewCoin builds a coin from an integer amount.
func NewCoin(amount int64, denom string) Coin {
	return Coin{Amount: decimal.NewFromInt(amount), Denom: denom}
}

// String renders the coin the way the chain does: amount then denom, "100om".
func (c Coin) String() string {
	return c.Amount.String() + c.Denom
}

// Listing is an active offer to sell one non-fungible asset at a fixed price.
// At most one listing exists per asset id; the record is always stored under
// its own AssetID.
type Listing struct {
	AssetID  string    `json:"token_id" db:"asset_id"`
	Seller   string    `json:"seller" db:"seller"`
	Price    Coin      `json:"price"`
	ListedAt time.Time `json:"listed_at" db:"listed_at"`
}

// StakedPosition records custody of one asset deposited to earn rewards.
// Owner never changes for the life of the position.
type StakedPosition struct {
	Owner         string    `json:"owner" db:"owner"`
	AssetContract string    `json:"nft_contract" db:"asset_contract"`
	AssetID       string    `json:"token_id" db:"asset_id"`
	StakedSince   time.Time `json:"staked_since" db:"staked_since"`
	AccrualStart  time.Time `json:"accrual_start" db:"accrual_start"` // start of the unclaimed interval
}

// StakingSummary aggregates the staking ledger. TotalStaked always equals
// the number of StakedPosition records.
type StakingSummary struct {
	TotalStaked   uint64          `json:"total_staked" db:"total_staked"`
	RewardsFunded decimal.Decimal `json:"rewards_funded" db:"rewards_funded"`
	RewardsPaid   decimal.Decimal `json:"rewards_paid" db:"rewards_paid"`
}

// Custody records that an asset was transferred into the contract by
// Depositor through the receive hook and has not been released yet.
type Custody struct {
	AssetContract string    `json:"nft_contract" db:"asset_contract"`
	AssetID       string    `json:"token_id" db:"asset_id"`
	Depositor     string    `json:"depositor" db:"depositor"`
	ReceivedAt    time.Time `json:"received_at" db:"received_at"`
}

// Config is the contract configuration record.
type Config struct {
	Admin            string          `json:"admin" db:"admin"`
	NFTContract      string          `json:"nft_contract" db:"nft_contract"`
	RewardToken      string          `json:"reward_token" db:"reward_token"`
	RewardRatePerDay decimal.Decimal `json:"reward_rate_per_day" db:"reward_rate_per_day"`
	ExchangeRate     decimal.Decimal `json:"exchange_rate" db:"exchange_rate"`
	RequireCustody   bool            `json:"require_custody" db:"require_custody"`
}

// Env is what the host tells a transaction about its execution context.
type Env struct {
	Contract  string    `json:"contract"` // this contract's own address
	Sender    string    `json:"sender"`   // authenticated caller
	Funds     []Coin    `json:"funds,omitempty"`
	BlockTime time.Time `json:"block_time"`
}

// Attribute is a key/value pair describing what a transition did.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Attr is shorthand for building an Attribute.
func Attr(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}
