package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rwastockholm/custody-engine/internal/model"
)

// Msg is an inbound execute message. Exactly one field is set; the JSON
// form is the snake_case variant name wrapping its body, for example
// {"buy_nft":{"token_id":"7"}}.
type Msg struct {
	SetExchangeRate *RateMsg           `json:"set_exchange_rate,omitempty"`
	SetRewardRate   *RateMsg           `json:"set_reward_rate,omitempty"`
	ListNftForSale  *ListNftForSaleMsg `json:"list_nft_for_sale,omitempty"`
	BuyNft          *TokenMsg          `json:"buy_nft,omitempty"`
	StakeNft        *StakeNftMsg       `json:"stake_nft,omitempty"`
	UnstakeNft      *TokenMsg          `json:"unstake_nft,omitempty"`
	ClaimRewards    *TokenMsg          `json:"claim_rewards,omitempty"`
	ReceiveNft      *ReceiveNftMsg     `json:"receive_nft,omitempty"`
	Receive         *ReceiveMsg        `json:"receive,omitempty"`
}

type RateMsg struct {
	Rate decimal.Decimal `json:"rate"`
}

type TokenMsg struct {
	TokenID string `json:"token_id" validate:"required,max=128"`
}

type ListNftForSaleMsg struct {
	TokenID string     `json:"token_id" validate:"required,max=128"`
	Price   model.Coin `json:"price"`
}

type StakeNftMsg struct {
	NFTContract string `json:"nft_contract" validate:"required"`
	TokenID     string `json:"token_id" validate:"required,max=128"`
}

// ReceiveNftMsg is sent by an NFT contract after sender transferred
// TokenID to this contract. Msg is forwarded to the staking hook.
type ReceiveNftMsg struct {
	Sender  string          `json:"sender" validate:"required"`
	TokenID string          `json:"token_id" validate:"required,max=128"`
	Msg     json.RawMessage `json:"msg,omitempty"`
}

// ReceiveMsg is sent by a fungible token contract after sender transferred
// Amount to this contract.
type ReceiveMsg struct {
	Sender string          `json:"sender" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
	Msg    json.RawMessage `json:"msg,omitempty"`
}

// Action names the single variant set on m.
func (m Msg) Action() (string, error) {
	var names []string
	if m.SetExchangeRate != nil {
		names = append(names, "set_exchange_rate")
	}
	if m.SetRewardRate != nil {
		names = append(names, "set_reward_rate")
	}
	if m.ListNftForSale != nil {
		names = append(names, "list_nft_for_sale")
	}
	if m.BuyNft != nil {
		names = append(names, "buy_nft")
	}
	if m.StakeNft != nil {
		names = append(names, "stake_nft")
	}
	if m.UnstakeNft != nil {
		names = append(names, "unstake_nft")
	}
	if m.ClaimRewards != nil {
		names = append(names, "claim_rewards")
	}
	if m.ReceiveNft != nil {
		names = append(names, "receive_nft")
	}
	if m.Receive != nil {
		names = append(names, "receive")
	}

	if len(names) != 1 {
		return "", fmt.Errorf("%w: message must set exactly one action, got %v", model.ErrInvalidRequest, names)
	}
	return names[0], nil
}
