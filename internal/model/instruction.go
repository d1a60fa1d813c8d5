package model

import (
	"github.com/shopspring/decimal"
)

// InstructionKind classifies an outbound instruction by the collaborator
// that executes it.
type InstructionKind string

const (
	InstructionTokenTransfer InstructionKind = "token_transfer"
	InstructionNFTTransfer   InstructionKind = "nft_transfer"
	InstructionNFTApprove    InstructionKind = "nft_approve"
	InstructionBankSend      InstructionKind = "bank_send"
)

// Instruction is an outbound transfer effect handed to the host. The host
// runs a transaction's instructions after the ledger writes are staged and
// discards both if any instruction fails.
type Instruction struct {
	Kind      InstructionKind `json:"kind"`
	Contract  string          `json:"contract,omitempty"` // token or NFT contract; empty for bank sends
	Recipient string          `json:"recipient"`
	AssetID   string          `json:"token_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Denom     string          `json:"denom,omitempty"`
}

// TransferToken moves amount of a fungible token contract to recipient.
func TransferToken(contract, recipient string, amount decimal.Decimal) Instruction {
	return Instruction{
		Kind:      InstructionTokenTransfer,
		Contract:  contract,
		Recipient: recipient,
		Amount:    amount,
	}
}

// TransferNFT moves ownership of one non-fungible asset to recipient.
func TransferNFT(contract, recipient, assetID string) Instruction {
	return Instruction{
		Kind:      InstructionNFTTransfer,
		Contract:  contract,
		Recipient: recipient,
		AssetID:   assetID,
		Amount:    decimal.NewFromInt(1),
	}
}

// ApproveNFT lets spender transfer one non-fungible asset on the owner's
// behalf. The approval is consumed by the next transfer of the asset.
func ApproveNFT(contract, spender, assetID string) Instruction {
	return Instruction{
		Kind:      InstructionNFTApprove,
		Contract:  contract,
		Recipient: spender,
		AssetID:   assetID,
		Amount:    decimal.NewFromInt(1),
	}
}

// BankSend pays native currency to recipient.
func BankSend(recipient string, coin Coin) Instruction {
	return Instruction{
		Kind:      InstructionBankSend,
		Recipient: recipient,
		Amount:    coin.Amount,
		Denom:     coin.Denom,
	}
}
