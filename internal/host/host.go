// Package host is the boundary to the execution environment that runs a
// transaction's outbound instructions. An Executor receives the complete
// instruction batch of one transaction and either runs all of it or none of
// it; the dispatcher discards the transaction's ledger writes when Execute
// fails.
package host

import (
	"context"
	"errors"

	"github.com/rwastockholm/custody-engine/internal/model"
)

// ErrRejected is returned when the host refuses an instruction batch.
var ErrRejected = errors.New("host: instruction batch rejected")

// ErrUnknownToken is returned by OwnerOf for a token the host has never seen.
var ErrUnknownToken = errors.New("host: unknown token")

// Deposit is an action From performed on a token contract in the same
// transaction, before the contract's own instructions run: a transfer into
// the contract ahead of a receive hook or a stake, or an approval that lets
// the contract move a listed asset.
type Deposit struct {
	From        string            `json:"from"`
	Instruction model.Instruction `json:"instruction"`
}

// Batch is everything one transaction asks the host to do.
type Batch struct {
	TxID         string              `json:"tx_id"`
	Env          model.Env           `json:"env"`
	Deposits     []Deposit           `json:"deposits,omitempty"`
	Instructions []model.Instruction `json:"instructions"`
}

// Executor runs instruction batches all-or-nothing.
type Executor interface {
	Execute(ctx context.Context, b Batch) error
}
