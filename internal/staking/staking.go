// Package staking custodies non-fungible assets over time and pays a daily
// reward in the configured fungible token.
//
// An asset reaches custody through the NFT contract's receive hook, which
// records the depositor. Staking then opens a position for that depositor,
// and unstaking closes it and returns the asset. Rewards accrue per whole
// day since the position's accrual start; a claim pays the whole days and
// moves the accrual start forward by exactly those days, so an interval is
// never paid twice and a partial day carries over.
package staking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rwastockholm/custody-engine/internal/contract"
	"github.com/rwastockholm/custody-engine/internal/guard"
	"github.com/rwastockholm/custody-engine/internal/model"
	"github.com/rwastockholm/custody-engine/internal/reward"
	"github.com/rwastockholm/custody-engine/internal/store"
)

var (
	ErrUnauthorized = model.NewError(model.CodeUnauthorized, "staking: caller is not the position owner")
	ErrNotStaked    = model.NewError(model.CodeNotStaked, "staking: asset is not staked")

	// ErrNotInCustody is returned when staking an asset the caller never
	// deposited through the receive hook.
	ErrNotInCustody = model.NewError(model.CodeUnauthorized, "staking: asset not deposited by caller")

	// ErrUnknownSender is returned when a receive hook is invoked by a
	// contract other than the configured one.
	ErrUnknownSender = model.NewError(model.CodeUnauthorized, "staking: hook called by unexpected contract")

	ErrInvalidTimestamp   = reward.ErrInvalidTimestamp
	ErrArithmeticOverflow = reward.ErrArithmeticOverflow
)

// Engine evaluates staking operations against the ledger.
type Engine struct {
	ledger store.Reader
}

// NewEngine creates a staking engine.
func NewEngine(ledger store.Reader) *Engine {
	return &Engine{ledger: ledger}
}

// ReceiveNftMsg is the payload an NFT contract forwards with a deposit.
// An empty payload only records custody.
type ReceiveNftMsg struct {
	Stake *struct{} `json:"stake,omitempty"`
}

// StakeNft opens a position on assetID for the caller. When the config
// requires custody, the caller must have deposited the asset from
// assetContract through ReceiveNft first. Otherwise a stake with no prior
// deposit takes custody itself: the transition records the caller as
// depositor and the asset moves to the contract in the same transaction.
// Re-staking an asset the caller already has staked restarts its accrual.
func (e *Engine) StakeNft(ctx context.Context, env model.Env, assetContract, assetID string) (model.Transition, error) {
	cfg, err := e.ledger.GetConfig(ctx)
	if err != nil {
		return model.Transition{}, fmt.Errorf("load config: %w", err)
	}

	custody, err := e.ledger.GetCustody(ctx, assetID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if cfg.RequireCustody {
			return model.Transition{}, fmt.Errorf("%w: %s", ErrNotInCustody, assetID)
		}
		custody = nil
	case err != nil:
		return model.Transition{}, err
	}

	t, err := e.stake(ctx, cfg, env.Sender, assetContract, assetID, env.BlockTime, custody)
	if err != nil || custody != nil {
		return t, err
	}
	t.Changes.PutCustody(model.Custody{
		AssetContract: assetContract,
		AssetID:       assetID,
		Depositor:     env.Sender,
		ReceivedAt:    env.BlockTime,
	})
	return t, nil
}

func (e *Engine) stake(ctx context.Context, cfg *model.Config, staker, assetContract, assetID string, now time.Time, custody *model.Custody) (model.Transition, error) {
	if staker == "" {
		return model.Transition{}, fmt.Errorf("%w: anonymous staker", ErrUnauthorized)
	}
	if custody == nil && cfg.RequireCustody {
		return model.Transition{}, fmt.Errorf("%w: %s", ErrNotInCustody, assetID)
	}
	if custody != nil && (custody.AssetContract != assetContract || !guard.Permits(staker, custody.Depositor)) {
		return model.Transition{}, fmt.Errorf("%w: %s from %s", ErrNotInCustody, assetID, assetContract)
	}

	existing, err := e.ledger.GetPosition(ctx, assetID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		existing = nil
	case err != nil:
		return model.Transition{}, err
	case !guard.Permits(staker, existing.Owner):
		return model.Transition{}, fmt.Errorf("%w: %s is staked by another owner", ErrUnauthorized, assetID)
	}

	summary, err := e.ledger.GetSummary(ctx)
	if err != nil {
		return model.Transition{}, fmt.Errorf("load summary: %w", err)
	}
	if existing == nil {
		summary.TotalStaked++
	}

	var t model.Transition
	t.Changes.PutPosition(model.StakedPosition{
		Owner:         staker,
		AssetContract: assetContract,
		AssetID:       assetID,
		StakedSince:   now,
		AccrualStart:  now,
	})
	t.Changes.PutSummary(*summary)
	t.Attributes = []model.Attribute{
		model.Attr("action", "stake_nft"),
		model.Attr("nft_contract_address", assetContract),
		model.Attr("token_id", assetID),
		model.Attr("staker", staker),
	}
	return t, nil
}

// UnstakeNft closes the caller's position on assetID and returns the asset.
// Rewards not claimed before unstaking are forfeited.
func (e *Engine) UnstakeNft(ctx context.Context, env model.Env, assetID string) (model.Transition, error) {
	pos, err := e.ownedPosition(ctx, env.Sender, assetID)
	if err != nil {
		return model.Transition{}, err
	}

	summary, err := e.ledger.GetSummary(ctx)
	if err != nil {
		return model.Transition{}, fmt.Errorf("load summary: %w", err)
	}
	if summary.TotalStaked > 0 {
		summary.TotalStaked--
	}

	var t model.Transition
	t.Changes.DeletePosition(assetID)
	t.Changes.DeleteCustody(assetID)
	t.Changes.PutSummary(*summary)
	t.Instructions = []model.Instruction{
		model.TransferNFT(pos.AssetContract, env.Sender, assetID),
	}
	t.Attributes = []model.Attribute{
		model.Attr("action", "unstake_nft"),
		model.Attr("token_id", assetID),
		model.Attr("staker", env.Sender),
	}
	return t, nil
}

// ClaimRewards pays the caller the reward accrued on assetID since the last
// claim. A claim made before a whole day has passed succeeds with a zero
// reward and changes nothing.
func (e *Engine) ClaimRewards(ctx context.Context, env model.Env, assetID string) (model.Transition, error) {
	pos, err := e.ownedPosition(ctx, env.Sender, assetID)
	if err != nil {
		return model.Transition{}, err
	}

	cfg, err := e.ledger.GetConfig(ctx)
	if err != nil {
		return model.Transition{}, fmt.Errorf("load config: %w", err)
	}

	acc, err := reward.Accrue(cfg.RewardRatePerDay, pos.AccrualStart, env.BlockTime)
	if err != nil {
		return model.Transition{}, err
	}

	t := model.Transition{
		Attributes: []model.Attribute{
			model.Attr("action", "claim_rewards"),
			model.Attr("token_id", assetID),
			model.Attr("rewards", acc.Reward.String()),
			model.Attr("days", strconv.FormatInt(acc.Days, 10)),
		},
	}
	if acc.Reward.IsZero() {
		return t, nil
	}

	summary, err := e.ledger.GetSummary(ctx)
	if err != nil {
		return model.Transition{}, fmt.Errorf("load summary: %w", err)
	}
	if summary.RewardsPaid, err = reward.CheckedAdd(summary.RewardsPaid, acc.Reward); err != nil {
		return model.Transition{}, err
	}

	pos.AccrualStart = acc.Through
	t.Changes.PutPosition(*pos)
	t.Changes.PutSummary(*summary)
	t.Instructions = []model.Instruction{
		model.TransferToken(cfg.RewardToken, env.Sender, acc.Reward),
	}
	return t, nil
}

// PendingRewards evaluates what ClaimRewards would pay for assetID at now.
func (e *Engine) PendingRewards(ctx context.Context, assetID string, now time.Time) (reward.Accrual, error) {
	pos, err := e.ledger.GetPosition(ctx, assetID)
	if errors.Is(err, store.ErrNotFound) {
		return reward.Accrual{}, fmt.Errorf("%w: %s", ErrNotStaked, assetID)
	}
	if err != nil {
		return reward.Accrual{}, err
	}

	cfg, err := e.ledger.GetConfig(ctx)
	if err != nil {
		return reward.Accrual{}, fmt.Errorf("load config: %w", err)
	}
	return reward.Accrue(cfg.RewardRatePerDay, pos.AccrualStart, now)
}

// ReceiveNft handles the NFT contract's notification that sender
// transferred assetID to this contract. env.Sender is the NFT contract.
// The deposit is recorded as custody for sender; a {"stake":{}} payload
// stakes the asset in the same transition.
func (e *Engine) ReceiveNft(ctx context.Context, env model.Env, sender, assetID string, msg json.RawMessage) (model.Transition, error) {
	cfg, err := e.ledger.GetConfig(ctx)
	if err != nil {
		return model.Transition{}, fmt.Errorf("load config: %w", err)
	}
	if !guard.Permits(env.Sender, cfg.NFTContract) {
		return model.Transition{}, fmt.Errorf("%w: %s", ErrUnknownSender, env.Sender)
	}
	if sender == "" {
		return model.Transition{}, fmt.Errorf("%w: empty depositor", model.ErrInvalidRequest)
	}

	hook, err := decodeReceiveNft(msg)
	if err != nil {
		return model.Transition{}, err
	}

	custody := model.Custody{
		AssetContract: env.Sender,
		AssetID:       assetID,
		Depositor:     sender,
		ReceivedAt:    env.BlockTime,
	}

	var t model.Transition
	t.Changes.PutCustody(custody)
	t.Attributes = []model.Attribute{
		model.Attr("action", "receive_nft"),
		model.Attr("token_id", assetID),
		model.Attr("depositor", sender),
	}

	if hook.Stake == nil {
		return t, nil
	}

	staked, err := e.stake(ctx, cfg, sender, env.Sender, assetID, env.BlockTime, &custody)
	if err != nil {
		return model.Transition{}, err
	}
	t.Changes.Merge(staked.Changes)
	t.Attributes = append(t.Attributes, staked.Attributes...)
	return t, nil
}

// ReceiveToken handles a fungible token deposit. Only the configured reward
// token is accepted; the amount funds future reward payouts.
func (e *Engine) ReceiveToken(ctx context.Context, env model.Env, sender string, amount decimal.Decimal) (model.Transition, error) {
	cfg, err := e.ledger.GetConfig(ctx)
	if err != nil {
		return model.Transition{}, fmt.Errorf("load config: %w", err)
	}
	if !guard.Permits(env.Sender, cfg.RewardToken) {
		return model.Transition{}, fmt.Errorf("%w: %s", ErrUnknownSender, env.Sender)
	}
	if err := contract.ValidateAmount(amount, false); err != nil {
		return model.Transition{}, err
	}

	summary, err := e.ledger.GetSummary(ctx)
	if err != nil {
		return model.Transition{}, fmt.Errorf("load summary: %w", err)
	}
	if summary.RewardsFunded, err = reward.CheckedAdd(summary.RewardsFunded, amount); err != nil {
		return model.Transition{}, err
	}

	var t model.Transition
	t.Changes.PutSummary(*summary)
	t.Attributes = []model.Attribute{
		model.Attr("action", "receive"),
		model.Attr("from", sender),
		model.Attr("amount", amount.String()),
	}
	return t, nil
}

// ownedPosition loads the position on assetID and checks that caller owns it.
func (e *Engine) ownedPosition(ctx context.Context, caller, assetID string) (*model.StakedPosition, error) {
	pos, err := e.ledger.GetPosition(ctx, assetID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotStaked, assetID)
	}
	if err != nil {
		return nil, err
	}
	if !guard.Permits(caller, pos.Owner) {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	return pos, nil
}

func decodeReceiveNft(msg json.RawMessage) (ReceiveNftMsg, error) {
	var hook ReceiveNftMsg
	if len(bytes.TrimSpace(msg)) == 0 {
		return hook, nil
	}
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&hook); err != nil {
		return hook, fmt.Errorf("%w: receive_nft msg: %v", model.ErrInvalidRequest, err)
	}
	return hook, nil
}
