// Package dispatch is the transaction boundary of the custody engine.
//
// Every execute message runs under one lock: the dispatcher builds the
// environment (caller, attached funds, block time), routes the message to
// the listing or staking engine, and applies the returned ledger writes
// through store.Apply with a commit hook that hands the instruction batch
// to the host. If the host rejects the batch the store discards the writes,
// so a transaction either commits entirely or leaves no trace.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rwastockholm/custody-engine/internal/host"
	"github.com/rwastockholm/custody-engine/internal/market"
	"github.com/rwastockholm/custody-engine/internal/metrics"
	"github.com/rwastockholm/custody-engine/internal/model"
	"github.com/rwastockholm/custody-engine/internal/reward"
	"github.com/rwastockholm/custody-engine/internal/staking"
	"github.com/rwastockholm/custody-engine/internal/store"
)

// ErrHostRejected wraps a host failure that rolled a transaction back.
var ErrHostRejected = errors.New("dispatch: host rejected transaction")

// Result describes a committed transaction.
type Result struct {
	TxID         string              `json:"tx_id"`
	Action       string              `json:"action"`
	Sender       string              `json:"sender"`
	BlockTime    time.Time           `json:"block_time"`
	Instructions []model.Instruction `json:"instructions"`
	Attributes   []model.Attribute   `json:"attributes"`
}

// Options configures a Dispatcher.
type Options struct {
	// Contract is this contract's own address, the recipient of attached
	// funds and deposits.
	Contract string

	// Clock returns the current block time. Defaults to time.Now.
	Clock func() time.Time

	// OnCommit, if set, is called with every committed transaction after
	// the lock is released.
	OnCommit func(Result)
}

// Dispatcher serializes execute messages against one contract instance.
// Uses a mutex for serialized execution (single-instance). For horizontal
// scaling, replace with database-level locking around Apply.
type Dispatcher struct {
	mu       sync.Mutex
	store    store.Store
	host     host.Executor
	market   *market.Engine
	staking  *staking.Engine
	contract string
	clock    func() time.Time
	onCommit func(Result)
}

// New creates a dispatcher. owners answers NFT ownership queries for the
// listing engine.
func New(st store.Store, exec host.Executor, owners market.OwnerQuerier, opts Options) *Dispatcher {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Dispatcher{
		store:    st,
		host:     exec,
		market:   market.NewEngine(st, owners),
		staking:  staking.NewEngine(st),
		contract: opts.Contract,
		clock:    clock,
		onCommit: opts.OnCommit,
	}
}

// Instantiate writes the initial config and a zero summary unless the
// contract already has a config. It reports whether anything was written.
func (d *Dispatcher) Instantiate(ctx context.Context, cfg model.Config) (bool, error) {
	if err := validateConfig(cfg); err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.store.GetConfig(ctx)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	var cs model.ChangeSet
	cs.PutConfig(cfg)
	cs.PutSummary(model.StakingSummary{})
	if err := d.store.Apply(ctx, cs, nil); err != nil {
		return false, fmt.Errorf("instantiate: %w", err)
	}

	slog.Info("contract instantiated",
		"admin", cfg.Admin,
		"nft_contract", cfg.NFTContract,
		"reward_token", cfg.RewardToken,
		"reward_rate_per_day", cfg.RewardRatePerDay.String(),
		"require_custody", cfg.RequireCustody,
	)
	return true, nil
}

// Execute runs msg on behalf of sender with funds attached.
func (d *Dispatcher) Execute(ctx context.Context, sender string, funds []model.Coin, msg Msg) (*Result, error) {
	action, err := msg.Action()
	if err != nil {
		return nil, err
	}

	res, err := d.execute(ctx, action, sender, funds, msg)
	if err != nil {
		return nil, err
	}
	if d.onCommit != nil {
		d.onCommit(*res)
	}
	return res, nil
}

func (d *Dispatcher) execute(ctx context.Context, action, sender string, funds []model.Coin, msg Msg) (*Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	defer func() {
		metrics.TransactionLatency.WithLabelValues(action).Observe(time.Since(start).Seconds())
	}()

	env := model.Env{
		Contract:  d.contract,
		Sender:    sender,
		Funds:     funds,
		BlockTime: d.clock().UTC().Truncate(time.Second),
	}

	tr, deposits, err := d.route(ctx, env, msg)
	if err != nil {
		metrics.TransactionsTotal.WithLabelValues(action, "rejected").Inc()
		slog.Warn("transaction rejected",
			"action", action,
			"sender", sender,
			"code", string(model.CodeOf(err)),
			"err", err,
		)
		return nil, err
	}

	batch := host.Batch{
		TxID:         uuid.New().String(),
		Env:          env,
		Deposits:     deposits,
		Instructions: tr.Instructions,
	}

	commit := func(ctx context.Context) error {
		if len(batch.Env.Funds) == 0 && len(batch.Deposits) == 0 && len(batch.Instructions) == 0 {
			return nil
		}
		if err := d.host.Execute(ctx, batch); err != nil {
			return fmt.Errorf("%w: %w", ErrHostRejected, err)
		}
		return nil
	}

	if err := d.store.Apply(ctx, tr.Changes, commit); err != nil {
		outcome := "failed"
		if errors.Is(err, ErrHostRejected) {
			outcome = "host_failed"
		}
		metrics.TransactionsTotal.WithLabelValues(action, outcome).Inc()
		slog.Error("transaction rolled back", "tx_id", batch.TxID, "action", action, "err", err)
		return nil, err
	}

	metrics.TransactionsTotal.WithLabelValues(action, "committed").Inc()
	d.observe(ctx, tr)

	slog.Info("transaction committed",
		"tx_id", batch.TxID,
		"action", action,
		"sender", sender,
		"instructions", len(tr.Instructions),
		"attributes", attrsToLog(tr.Attributes),
	)

	return &Result{
		TxID:         batch.TxID,
		Action:       action,
		Sender:       sender,
		BlockTime:    env.BlockTime,
		Instructions: nonNil(tr.Instructions),
		Attributes:   tr.Attributes,
	}, nil
}

// route evaluates msg and returns the transition plus the deposits made on
// token contracts in the same transaction: the transfer behind a receive
// hook, the asset a stake takes into custody, or the approval a listing
// grants the contract.
func (d *Dispatcher) route(ctx context.Context, env model.Env, msg Msg) (model.Transition, []host.Deposit, error) {
	switch {
	case msg.ListNftForSale != nil:
		m := msg.ListNftForSale
		tr, err := d.market.ListForSale(ctx, env, m.TokenID, m.Price)
		if err != nil {
			return tr, nil, err
		}
		cfg, err := d.store.GetConfig(ctx)
		if err != nil {
			return model.Transition{}, nil, fmt.Errorf("load config: %w", err)
		}
		approval := host.Deposit{From: env.Sender, Instruction: model.ApproveNFT(cfg.NFTContract, env.Contract, m.TokenID)}
		return tr, []host.Deposit{approval}, nil

	case msg.BuyNft != nil:
		tr, err := d.market.BuyNft(ctx, env, msg.BuyNft.TokenID)
		return tr, nil, err

	case msg.StakeNft != nil:
		m := msg.StakeNft
		tr, err := d.staking.StakeNft(ctx, env, m.NFTContract, m.TokenID)
		if err != nil || tr.Changes.Custody[m.TokenID] == nil {
			return tr, nil, err
		}
		// The stake took custody itself; the staker hands the asset over.
		deposit := host.Deposit{From: env.Sender, Instruction: model.TransferNFT(m.NFTContract, env.Contract, m.TokenID)}
		return tr, []host.Deposit{deposit}, nil

	case msg.UnstakeNft != nil:
		tr, err := d.staking.UnstakeNft(ctx, env, msg.UnstakeNft.TokenID)
		return tr, nil, err

	case msg.ClaimRewards != nil:
		tr, err := d.staking.ClaimRewards(ctx, env, msg.ClaimRewards.TokenID)
		return tr, nil, err

	case msg.ReceiveNft != nil:
		m := msg.ReceiveNft
		tr, err := d.staking.ReceiveNft(ctx, env, m.Sender, m.TokenID, m.Msg)
		deposit := host.Deposit{From: m.Sender, Instruction: model.TransferNFT(env.Sender, env.Contract, m.TokenID)}
		return tr, []host.Deposit{deposit}, err

	case msg.Receive != nil:
		m := msg.Receive
		tr, err := d.staking.ReceiveToken(ctx, env, m.Sender, m.Amount)
		deposit := host.Deposit{From: m.Sender, Instruction: model.TransferToken(env.Sender, env.Contract, m.Amount)}
		return tr, []host.Deposit{deposit}, err

	case msg.SetExchangeRate != nil, msg.SetRewardRate != nil:
		cfg, err := d.store.GetConfig(ctx)
		if err != nil {
			return model.Transition{}, nil, fmt.Errorf("load config: %w", err)
		}
		if msg.SetExchangeRate != nil {
			tr, err := setExchangeRate(cfg, env, msg.SetExchangeRate.Rate)
			return tr, nil, err
		}
		tr, err := setRewardRate(cfg, env, msg.SetRewardRate.Rate)
		return tr, nil, err
	}
	return model.Transition{}, nil, fmt.Errorf("%w: empty message", model.ErrInvalidRequest)
}

// observe refreshes gauges after a commit.
func (d *Dispatcher) observe(ctx context.Context, tr model.Transition) {
	for _, in := range tr.Instructions {
		metrics.InstructionsTotal.WithLabelValues(string(in.Kind)).Inc()
		if in.Kind == model.InstructionTokenTransfer {
			metrics.RewardsPaid.Add(in.Amount.InexactFloat64())
		}
	}
	if tr.Changes.Summary != nil {
		metrics.StakedPositions.Set(float64(tr.Changes.Summary.TotalStaked))
	}
	if len(tr.Changes.Listings) > 0 {
		if listings, err := d.store.ListListings(ctx); err == nil {
			metrics.ActiveListings.Set(float64(len(listings)))
		}
	}
}

// --- Queries ---

// Listing returns the active listing of assetID.
func (d *Dispatcher) Listing(ctx context.Context, assetID string) (*model.Listing, error) {
	return d.store.GetListing(ctx, assetID)
}

// Listings returns every active listing.
func (d *Dispatcher) Listings(ctx context.Context) ([]model.Listing, error) {
	return d.store.ListListings(ctx)
}

// Position returns the staked position on assetID.
func (d *Dispatcher) Position(ctx context.Context, assetID string) (*model.StakedPosition, error) {
	return d.store.GetPosition(ctx, assetID)
}

// Positions returns the staked positions of owner, or all when owner is empty.
func (d *Dispatcher) Positions(ctx context.Context, owner string) ([]model.StakedPosition, error) {
	return d.store.ListPositions(ctx, owner)
}

// Summary returns the staking totals.
func (d *Dispatcher) Summary(ctx context.Context) (*model.StakingSummary, error) {
	return d.store.GetSummary(ctx)
}

// Config returns the contract config.
func (d *Dispatcher) Config(ctx context.Context) (*model.Config, error) {
	return d.store.GetConfig(ctx)
}

// PendingRewards evaluates the claimable reward of assetID at the current
// block time.
func (d *Dispatcher) PendingRewards(ctx context.Context, assetID string) (reward.Accrual, error) {
	return d.staking.PendingRewards(ctx, assetID, d.clock().UTC().Truncate(time.Second))
}

func attrsToLog(attrs []model.Attribute) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.Key] = a.Value
	}
	return m
}

func nonNil(in []model.Instruction) []model.Instruction {
	if in == nil {
		return []model.Instruction{}
	}
	return in
}
