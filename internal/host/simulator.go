package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rwastockholm/custody-engine/internal/model"
)

// Simulator is an in-process host holding NFT ownership, NFT approvals,
// fungible token balances and native bank balances. An NFT moves only when
// the mover owns it or holds an approval for it, and the contract is no
// exception: it can sell a listed asset because listing approved it, and
// it can return a staked asset because staking moved it in.
//
// Execute debits the attached funds from the sender, applies deposits and
// then instructions in order; any failure restores the state it started
// from.
type Simulator struct {
	mu        sync.RWMutex
	nfts      map[string]map[string]string          // nft contract -> token id -> owner
	approvals map[string]map[string]string          // nft contract -> token id -> spender
	tokens    map[string]map[string]decimal.Decimal // token contract -> holder -> balance
	bank      map[string]map[string]decimal.Decimal // holder -> denom -> balance
}

// NewSimulator creates an empty simulated host.
func NewSimulator() *Simulator {
	return &Simulator{
		nfts:      make(map[string]map[string]string),
		approvals: make(map[string]map[string]string),
		tokens:    make(map[string]map[string]decimal.Decimal),
		bank:      make(map[string]map[string]decimal.Decimal),
	}
}

// MintNFT assigns tokenID on nftContract to owner.
func (s *Simulator) MintNFT(nftContract, tokenID, owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nfts[nftContract] == nil {
		s.nfts[nftContract] = make(map[string]string)
	}
	s.nfts[nftContract][tokenID] = owner
}

// MintTokens credits amount of tokenContract to holder.
func (s *Simulator) MintTokens(tokenContract, holder string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens[tokenContract] == nil {
		s.tokens[tokenContract] = make(map[string]decimal.Decimal)
	}
	s.tokens[tokenContract][holder] = s.tokens[tokenContract][holder].Add(amount)
}

// Fund credits native coins to holder.
func (s *Simulator) Fund(holder string, coins ...model.Coin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range coins {
		if s.bank[holder] == nil {
			s.bank[holder] = make(map[string]decimal.Decimal)
		}
		s.bank[holder][c.Denom] = s.bank[holder][c.Denom].Add(c.Amount)
	}
}

// OwnerOf implements the NFT ownership query.
func (s *Simulator) OwnerOf(_ context.Context, nftContract, tokenID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.nfts[nftContract][tokenID]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnknownToken, nftContract, tokenID)
	}
	return owner, nil
}

// TokenBalance returns holder's balance of tokenContract.
func (s *Simulator) TokenBalance(tokenContract, holder string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[tokenContract][holder]
}

// BankBalance returns holder's native balance of denom.
func (s *Simulator) BankBalance(holder, denom string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bank[holder][denom]
}

// Execute implements Executor.
func (s *Simulator) Execute(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := s.run(b); err != nil {
		s.restore(snap)
		slog.Warn("simulated host rejected batch", "tx_id", b.TxID, "err", err)
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return nil
}

func (s *Simulator) run(b Batch) error {
	for _, c := range b.Env.Funds {
		if err := s.send(b.Env.Sender, b.Env.Contract, c.Denom, c.Amount); err != nil {
			return fmt.Errorf("attach funds: %w", err)
		}
	}
	for _, d := range b.Deposits {
		if err := s.apply(d.From, d.Instruction); err != nil {
			return fmt.Errorf("deposit: %w", err)
		}
	}
	for i, in := range b.Instructions {
		if err := s.apply(b.Env.Contract, in); err != nil {
			return fmt.Errorf("instruction %d (%s): %w", i, in.Kind, err)
		}
	}
	return nil
}

// apply executes in on behalf of from.
func (s *Simulator) apply(from string, in model.Instruction) error {
	switch in.Kind {
	case model.InstructionBankSend:
		return s.send(from, in.Recipient, in.Denom, in.Amount)

	case model.InstructionTokenTransfer:
		balances := s.tokens[in.Contract]
		if balances == nil || balances[from].LessThan(in.Amount) {
			return fmt.Errorf("%s holds %s of %s, needs %s", from, balances[from], in.Contract, in.Amount)
		}
		balances[from] = balances[from].Sub(in.Amount)
		balances[in.Recipient] = balances[in.Recipient].Add(in.Amount)
		return nil

	case model.InstructionNFTTransfer:
		owners := s.nfts[in.Contract]
		owner, ok := owners[in.AssetID]
		if !ok {
			return fmt.Errorf("%w: %s/%s", ErrUnknownToken, in.Contract, in.AssetID)
		}
		spender, approved := s.approvals[in.Contract][in.AssetID]
		if owner != from && (!approved || spender != from) {
			return fmt.Errorf("%s neither owns nor is approved for %s", from, in.AssetID)
		}
		owners[in.AssetID] = in.Recipient
		delete(s.approvals[in.Contract], in.AssetID)
		return nil

	case model.InstructionNFTApprove:
		owner, ok := s.nfts[in.Contract][in.AssetID]
		if !ok {
			return fmt.Errorf("%w: %s/%s", ErrUnknownToken, in.Contract, in.AssetID)
		}
		if owner != from {
			return fmt.Errorf("%s does not own %s", from, in.AssetID)
		}
		if s.approvals[in.Contract] == nil {
			s.approvals[in.Contract] = make(map[string]string)
		}
		s.approvals[in.Contract][in.AssetID] = in.Recipient
		return nil
	}
	return fmt.Errorf("unsupported instruction kind %q", in.Kind)
}

func (s *Simulator) send(from, to, denom string, amount decimal.Decimal) error {
	if s.bank[from][denom].LessThan(amount) {
		return fmt.Errorf("%s holds %s%s, needs %s%s", from, s.bank[from][denom], denom, amount, denom)
	}
	for _, holder := range []string{from, to} {
		if s.bank[holder] == nil {
			s.bank[holder] = make(map[string]decimal.Decimal)
		}
	}
	s.bank[from][denom] = s.bank[from][denom].Sub(amount)
	s.bank[to][denom] = s.bank[to][denom].Add(amount)
	return nil
}

type simState struct {
	nfts      map[string]map[string]string
	approvals map[string]map[string]string
	tokens    map[string]map[string]decimal.Decimal
	bank      map[string]map[string]decimal.Decimal
}

func (s *Simulator) snapshot() simState {
	return simState{
		nfts:      cloneNested(s.nfts),
		approvals: cloneNested(s.approvals),
		tokens:    cloneNested(s.tokens),
		bank:      cloneNested(s.bank),
	}
}

func (s *Simulator) restore(st simState) {
	s.nfts = st.nfts
	s.approvals = st.approvals
	s.tokens = st.tokens
	s.bank = st.bank
}

func cloneNested[V any](m map[string]map[string]V) map[string]map[string]V {
	out := make(map[string]map[string]V, len(m))
	for k, inner := range m {
		c := make(map[string]V, len(inner))
		for ik, v := range inner {
			c[ik] = v
		}
		out[k] = c
	}
	return out
}
