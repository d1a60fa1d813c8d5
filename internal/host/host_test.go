package host

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwastockholm/custody-engine/internal/model"
)

const (
	self   = "mantra1contract00"
	nft    = "mantra1nftcontract"
	om     = "mantra1omtoken000"
	seller = "mantra1seller00"
	buyer  = "mantra1buyer000"
)

// d is a test helper for creating decimals from int64.
func d(i int64) decimal.Decimal {
	return decimal.NewFromInt(i)
}

func saleBatch(funds ...model.Coin) Batch {
	return Batch{
		TxID: "tx-1",
		Env:  model.Env{Contract: self, Sender: buyer, Funds: funds},
		Instructions: []model.Instruction{
			model.TransferNFT(nft, buyer, "1"),
			model.BankSend(seller, model.NewCoin(100, "om")),
		},
	}
}

// approve has the seller approve the contract for asset 1, as listing does.
func approve(t *testing.T, s *Simulator) {
	t.Helper()
	require.NoError(t, s.Execute(context.Background(), Batch{
		TxID:     "tx-list",
		Env:      model.Env{Contract: self, Sender: seller},
		Deposits: []Deposit{{From: seller, Instruction: model.ApproveNFT(nft, self, "1")}},
	}))
}

func TestSimulator_ExecuteSale(t *testing.T) {
	s := NewSimulator()
	s.MintNFT(nft, "1", seller)
	approve(t, s)
	s.Fund(buyer, model.NewCoin(150, "om"))

	require.NoError(t, s.Execute(context.Background(), saleBatch(model.NewCoin(150, "om"))))

	owner, err := s.OwnerOf(context.Background(), nft, "1")
	require.NoError(t, err)
	assert.Equal(t, buyer, owner)
	assert.True(t, s.BankBalance(seller, "om").Equal(d(100)))
	assert.True(t, s.BankBalance(self, "om").Equal(d(50)), "overpayment stays with the contract")
	assert.True(t, s.BankBalance(buyer, "om").IsZero())
}

func TestSimulator_FailureRestoresEverything(t *testing.T) {
	s := NewSimulator()
	s.MintNFT(nft, "1", seller)
	approve(t, s)
	s.Fund(buyer, model.NewCoin(150, "om"))

	b := saleBatch(model.NewCoin(150, "om"))
	b.Instructions = append(b.Instructions, model.TransferNFT(nft, buyer, "missing"))

	err := s.Execute(context.Background(), b)
	assert.ErrorIs(t, err, ErrRejected)

	owner, _ := s.OwnerOf(context.Background(), nft, "1")
	assert.Equal(t, seller, owner, "nft transfer must be undone")
	assert.True(t, s.BankBalance(buyer, "om").Equal(d(150)), "attached funds must be returned")
	assert.True(t, s.BankBalance(seller, "om").IsZero())

	// The approval consumed by the failed transfer is back.
	require.NoError(t, s.Execute(context.Background(), saleBatch(model.NewCoin(150, "om"))))
}

func TestSimulator_ContractCannotMoveUnapprovedNFT(t *testing.T) {
	s := NewSimulator()
	s.MintNFT(nft, "1", seller)
	s.Fund(buyer, model.NewCoin(150, "om"))

	err := s.Execute(context.Background(), saleBatch(model.NewCoin(150, "om")))
	assert.ErrorIs(t, err, ErrRejected)

	owner, _ := s.OwnerOf(context.Background(), nft, "1")
	assert.Equal(t, seller, owner)
	assert.True(t, s.BankBalance(buyer, "om").Equal(d(150)))
}

func TestSimulator_ApprovalIsSingleUse(t *testing.T) {
	s := NewSimulator()
	s.MintNFT(nft, "1", seller)
	approve(t, s)
	s.Fund(buyer, model.NewCoin(300, "om"))

	require.NoError(t, s.Execute(context.Background(), saleBatch(model.NewCoin(150, "om"))))

	// The contract may not move the asset again out of the buyer's hands.
	steal := Batch{
		TxID:         "tx-2",
		Env:          model.Env{Contract: self, Sender: seller},
		Instructions: []model.Instruction{model.TransferNFT(nft, seller, "1")},
	}
	assert.ErrorIs(t, s.Execute(context.Background(), steal), ErrRejected)

	owner, _ := s.OwnerOf(context.Background(), nft, "1")
	assert.Equal(t, buyer, owner)
}

func TestSimulator_ApproveRequiresOwnership(t *testing.T) {
	s := NewSimulator()
	s.MintNFT(nft, "1", seller)

	for _, from := range []string{buyer, ""} {
		b := Batch{
			TxID:     "tx-approve",
			Env:      model.Env{Contract: self, Sender: from},
			Deposits: []Deposit{{From: from, Instruction: model.ApproveNFT(nft, self, "1")}},
		}
		assert.ErrorIs(t, s.Execute(context.Background(), b), ErrRejected)
	}

	b := Batch{
		TxID:     "tx-anon",
		Env:      model.Env{Contract: self},
		Deposits: []Deposit{{Instruction: model.TransferNFT(nft, self, "1")}},
	}
	assert.ErrorIs(t, s.Execute(context.Background(), b), ErrRejected, "an empty sender matches no approval")
}

func TestSimulator_InsufficientAttachedFunds(t *testing.T) {
	s := NewSimulator()
	s.MintNFT(nft, "1", seller)

	err := s.Execute(context.Background(), saleBatch(model.NewCoin(150, "om")))
	assert.ErrorIs(t, err, ErrRejected)
}

func TestSimulator_DepositRequiresOwnership(t *testing.T) {
	s := NewSimulator()
	s.MintNFT(nft, "1", seller)

	b := Batch{
		TxID:     "tx-2",
		Env:      model.Env{Contract: self, Sender: nft},
		Deposits: []Deposit{{From: buyer, Instruction: model.TransferNFT(nft, self, "1")}},
	}
	assert.ErrorIs(t, s.Execute(context.Background(), b), ErrRejected)

	b.Deposits[0].From = seller
	require.NoError(t, s.Execute(context.Background(), b))
	owner, _ := s.OwnerOf(context.Background(), nft, "1")
	assert.Equal(t, self, owner)
}

func TestSimulator_TokenTransfer(t *testing.T) {
	s := NewSimulator()
	s.MintTokens(om, self, d(25))

	b := Batch{
		TxID:         "tx-3",
		Env:          model.Env{Contract: self, Sender: seller},
		Instructions: []model.Instruction{model.TransferToken(om, seller, d(30))},
	}
	assert.ErrorIs(t, s.Execute(context.Background(), b), ErrRejected)

	b.Instructions[0].Amount = d(20)
	require.NoError(t, s.Execute(context.Background(), b))
	assert.True(t, s.TokenBalance(om, seller).Equal(d(20)))
	assert.True(t, s.TokenBalance(om, self).Equal(d(5)))
}

func TestSimulator_UnknownToken(t *testing.T) {
	_, err := NewSimulator().OwnerOf(context.Background(), nft, "9")
	assert.ErrorIs(t, err, ErrUnknownToken)
}

// --- Kafka ---

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaRelay_PublishesBatchKeyedByTx(t *testing.T) {
	w := &recordingWriter{}
	r := &KafkaRelay{writer: w}

	b := saleBatch(model.NewCoin(100, "om"))
	b.Env.BlockTime = time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, r.Execute(context.Background(), b))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "tx-1", string(w.msgs[0].Key))

	var got Batch
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	require.Len(t, got.Instructions, 2)
	assert.Equal(t, model.InstructionNFTTransfer, got.Instructions[0].Kind)
	assert.True(t, got.Instructions[1].Amount.Equal(d(100)))
}

func TestKafkaRelay_WriteFailureRejects(t *testing.T) {
	r := &KafkaRelay{writer: &recordingWriter{err: errors.New("broker down")}}
	err := r.Execute(context.Background(), saleBatch())
	assert.ErrorIs(t, err, ErrRejected)
}

type scriptedReader struct {
	msgs []kafka.Message
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *scriptedReader) Close() error { return nil }

func event(contract, token, owner string) kafka.Message {
	data, _ := json.Marshal(OwnershipEvent{Contract: contract, TokenID: token, Owner: owner})
	return kafka.Message{Value: data}
}

func TestOwnershipFeed_BuildsIndex(t *testing.T) {
	reader := &scriptedReader{msgs: []kafka.Message{
		event(nft, "1", seller),
		{Value: []byte("not json")},
		event(nft, "1", buyer),
		event(nft, "2", seller),
		event(nft, "2", ""),
	}}
	f := &OwnershipFeed{reader: reader, owners: make(map[string]string)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := f.OwnerOf(ctx, nft, "2")
		owner, _ := f.OwnerOf(ctx, nft, "1")
		return owner == buyer && errors.Is(err, ErrUnknownToken)
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
