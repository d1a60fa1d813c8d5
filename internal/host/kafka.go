package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer the relay uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRelay hands each instruction batch to an external executor by
// publishing it as one Kafka message keyed by transaction id. A batch counts
// as accepted once the broker acknowledges the write; a failed write rejects
// the batch and the transaction is rolled back.
type KafkaRelay struct {
	writer messageWriter
}

// NewKafkaRelay creates a relay that publishes to topic on brokers.
func NewKafkaRelay(brokers []string, topic string) *KafkaRelay {
	return &KafkaRelay{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  3,
			WriteTimeout: 5 * time.Second,
		},
	}
}

// Execute implements Executor.
func (r *KafkaRelay) Execute(ctx context.Context, b Batch) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode batch %s: %w", b.TxID, err)
	}

	msg := kafka.Message{
		Key:   []byte(b.TxID),
		Value: data,
		Time:  b.Env.BlockTime,
	}
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrRejected, b.TxID, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (r *KafkaRelay) Close() error {
	return r.writer.Close()
}

// OwnershipEvent is one record on the ownership topic: tokenID on Contract
// now belongs to Owner.
type OwnershipEvent struct {
	Contract string `json:"contract"`
	TokenID  string `json:"token_id"`
	Owner    string `json:"owner"`
}

// messageReader is the subset of *kafka.Reader the feed uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// OwnershipFeed answers OwnerOf from an index built by consuming the NFT
// contract's ownership topic. Used when instructions are relayed to an
// external executor and the simulator is not the source of truth.
type OwnershipFeed struct {
	reader messageReader

	mu     sync.RWMutex
	owners map[string]string // contract/token id -> owner
}

// NewOwnershipFeed creates a feed reading topic from the beginning with
// consumer group groupID.
func NewOwnershipFeed(brokers []string, topic, groupID string) *OwnershipFeed {
	return &OwnershipFeed{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			Topic:       topic,
			GroupID:     groupID,
			StartOffset: kafka.FirstOffset,
			MaxBytes:    1 << 20,
		}),
		owners: make(map[string]string),
	}
}

// Run consumes ownership events until ctx is cancelled.
func (f *OwnershipFeed) Run(ctx context.Context) error {
	defer f.reader.Close()

	for {
		msg, err := f.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("read ownership event: %w", err)
		}
		if err := f.handle(msg); err != nil {
			slog.Warn("skipping ownership event", "offset", msg.Offset, "err", err)
		}
	}
}

func (f *OwnershipFeed) handle(msg kafka.Message) error {
	var ev OwnershipEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return err
	}
	if ev.Contract == "" || ev.TokenID == "" {
		return fmt.Errorf("incomplete event %q", msg.Value)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if ev.Owner == "" {
		delete(f.owners, ownerKey(ev.Contract, ev.TokenID))
		return nil
	}
	f.owners[ownerKey(ev.Contract, ev.TokenID)] = ev.Owner
	return nil
}

// OwnerOf implements the NFT ownership query from the consumed index.
func (f *OwnershipFeed) OwnerOf(_ context.Context, nftContract, tokenID string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	owner, ok := f.owners[ownerKey(nftContract, tokenID)]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnknownToken, nftContract, tokenID)
	}
	return owner, nil
}

func ownerKey(contract, tokenID string) string { return contract + "/" + tokenID }
