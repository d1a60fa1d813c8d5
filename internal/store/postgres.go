package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/rwastockholm/custody-engine/internal/model"
)

// Schema is the PostgreSQL DDL applied by Migrate.
//
//go:embed schema.sql
var Schema string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All amounts are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the ledger tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetListing(ctx context.Context, assetID string) (*model.Listing, error) {
	var l model.Listing
	var amount string

	err := s.pool.QueryRow(ctx,
		`SELECT asset_id, seller, price_amount::TEXT, price_denom, listed_at
		 FROM listings WHERE asset_id = $1`, assetID).
		Scan(&l.AssetID, &l.Seller, &amount, &l.Price.Denom, &l.ListedAt)
	if err != nil {
		return nil, notFound(fmt.Sprintf("listing %s", assetID), err)
	}
	l.Price.Amount, _ = decimal.NewFromString(amount)
	return &l, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, assetID string) (*model.StakedPosition, error) {
	var p model.StakedPosition
	err := s.pool.QueryRow(ctx,
		`SELECT asset_id, owner, asset_contract, staked_since, accrual_start
		 FROM staked_positions WHERE asset_id = $1`, assetID).
		Scan(&p.AssetID, &p.Owner, &p.AssetContract, &p.StakedSince, &p.AccrualStart)
	if err != nil {
		return nil, notFound(fmt.Sprintf("position %s", assetID), err)
	}
	return &p, nil
}

func (s *PostgresStore) GetCustody(ctx context.Context, assetID string) (*model.Custody, error) {
	var c model.Custody
	err := s.pool.QueryRow(ctx,
		`SELECT asset_id, asset_contract, depositor, received_at
		 FROM custody WHERE asset_id = $1`, assetID).
		Scan(&c.AssetID, &c.AssetContract, &c.Depositor, &c.ReceivedAt)
	if err != nil {
		return nil, notFound(fmt.Sprintf("custody %s", assetID), err)
	}
	return &c, nil
}

func (s *PostgresStore) GetSummary(ctx context.Context) (*model.StakingSummary, error) {
	var sum model.StakingSummary
	var funded, paid string
	var total int64

	err := s.pool.QueryRow(ctx,
		`SELECT total_staked, rewards_funded::TEXT, rewards_paid::TEXT
		 FROM staking_summary WHERE id = 1`).
		Scan(&total, &funded, &paid)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.StakingSummary{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}

	sum.TotalStaked = uint64(total)
	sum.RewardsFunded, _ = decimal.NewFromString(funded)
	sum.RewardsPaid, _ = decimal.NewFromString(paid)
	return &sum, nil
}

func (s *PostgresStore) GetConfig(ctx context.Context) (*model.Config, error) {
	var c model.Config
	var rate, exchange string

	err := s.pool.QueryRow(ctx,
		`SELECT admin, nft_contract, reward_token,
		        reward_rate_per_day::TEXT, exchange_rate::TEXT, require_custody
		 FROM contract_config WHERE id = 1`).
		Scan(&c.Admin, &c.NFTContract, &c.RewardToken, &rate, &exchange, &c.RequireCustody)
	if err != nil {
		return nil, notFound("config", err)
	}
	c.RewardRatePerDay, _ = decimal.NewFromString(rate)
	c.ExchangeRate, _ = decimal.NewFromString(exchange)
	return &c, nil
}

func (s *PostgresStore) ListListings(ctx context.Context) ([]model.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT asset_id, seller, price_amount::TEXT, price_denom, listed_at
		 FROM listings ORDER BY asset_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		var l model.Listing
		var amount string
		if err := rows.Scan(&l.AssetID, &l.Seller, &amount, &l.Price.Denom, &l.ListedAt); err != nil {
			return nil, err
		}
		l.Price.Amount, _ = decimal.NewFromString(amount)
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (s *PostgresStore) ListPositions(ctx context.Context, owner string) ([]model.StakedPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT asset_id, owner, asset_contract, staked_since, accrual_start
		 FROM staked_positions
		 WHERE $1 = '' OR owner = $1
		 ORDER BY asset_id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

// Apply writes cs inside one PostgreSQL transaction. commit runs before
// COMMIT, so a failing commit hook rolls every row back.
func (s *PostgresStore) Apply(ctx context.Context, cs model.ChangeSet, commit CommitFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) // no-op after Commit

	for id, l := range cs.Listings {
		if l == nil {
			_, err = tx.Exec(ctx, `DELETE FROM listings WHERE asset_id = $1`, id)
		} else {
			_, err = tx.Exec(ctx,
				`INSERT INTO listings (asset_id, seller, price_amount, price_denom, listed_at)
				 VALUES ($1, $2, $3::NUMERIC, $4, $5)
				 ON CONFLICT (asset_id) DO UPDATE
				 SET seller = EXCLUDED.seller, price_amount = EXCLUDED.price_amount,
				     price_denom = EXCLUDED.price_denom, listed_at = EXCLUDED.listed_at`,
				id, l.Seller, l.Price.Amount.String(), l.Price.Denom, l.ListedAt)
		}
		if err != nil {
			return fmt.Errorf("write listing %s: %w", id, err)
		}
	}

	for id, p := range cs.Positions {
		if p == nil {
			_, err = tx.Exec(ctx, `DELETE FROM staked_positions WHERE asset_id = $1`, id)
		} else {
			_, err = tx.Exec(ctx,
				`INSERT INTO staked_positions (asset_id, owner, asset_contract, staked_since, accrual_start)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (asset_id) DO UPDATE
				 SET owner = EXCLUDED.owner, asset_contract = EXCLUDED.asset_contract,
				     staked_since = EXCLUDED.staked_since, accrual_start = EXCLUDED.accrual_start`,
				id, p.Owner, p.AssetContract, p.StakedSince, p.AccrualStart)
		}
		if err != nil {
			return fmt.Errorf("write position %s: %w", id, err)
		}
	}

	for id, c := range cs.Custody {
		if c == nil {
			_, err = tx.Exec(ctx, `DELETE FROM custody WHERE asset_id = $1`, id)
		} else {
			_, err = tx.Exec(ctx,
				`INSERT INTO custody (asset_id, asset_contract, depositor, received_at)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (asset_id) DO UPDATE
				 SET asset_contract = EXCLUDED.asset_contract, depositor = EXCLUDED.depositor,
				     received_at = EXCLUDED.received_at`,
				id, c.AssetContract, c.Depositor, c.ReceivedAt)
		}
		if err != nil {
			return fmt.Errorf("write custody %s: %w", id, err)
		}
	}

	if sum := cs.Summary; sum != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO staking_summary (id, total_staked, rewards_funded, rewards_paid)
			 VALUES (1, $1, $2::NUMERIC, $3::NUMERIC)
			 ON CONFLICT (id) DO UPDATE
			 SET total_staked = EXCLUDED.total_staked, rewards_funded = EXCLUDED.rewards_funded,
			     rewards_paid = EXCLUDED.rewards_paid`,
			int64(sum.TotalStaked), sum.RewardsFunded.String(), sum.RewardsPaid.String())
		if err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}

	if c := cs.Config; c != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO contract_config (id, admin, nft_contract, reward_token, reward_rate_per_day, exchange_rate, require_custody)
			 VALUES (1, $1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)
			 ON CONFLICT (id) DO UPDATE
			 SET admin = EXCLUDED.admin, nft_contract = EXCLUDED.nft_contract,
			     reward_token = EXCLUDED.reward_token, reward_rate_per_day = EXCLUDED.reward_rate_per_day,
			     exchange_rate = EXCLUDED.exchange_rate, require_custody = EXCLUDED.require_custody`,
			c.Admin, c.NFTContract, c.RewardToken,
			c.RewardRatePerDay.String(), c.ExchangeRate.String(), c.RequireCustody)
		if err != nil {
			return fmt.Errorf("write config: %w", err)
		}
	}

	if commit != nil {
		if err := commit(ctx); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// scanPositions reads pgx rows into StakedPosition slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanPositions(rows pgxRows) ([]model.StakedPosition, error) {
	var positions []model.StakedPosition
	for rows.Next() {
		var p model.StakedPosition
		if err := rows.Scan(&p.AssetID, &p.Owner, &p.AssetContract, &p.StakedSince, &p.AccrualStart); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func notFound(what string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", what, err)
}
