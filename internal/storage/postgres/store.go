package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"taxScope/internal/model"
)

// Store provides Postgres persistence for tax events, the review queue and
// ledger checkpoints.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS realized_events (
		wallet TEXT NOT NULL,
		token TEXT NOT NULL,
		tx_hash TEXT NOT NULL,
		symbol TEXT NOT NULL DEFAULT '',
		disposed_at TIMESTAMPTZ NOT NULL,
		quantity NUMERIC NOT NULL,
		proceeds_usd NUMERIC NOT NULL,
		cost_basis_usd NUMERIC NOT NULL,
		gain_usd NUMERIC NOT NULL,
		holding_period TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		tag TEXT NOT NULL,
		lots JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (wallet, token, tx_hash)
	)`,
	`CREATE TABLE IF NOT EXISTS income_events (
		wallet TEXT NOT NULL,
		token TEXT NOT NULL,
		tx_hash TEXT NOT NULL,
		symbol TEXT NOT NULL DEFAULT '',
		received_at TIMESTAMPTZ NOT NULL,
		quantity NUMERIC NOT NULL,
		price_usd NUMERIC NOT NULL,
		value_usd NUMERIC NOT NULL,
		category TEXT NOT NULL,
		tag TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (wallet, token, tx_hash)
	)`,
	`CREATE TABLE IF NOT EXISTS review_items (
		wallet TEXT NOT NULL,
		tx_hash TEXT NOT NULL,
		reason TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		category TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		tokens JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (wallet, tx_hash, reason)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_checkpoints (
		wallet TEXT PRIMARY KEY,
		method TEXT NOT NULL,
		state JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates the tables used by the store when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// PutRealized inserts or updates realized events.
func (s *Store) PutRealized(ctx context.Context, events []model.RealizedEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		lots, err := json.Marshal(ev.Lots)
		if err != nil {
			return fmt.Errorf("marshal lots: %w", err)
		}
		batch.Queue(`
			INSERT INTO realized_events (
				wallet, token, tx_hash, symbol, disposed_at, quantity, proceeds_usd,
				cost_basis_usd, gain_usd, holding_period, category, tag, lots, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now(),now())
			ON CONFLICT (wallet, token, tx_hash)
			DO UPDATE SET
				symbol = EXCLUDED.symbol,
				disposed_at = EXCLUDED.disposed_at,
				quantity = EXCLUDED.quantity,
				proceeds_usd = EXCLUDED.proceeds_usd,
				cost_basis_usd = EXCLUDED.cost_basis_usd,
				gain_usd = EXCLUDED.gain_usd,
				holding_period = EXCLUDED.holding_period,
				category = EXCLUDED.category,
				tag = EXCLUDED.tag,
				lots = EXCLUDED.lots,
				updated_at = now()
		`,
			ev.Wallet,
			ev.Token,
			ev.TxHash,
			ev.Symbol,
			ev.DisposedAt,
			ev.Quantity.String(),
			ev.ProceedsUSD.String(),
			ev.CostBasisUSD.String(),
			ev.GainUSD.String(),
			string(ev.HoldingPeriod),
			string(ev.Category),
			string(ev.Tag),
			lots,
		)
	}
	return s.sendBatch(ctx, batch, len(events))
}

// PutIncome inserts or updates income events.
func (s *Store) PutIncome(ctx context.Context, events []model.IncomeEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
			INSERT INTO income_events (
				wallet, token, tx_hash, symbol, received_at, quantity, price_usd, value_usd,
				category, tag, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now(),now())
			ON CONFLICT (wallet, token, tx_hash)
			DO UPDATE SET
				symbol = EXCLUDED.symbol,
				received_at = EXCLUDED.received_at,
				quantity = EXCLUDED.quantity,
				price_usd = EXCLUDED.price_usd,
				value_usd = EXCLUDED.value_usd,
				category = EXCLUDED.category,
				tag = EXCLUDED.tag,
				updated_at = now()
		`,
			ev.Wallet,
			ev.Token,
			ev.TxHash,
			ev.Symbol,
			ev.ReceivedAt,
			ev.Quantity.String(),
			ev.PriceUSD.String(),
			ev.ValueUSD.String(),
			string(ev.Category),
			string(ev.Tag),
		)
	}
	return s.sendBatch(ctx, batch, len(events))
}

// PutReview inserts or updates review queue entries.
func (s *Store) PutReview(ctx context.Context, items []model.ReviewItem) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, item := range items {
		tokens, err := json.Marshal(item.Tokens)
		if err != nil {
			return fmt.Errorf("marshal tokens: %w", err)
		}
		batch.Queue(`
			INSERT INTO review_items (
				wallet, tx_hash, reason, ts, category, detail, tokens, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
			ON CONFLICT (wallet, tx_hash, reason)
			DO UPDATE SET
				ts = EXCLUDED.ts,
				category = EXCLUDED.category,
				detail = EXCLUDED.detail,
				tokens = EXCLUDED.tokens,
				updated_at = now()
		`,
			item.Wallet,
			item.TxHash,
			string(item.Reason),
			item.Timestamp,
			string(item.Category),
			item.Detail,
			tokens,
		)
	}
	return s.sendBatch(ctx, batch, len(items))
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadCheckpoint returns the stored ledger checkpoint for a wallet.
func (s *Store) LoadCheckpoint(ctx context.Context, wallet string) (model.LedgerCheckpoint, bool, error) {
	if wallet == "" {
		return model.LedgerCheckpoint{}, false, fmt.Errorf("wallet required")
	}
	var raw []byte
	var updated time.Time
	row := s.pool.QueryRow(ctx, `SELECT state, updated_at FROM ledger_checkpoints WHERE wallet=$1`, model.NormalizeAddress(wallet))
	if err := row.Scan(&raw, &updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.LedgerCheckpoint{}, false, nil
		}
		return model.LedgerCheckpoint{}, false, err
	}
	var cp model.LedgerCheckpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return model.LedgerCheckpoint{}, false, fmt.Errorf("parse checkpoint: %w", err)
	}
	cp.UpdatedAt = updated
	return cp, true, nil
}

// SaveCheckpoint upserts the ledger checkpoint of a wallet.
func (s *Store) SaveCheckpoint(ctx context.Context, cp model.LedgerCheckpoint) error {
	if cp.Wallet == "" {
		return fmt.Errorf("checkpoint wallet required")
	}
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO ledger_checkpoints (wallet, method, state, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (wallet) DO UPDATE
		SET method = EXCLUDED.method, state = EXCLUDED.state, updated_at = now()
	`, model.NormalizeAddress(cp.Wallet), cp.Method, raw)
	return err
}
