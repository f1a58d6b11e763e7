package db

import (
	"context"
	"fmt"
	"math"

	"github.com/brojonat/lazorpass/service/transfer"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists transfer records in Postgres. It is the journal behind the
// in-memory transfer.Store, scoped to one Solana network.
type Store struct {
	pool    *pgxpool.Pool
	network string
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool, network string) *Store {
	return &Store{
		pool:    pool,
		network: network,
	}
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const upsertRecord = `
INSERT INTO transfers (
    signature, network, kind, from_address, to_address, amount, ui_amount,
    token, mint, signer, status, error, slot, explorer_url, submitted_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (signature) DO UPDATE SET
    status     = EXCLUDED.status,
    error      = EXCLUDED.error,
    slot       = EXCLUDED.slot,
    updated_at = EXCLUDED.updated_at
WHERE transfers.status = 'pending'`

// SaveRecord inserts rec or updates its status. A record that already
// reached a terminal status is never overwritten.
func (s *Store) SaveRecord(ctx context.Context, rec *transfer.Record) error {
	if rec.Amount > math.MaxInt64 || rec.Slot > math.MaxInt64 {
		return fmt.Errorf("record %s: amount or slot out of range", rec.Signature)
	}

	_, err := s.pool.Exec(ctx, upsertRecord,
		rec.Signature,
		s.network,
		string(rec.Kind),
		rec.From,
		pgtextFromString(rec.To),
		int64(rec.Amount),
		rec.UIAmount,
		rec.Token,
		pgtextFromString(rec.Mint),
		rec.Signer,
		string(rec.Status),
		pgtextFromString(rec.Error),
		int64(rec.Slot),
		rec.ExplorerURL,
		pgtype.Timestamptz{Time: rec.SubmittedAt, Valid: true},
		pgtype.Timestamptz{Time: rec.UpdatedAt, Valid: true},
	)
	if err != nil {
		return fmt.Errorf("failed to save record %s: %w", rec.Signature, err)
	}
	return nil
}

const selectRecords = `
SELECT signature, kind, from_address, to_address, amount, ui_amount,
       token, mint, signer, status, error, slot, explorer_url, submitted_at, updated_at
FROM transfers
WHERE network = $1
ORDER BY submitted_at DESC
LIMIT $2`

// LoadRecords returns up to limit of this network's records, newest first.
func (s *Store) LoadRecords(ctx context.Context, limit int32) ([]*transfer.Record, error) {
	rows, err := s.pool.Query(ctx, selectRecords, s.network, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	recs, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}
	return recs, nil
}

const selectPending = `
SELECT signature, kind, from_address, to_address, amount, ui_amount,
       token, mint, signer, status, error, slot, explorer_url, submitted_at, updated_at
FROM transfers
WHERE network = $1 AND status = 'pending'
ORDER BY submitted_at ASC
LIMIT $2`

// LoadPending returns up to limit of this network's pending records, oldest
// first, however many terminal records were written after them.
func (s *Store) LoadPending(ctx context.Context, limit int32) ([]*transfer.Record, error) {
	rows, err := s.pool.Query(ctx, selectPending, s.network, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending records: %w", err)
	}

	recs, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending records: %w", err)
	}
	return recs, nil
}

func scanRecord(row pgx.CollectableRow) (*transfer.Record, error) {
	var (
		rec                  transfer.Record
		kind, status         string
		to, mint, errMsg     pgtype.Text
		amount, slot         int64
		submitted, updatedAt pgtype.Timestamptz
	)
	err := row.Scan(
		&rec.Signature,
		&kind,
		&rec.From,
		&to,
		&amount,
		&rec.UIAmount,
		&rec.Token,
		&mint,
		&rec.Signer,
		&status,
		&errMsg,
		&slot,
		&rec.ExplorerURL,
		&submitted,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Kind = transfer.Kind(kind)
	rec.Status = transfer.Status(status)
	rec.To = to.String
	rec.Mint = mint.String
	rec.Error = errMsg.String
	rec.Amount = uint64(amount)
	rec.Slot = uint64(slot)
	rec.SubmittedAt = submitted.Time
	rec.UpdatedAt = updatedAt.Time
	return &rec, nil
}

// Helper functions to convert between pgx types and domain types

func pgtextFromString(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}
