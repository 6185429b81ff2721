// Package history persists completed interactions per wallet address and
// serves them back to the transaction history panel.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/biowallet/backend/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS transaction_history (
    id           BIGSERIAL PRIMARY KEY,
    wallet       TEXT NOT NULL,
    result       TEXT NOT NULL,
    has_proof    BOOLEAN NOT NULL DEFAULT FALSE,
    user_address TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transaction_history_wallet
    ON transaction_history (wallet, id DESC);
`

// Store writes and reads interaction history rows from Postgres.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open connection and ensures the schema exists.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to ensure history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record appends one row for a wallet.
func (s *Store) Record(ctx context.Context, walletAddress string, rec core.TransactionRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transaction_history (wallet, result, has_proof, user_address, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		walletAddress, rec.Result, rec.HasProof, rec.UserAddress, ts)
	if err != nil {
		return fmt.Errorf("failed to insert history row: %w", err)
	}
	return nil
}

// ForWallet returns a wallet's history, newest first.
func (s *Store) ForWallet(ctx context.Context, walletAddress string, limit int) (*core.TransactionHistory, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, result, has_proof, user_address, created_at
		 FROM transaction_history
		 WHERE wallet = $1
		 ORDER BY id DESC
		 LIMIT $2`,
		walletAddress, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	out := &core.TransactionHistory{WalletAddress: walletAddress}
	for rows.Next() {
		var rec core.TransactionRecord
		if err := rows.Scan(&rec.Sequence, &rec.Result, &rec.HasProof, &rec.UserAddress, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		out.Transactions = append(out.Transactions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history rows: %w", err)
	}
	out.TransactionCount = len(out.Transactions)
	return out, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Fallback fetches history from the remote agent when no local database
// is configured; local rows take precedence when both exist.
type Fallback struct {
	Local  *Store
	Remote RemoteSource
}

// RemoteSource is the agent-side history endpoint.
type RemoteSource interface {
	History(ctx context.Context, walletAddress string) (*core.TransactionHistory, error)
}

// ForWallet serves local history, falling back to the remote agent.
func (f *Fallback) ForWallet(ctx context.Context, walletAddress string, limit int) (*core.TransactionHistory, error) {
	if f.Local != nil {
		h, err := f.Local.ForWallet(ctx, walletAddress, limit)
		if err == nil && h.TransactionCount > 0 {
			return h, nil
		}
		if err != nil {
			slog.Warn("[History] Local lookup failed, trying remote", "error", err)
		}
	}
	if f.Remote != nil {
		return f.Remote.History(ctx, walletAddress)
	}
	return &core.TransactionHistory{WalletAddress: walletAddress}, nil
}
