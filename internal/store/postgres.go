package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/simutrade/practice-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// The balance is stored as NUMERIC for exact decimal precision; the
// position and trade collections are stored as JSONB in the snapshot's
// stable wire shape.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SaveSession(ctx context.Context, snap *model.SessionSnapshot) error {
	openJSON, err := json.Marshal(snap.OpenPositions)
	if err != nil {
		return fmt.Errorf("save session %s: %w", snap.UserID, err)
	}
	closedJSON, err := json.Marshal(snap.ClosedTrades)
	if err != nil {
		return fmt.Errorf("save session %s: %w", snap.UserID, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (user_id, balance, margin_called, open_positions, closed_trades, saved_at)
		 VALUES ($1, $2::NUMERIC, $3, $4::JSONB, $5::JSONB, $6)
		 ON CONFLICT (user_id) DO UPDATE
		 SET balance = EXCLUDED.balance,
		     margin_called = EXCLUDED.margin_called,
		     open_positions = EXCLUDED.open_positions,
		     closed_trades = EXCLUDED.closed_trades,
		     saved_at = EXCLUDED.saved_at`,
		snap.UserID, snap.Balance.String(), snap.MarginCalled,
		openJSON, closedJSON, snap.SavedAt,
	)
	return err
}

func (s *PostgresStore) LoadSession(ctx context.Context, userID string) (*model.SessionSnapshot, error) {
	var snap model.SessionSnapshot
	var balance string
	var openJSON, closedJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, balance::TEXT, margin_called, open_positions, closed_trades, saved_at
		 FROM sessions WHERE user_id = $1`, userID).
		Scan(&snap.UserID, &balance, &snap.MarginCalled, &openJSON, &closedJSON, &snap.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", userID, err)
	}

	snap.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("load session %s: bad balance %q: %w", userID, balance, err)
	}
	if err := json.Unmarshal(openJSON, &snap.OpenPositions); err != nil {
		return nil, fmt.Errorf("load session %s: %w", userID, err)
	}
	if err := json.Unmarshal(closedJSON, &snap.ClosedTrades); err != nil {
		return nil, fmt.Errorf("load session %s: %w", userID, err)
	}
	return &snap, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM sessions ORDER BY saved_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
