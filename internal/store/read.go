package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
	"github.com/Houngansi/SuspenseCore-sub009/internal/security"
	"github.com/Houngansi/SuspenseCore-sub009/internal/transaction"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ReadTransactions returns the player's most recent journaled transactions
// in commit order, oldest first. A limit <= 0 returns all of them.
//
// Returns an empty slice (not nil) if the player has no transactions.
func (s *Store) ReadTransactions(ctx context.Context, playerID string, limit int) ([]transaction.Transaction, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, player_id, description, state, started_at, ended_at, before_state, after_state, changes
		FROM (
			SELECT * FROM transactions
			WHERE player_id = ?
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	txs := []transaction.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	// Operations are loaded after the cursor closes; the store has one
	// connection.
	rows.Close()
	for i := range txs {
		ops, err := s.ReadOperations(ctx, txs[i].ID)
		if err != nil {
			return nil, err
		}
		txs[i].Operations = ops
	}
	return txs, nil
}

// ReadTransaction returns one journaled transaction with its operations.
func (s *Store) ReadTransaction(ctx context.Context, id string) (transaction.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, player_id, description, state, started_at, ended_at, before_state, after_state, changes
		FROM transactions
		WHERE id = ?
	`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return transaction.Transaction{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return transaction.Transaction{}, err
	}
	ops, err := s.ReadOperations(ctx, id)
	if err != nil {
		return transaction.Transaction{}, err
	}
	t.Operations = ops
	return t, nil
}

// ReadOperations returns the requests applied in transaction txID, in
// application order.
func (s *Store) ReadOperations(ctx context.Context, txID string) ([]equipment.OperationRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request FROM operations
		WHERE transaction_id = ?
		ORDER BY op_index ASC
	`, txID)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	var ops []equipment.OperationRequest
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		req, err := unmarshalRequest(data)
		if err != nil {
			return nil, err
		}
		ops = append(ops, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return ops, nil
}

// HasOperation reports whether an operation id has been journaled.
func (s *Store) HasOperation(ctx context.Context, operationID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM operations WHERE operation_id = ?
	`, operationID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query operation: %w", err)
	}
	return n > 0, nil
}

// LatestSnapshot returns the most recently stored snapshot for player.
// Returns ErrNotFound if none exists.
func (s *Store) LatestSnapshot(ctx context.Context, playerID string) (equipment.StateSnapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT state FROM snapshots
		WHERE player_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, playerID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return equipment.StateSnapshot{}, fmt.Errorf("snapshot for %s: %w", playerID, ErrNotFound)
	}
	if err != nil {
		return equipment.StateSnapshot{}, fmt.Errorf("query snapshot: %w", err)
	}
	return unmarshalSnapshot(data)
}

// ReadSecurityEvents returns audit events oldest first. An empty playerID
// returns events for every player; limit <= 0 returns all.
func (s *Store) ReadSecurityEvents(ctx context.Context, playerID string, limit int) ([]security.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT time, kind, player_id, ip, detail FROM (
			SELECT * FROM security_events
			WHERE ? = '' OR player_id = ?
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`, playerID, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	events := []security.Event{}
	for rows.Next() {
		var (
			e  security.Event
			ns int64
		)
		if err := rows.Scan(&ns, &e.Kind, &e.PlayerID, &e.IP, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		e.Time = fromNanos(ns)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security events: %w", err)
	}
	return events, nil
}

// Players returns every player id with journaled transactions, sorted.
func (s *Store) Players(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT player_id FROM transactions ORDER BY player_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query players: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (transaction.Transaction, error) {
	var (
		t                     transaction.Transaction
		state                 string
		started, ended        int64
		before, after, change string
	)
	if err := row.Scan(&t.ID, &t.PlayerID, &t.Description, &state, &started, &ended, &before, &after, &change); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("scan transaction: %w", err)
	}
	if err := t.State.UnmarshalText([]byte(state)); err != nil {
		return t, fmt.Errorf("scan transaction %s: %w", t.ID, err)
	}
	t.StartedAt = fromNanos(started)
	t.EndedAt = fromNanos(ended)

	var err error
	if t.Before, err = unmarshalSnapshot(before); err != nil {
		return t, err
	}
	if t.After, err = unmarshalSnapshot(after); err != nil {
		return t, err
	}
	if t.Changes, err = unmarshalChanges(change); err != nil {
		return t, err
	}
	return t, nil
}
