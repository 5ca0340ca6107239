package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
	"github.com/Houngansi/SuspenseCore-sub009/internal/security"
	"github.com/Houngansi/SuspenseCore-sub009/internal/transaction"
)

// AppendTransaction journals a committed top-level transaction, its
// operations and its resulting snapshot in one SQL transaction.
// Implements transaction.Journal.
//
// Uses ON CONFLICT(id) DO NOTHING for idempotency - appending the same
// transaction id twice writes nothing the second time.
func (s *Store) AppendTransaction(ctx context.Context, t transaction.Transaction) error {
	if t.ID == "" || t.PlayerID == "" {
		return fmt.Errorf("append transaction: id and player id are required")
	}
	if t.IsNested() {
		return fmt.Errorf("append transaction %s: nested transactions are merged into their parent", t.ID)
	}

	before, err := marshalJSON("before state", t.Before)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	after, err := marshalJSON("after state", t.After)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	changes, err := marshalJSON("changes", t.Changes)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append transaction: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	afterFP := t.After.Fingerprint()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO transactions
		(id, player_id, description, state, started_at, ended_at,
		 before_state, after_state, changes, before_fingerprint, after_fingerprint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		t.ID,
		t.PlayerID,
		t.Description,
		t.State.String(),
		toNanos(t.StartedAt),
		toNanos(t.EndedAt),
		before,
		after,
		changes,
		t.Before.Fingerprint(),
		afterFP,
	)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("append transaction: rows affected: %w", err)
	} else if n == 0 {
		slog.Debug("transaction already journaled", "player", t.PlayerID, "tx", t.ID)
		return nil
	}

	for i, op := range t.Operations {
		req, err := marshalJSON("request", op)
		if err != nil {
			return fmt.Errorf("append transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO operations (transaction_id, op_index, operation_id, op_type, request)
			VALUES (?, ?, ?, ?, ?)
		`, t.ID, i, op.OperationID, op.Type.String(), req); err != nil {
			return fmt.Errorf("append transaction: operation %d: %w", i, err)
		}
	}

	if err := insertSnapshot(ctx, tx, t.PlayerID, t.ID, t.After, after, afterFP); err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append transaction: commit: %w", err)
	}
	return nil
}

// SaveSnapshot records snap for player outside any transaction, for
// example on disconnect. Identical snapshots are stored once.
func (s *Store) SaveSnapshot(ctx context.Context, playerID string, snap equipment.StateSnapshot) error {
	state, err := marshalJSON("snapshot", snap)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := insertSnapshot(ctx, s.db, playerID, "", snap, state, snap.Fingerprint()); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSnapshot(ctx context.Context, db execer, playerID, txID string, snap equipment.StateSnapshot, state, fingerprint string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO snapshots (player_id, version, fingerprint, state, transaction_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(player_id, version, fingerprint) DO NOTHING
	`, playerID, snap.Version, fingerprint, state, txID, toNanos(snap.Timestamp))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// AppendSecurityEvent records one audit event.
func (s *Store) AppendSecurityEvent(ctx context.Context, e security.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO security_events (time, kind, player_id, ip, detail)
		VALUES (?, ?, ?, ?, ?)
	`, toNanos(e.Time), e.Kind, e.PlayerID, e.IP, e.Detail)
	if err != nil {
		return fmt.Errorf("append security event: %w", err)
	}
	return nil
}

// AuditSink adapts the store to security.WithAudit. Write failures are
// logged, never returned to the security service.
func (s *Store) AuditSink() func(security.Event) {
	return func(e security.Event) {
		if err := s.AppendSecurityEvent(context.Background(), e); err != nil {
			slog.Error("security audit write failed", "event", e.Kind, "player", e.PlayerID, "error", err)
		}
	}
}
