package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

// ReplayResult describes a rebuild of one player's state from the journal.
type ReplayResult struct {
	PlayerID     string                  `json:"player_id"`
	Transactions int                     `json:"transactions"`
	Operations   int                     `json:"operations"`
	Gaps         int                     `json:"gaps"`
	State        equipment.StateSnapshot `json:"state"`
	Fingerprint  string                  `json:"fingerprint"`
	Expected     string                  `json:"expected"`
}

// Verified reports whether the rebuilt state matches the last committed
// fingerprint.
func (r ReplayResult) Verified() bool {
	return r.Fingerprint == r.Expected
}

// ReplayPlayer rebuilds the player's state by re-applying every journaled
// operation, starting from the Before state of the first transaction.
//
// A transaction whose Before fingerprint differs from the rebuilt state is
// counted as a gap (state changed outside the journal) and replay resumes
// from its recorded Before state. The state tag is not derivable from
// operations, so it is taken from each transaction's recorded After state.
//
// Returns ErrNotFound if the player has no transactions.
func (s *Store) ReplayPlayer(ctx context.Context, playerID string) (ReplayResult, error) {
	txs, err := s.ReadTransactions(ctx, playerID, 0)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay %s: %w", playerID, err)
	}
	if len(txs) == 0 {
		return ReplayResult{}, fmt.Errorf("replay %s: %w", playerID, ErrNotFound)
	}

	res := ReplayResult{PlayerID: playerID}
	state := txs[0].Before.Clone()
	for _, t := range txs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if state.Fingerprint() != t.Before.Fingerprint() {
			res.Gaps++
			slog.Warn("journal gap", "player", playerID, "tx", t.ID)
			state = t.Before.Clone()
		}
		for _, op := range t.Operations {
			if _, err := equipment.ApplyOperation(&state, op); err != nil {
				return res, fmt.Errorf("replay %s: tx %s operation %s: %w", playerID, t.ID, op.OperationID, err)
			}
			res.Operations++
		}
		state.StateTag = t.After.StateTag
		state.Version = t.After.Version
		state.Timestamp = t.After.Timestamp
		res.Transactions++
	}

	res.State = state
	res.Fingerprint = state.Fingerprint()
	res.Expected = txs[len(txs)-1].After.Fingerprint()
	if !res.Verified() {
		slog.Error("replay fingerprint mismatch",
			"event", "replay_mismatch", "player", playerID, "rebuilt", res.Fingerprint, "journaled", res.Expected)
	}
	return res, nil
}
