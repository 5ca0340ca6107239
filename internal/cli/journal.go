package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
	"github.com/Houngansi/SuspenseCore-sub009/internal/store"
	"github.com/Houngansi/SuspenseCore-sub009/internal/transaction"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	Database string
	Player   string
	Limit    int
	Verify   bool
}

// JournalEntry is the listing form of one journaled transaction.
type JournalEntry struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	State       string    `json:"state"`
	EndedAt     time.Time `json:"ended_at"`
	Operations  []string  `json:"operations"`
	Slots       []int     `json:"slots"`
}

// JournalResult is the output of the journal command.
type JournalResult struct {
	Player       string              `json:"player,omitempty"`
	Players      []string            `json:"players,omitempty"`
	Transactions []JournalEntry      `json:"transactions,omitempty"`
	Replay       *store.ReplayResult `json:"replay,omitempty"`
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List journaled transactions",
		Long: `List the transactions committed to the journal database.

Without --player the players with journaled state are listed. With
--verify the player's state is rebuilt from the journal and compared
against the last committed fingerprint.

Exit codes:
  0 - Success
  1 - Replay verification failed
  2 - Command error (database not found, etc.)

Examples:
  suspensed journal --db ./suspense.db
  suspensed journal --db ./suspense.db --player p1 --limit 20
  suspensed journal --db ./suspense.db --player p1 --verify --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Player, "player", "", "player id")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "most recent transactions to list (0 for all)")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "replay the journal and verify the final fingerprint")

	return cmd
}

func runJournal(ctx context.Context, opts *JournalOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(opts.RootOptions, cmd)

	// store.Open would create a missing database.
	if _, err := os.Stat(opts.Database); err != nil {
		_ = f.Error(ErrCodeStore, "database not found", opts.Database)
		return WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.Player == "" {
		players, err := st.Players(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list players", err)
		}
		if f.JSON() {
			return f.Success(JournalResult{Players: players})
		}
		if len(players) == 0 {
			fmt.Fprintln(f.Writer, "No players found in journal.")
			return nil
		}
		for _, p := range players {
			fmt.Fprintln(f.Writer, p)
		}
		return nil
	}

	txs, err := st.ReadTransactions(ctx, opts.Player, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read transactions", err)
	}
	res := JournalResult{Player: opts.Player, Transactions: make([]JournalEntry, 0, len(txs))}
	for _, t := range txs {
		res.Transactions = append(res.Transactions, journalEntry(t))
	}

	if opts.Verify {
		rr, err := st.ReplayPlayer(ctx, opts.Player)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to replay journal", err)
		}
		res.Replay = &rr
	}

	if f.JSON() {
		if err := f.Success(res); err != nil {
			return err
		}
	} else {
		outputJournalText(f.Writer, res)
	}
	if res.Replay != nil && !res.Replay.Verified() {
		return NewExitError(ExitFailure, fmt.Sprintf("journal replay for %s does not match the committed state", opts.Player))
	}
	return nil
}

func journalEntry(t transaction.Transaction) JournalEntry {
	e := JournalEntry{
		ID:          t.ID,
		Description: t.Description,
		State:       t.State.String(),
		EndedAt:     t.EndedAt,
		Operations:  make([]string, 0, len(t.Operations)),
		Slots:       equipment.ChangedSlots(t.Changes),
	}
	for _, op := range t.Operations {
		e.Operations = append(e.Operations, op.Type.String())
	}
	return e
}

func outputJournalText(w io.Writer, res JournalResult) {
	if len(res.Transactions) == 0 {
		fmt.Fprintf(w, "No transactions found for %s.\n", res.Player)
	} else {
		fmt.Fprintf(w, "Transactions for %s (%d):\n", res.Player, len(res.Transactions))
		for _, e := range res.Transactions {
			fmt.Fprintf(w, "  %s  %-9s  %-24s  ops=[%s] slots=%v\n",
				e.EndedAt.UTC().Format(time.RFC3339), e.State, e.ID,
				strings.Join(e.Operations, ","), e.Slots)
		}
	}
	if rr := res.Replay; rr != nil {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Replay: %d transaction(s), %d operation(s), %d gap(s)\n", rr.Transactions, rr.Operations, rr.Gaps)
		if rr.Verified() {
			fmt.Fprintln(w, "✓ Journal replay matches the committed state")
		} else {
			fmt.Fprintln(w, "✗ Journal replay diverged from the committed state")
			fmt.Fprintf(w, "  expected: %s\n  rebuilt:  %s\n", rr.Expected, rr.Fingerprint)
		}
	}
}
