package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Houngansi/SuspenseCore-sub009/internal/config"
	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
	"github.com/Houngansi/SuspenseCore-sub009/internal/security"
	"github.com/Houngansi/SuspenseCore-sub009/internal/server"
	"github.com/Houngansi/SuspenseCore-sub009/internal/store"
	"github.com/Houngansi/SuspenseCore-sub009/internal/testutil"
)

// seedJournal commits one equip per item for player p1 into a new
// database and returns its path.
func seedJournal(t *testing.T, equips map[int]string) string {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "journal.db")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	keys := security.NewKeyStorage()
	require.NoError(t, keys.GenerateNewKey(security.MinKeyLength))
	clock := testutil.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	cfg := config.Default()
	cfg.Store.Path = dbPath
	svc, err := server.New(cfg, nil,
		server.WithStore(st),
		server.WithKeys(keys),
		server.WithClock(clock),
		server.WithIDGenerator(testutil.NewFixedIDs()),
	)
	require.NoError(t, err)
	defer svc.Close()
	require.NoError(t, svc.AddPlayer(ctx, "p1", nil))

	nonce := uint64(0)
	for _, slot := range []int{0, 1, 2, 3, 4, 5, 6, 7, 8} {
		itemID, ok := equips[slot]
		if !ok {
			continue
		}
		nonce++
		clock.Advance(time.Second)
		req := equipment.OperationRequest{
			OperationID: fmt.Sprintf("op-%d", nonce),
			PlayerID:    "p1",
			Type:        equipment.OpEquip,
			SourceSlot:  equipment.NoSlot,
			TargetSlot:  slot,
			Item:        equipment.NewItem(itemID, fmt.Sprintf("inst-%d", nonce)),
			Timestamp:   clock.Now(),
			Sequence:    nonce,
			Nonce:       nonce,
		}
		req.Signature, err = svc.SignRequest(req)
		require.NoError(t, err)
		res := svc.Submit(ctx, req, "")
		require.True(t, res.Success, "equip %s: %s", itemID, res.Message)
	}
	return dbPath
}

func TestJournalListsPlayers(t *testing.T) {
	dbPath := seedJournal(t, map[int]string{2: "PM"})

	buf := &bytes.Buffer{}
	cmd := NewJournalCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", dbPath})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "p1\n", buf.String())
}

func TestJournalPlayerTransactions(t *testing.T) {
	dbPath := seedJournal(t, map[int]string{0: "AK74", 2: "PM"})

	buf := &bytes.Buffer{}
	cmd := NewJournalCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--db", dbPath, "--player", "p1"})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string        `json:"status"`
		Data   JournalResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "p1", resp.Data.Player)
	require.Len(t, resp.Data.Transactions, 2)

	slots := map[int]bool{}
	for _, e := range resp.Data.Transactions {
		assert.Equal(t, []string{"Equip"}, e.Operations)
		require.Len(t, e.Slots, 1)
		slots[e.Slots[0]] = true
	}
	assert.Equal(t, map[int]bool{0: true, 2: true}, slots)
	assert.Nil(t, resp.Data.Replay)
}

func TestJournalVerify(t *testing.T) {
	dbPath := seedJournal(t, map[int]string{0: "AK74", 5: "GSSh_01"})

	buf := &bytes.Buffer{}
	cmd := NewJournalCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", dbPath, "--player", "p1", "--verify"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "Transactions for p1 (2):")
	assert.Contains(t, output, "Replay: 2 transaction(s), 2 operation(s), 0 gap(s)")
	assert.Contains(t, output, "✓ Journal replay matches the committed state")
}

func TestJournalLimit(t *testing.T) {
	dbPath := seedJournal(t, map[int]string{0: "AK74", 2: "PM", 5: "GSSh_01"})

	buf := &bytes.Buffer{}
	cmd := NewJournalCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--db", dbPath, "--player", "p1", "--limit", "1"})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Data JournalResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Len(t, resp.Data.Transactions, 1)
}

func TestJournalUnknownPlayer(t *testing.T) {
	dbPath := seedJournal(t, map[int]string{2: "PM"})

	buf := &bytes.Buffer{}
	cmd := NewJournalCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", dbPath, "--player", "ghost"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "No transactions found for ghost.")
}

func TestJournalMissingDatabase(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewJournalCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", filepath.Join(t.TempDir(), "missing.db")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}

func TestJournalMissingDatabaseFlag(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewJournalCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "db")
}
