package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
	"github.com/Houngansi/SuspenseCore-sub009/internal/security"
	"github.com/Houngansi/SuspenseCore-sub009/internal/testutil"
	"github.com/Houngansi/SuspenseCore-sub009/internal/transaction"
)

func TestReadTransactions_OrderAndLimit(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	j := newJournaled(t, s, "p1")

	first := j.commit(t, "equip rifle", equipOp(0, "AK74"))
	second := j.commit(t, "equip pistol", equipOp(1, "PM"))
	third := j.commit(t, "swap", swapOp("op-swap", 0, 1))

	all, err := s.ReadTransactions(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{first, second, third}, []string{all[0].ID, all[1].ID, all[2].ID})

	got := all[0]
	assert.Equal(t, "p1", got.PlayerID)
	assert.Equal(t, "equip rifle", got.Description)
	assert.Equal(t, transaction.StateCommitted, got.State)
	require.Len(t, got.Operations, 1)
	assert.Equal(t, "op-equip-AK74", got.Operations[0].OperationID)
	assert.Equal(t, equipment.OpEquip, got.Operations[0].Type)
	assert.Equal(t, []int{0}, got.AffectedSlots())
	assert.Equal(t, time.Millisecond, got.Duration())
	assert.Equal(t, "AK74", got.After.Slots[0].Item.ItemID)

	last2, err := s.ReadTransactions(ctx, "p1", 2)
	require.NoError(t, err)
	require.Len(t, last2, 2)
	assert.Equal(t, second, last2[0].ID)
	assert.Equal(t, third, last2[1].ID)

	none, err := s.ReadTransactions(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestReadTransaction_NotFound(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.ReadTransaction(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHasOperation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	j := newJournaled(t, s, "p1")
	j.commit(t, "equip", equipOp(0, "AK74"))

	ok, err := s.HasOperation(ctx, "op-equip-AK74")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasOperation(ctx, "op-other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLatestSnapshot(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.LatestSnapshot(ctx, "p1")
	require.ErrorIs(t, err, ErrNotFound)

	j := newJournaled(t, s, "p1")
	j.commit(t, "equip", equipOp(0, "AK74"))
	j.commit(t, "equip", equipOp(2, "Altyn"))

	snap, err := s.LatestSnapshot(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, j.container.Snapshot().Fingerprint(), snap.Fingerprint())
	assert.Equal(t, "Altyn", snap.Slots[2].Item.ItemID)
}

func TestReadSecurityEvents_FilterAndLimit(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	clock := testutil.NewManualClock(time.Time{})

	for i := range 5 {
		player := "p1"
		if i%2 == 1 {
			player = "p2"
		}
		require.NoError(t, s.AppendSecurityEvent(ctx, security.Event{
			Time:     clock.Advance(time.Second),
			Kind:     security.EventReplay,
			PlayerID: player,
			IP:       "10.0.0.1",
			Detail:   fmt.Sprintf("nonce %d", i),
		}))
	}

	all, err := s.ReadSecurityEvents(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	p1, err := s.ReadSecurityEvents(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, p1, 3)
	assert.Equal(t, "nonce 0", p1[0].Detail)

	recent, err := s.ReadSecurityEvents(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "nonce 3", recent[0].Detail)
	assert.Equal(t, "nonce 4", recent[1].Detail)
	assert.True(t, recent[1].Time.Equal(testutil.Epoch.Add(5*time.Second)))
}

func TestPlayers(t *testing.T) {
	s := setupTestStore(t)
	newJournaled(t, s, "zed").commit(t, "equip", equipOp(0, "AK74"))
	newJournaled(t, s, "amy").commit(t, "equip", equipOp(0, "M4A1"))

	players, err := s.Players(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"amy", "zed"}, players)
}
