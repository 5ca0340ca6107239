package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
	"github.com/Houngansi/SuspenseCore-sub009/internal/testutil"
	"github.com/Houngansi/SuspenseCore-sub009/internal/transaction"
)

// setupTestStore creates a new store in a temp directory.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// journaled wires a container and processor to the store.
type journaled struct {
	store     *Store
	container *equipment.Container
	proc      *transaction.Processor
	clock     *testutil.ManualClock
}

func newJournaled(t *testing.T, s *Store, playerID string) *journaled {
	t.Helper()
	clock := testutil.NewManualClock(time.Time{})
	c := equipment.NewContainer([]equipment.SlotConfig{
		{Name: "primary", Tag: equipment.SlotPrimaryWeapon, AllowedTypes: equipment.NewTagSet("Item.Weapon")},
		{Name: "secondary", Tag: equipment.SlotSecondaryWeapon, AllowedTypes: equipment.NewTagSet("Item.Weapon")},
		{Name: "helmet", Tag: equipment.SlotHeadwear, AllowedTypes: equipment.NewTagSet("Item.Armor.Helmet")},
	}, equipment.WithClock(clock))
	return &journaled{
		store:     s,
		container: c,
		clock:     clock,
		proc: transaction.NewProcessor(playerID, c,
			transaction.WithJournal(s),
			transaction.WithClock(clock),
			transaction.WithIDGenerator(testutil.NewFixedIDs()),
		),
	}
}

// commit runs ops in one top-level transaction.
func (j *journaled) commit(t *testing.T, desc string, ops ...equipment.OperationRequest) string {
	t.Helper()
	ctx := context.Background()
	id, err := j.proc.Begin(desc)
	require.NoError(t, err)
	for _, op := range ops {
		_, err := j.proc.Apply(ctx, id, op)
		require.NoError(t, err)
	}
	j.clock.Advance(time.Millisecond)
	require.NoError(t, j.proc.Commit(ctx, id))
	return id
}

func equipOp(slot int, itemID string) equipment.OperationRequest {
	return equipment.OperationRequest{
		OperationID: "op-equip-" + itemID,
		Type:        equipment.OpEquip,
		SourceSlot:  equipment.NoSlot,
		TargetSlot:  slot,
		Item:        equipment.NewItem(itemID, itemID+"-inst"),
	}
}

func swapOp(id string, from, to int) equipment.OperationRequest {
	return equipment.OperationRequest{
		OperationID: id,
		Type:        equipment.OpSwap,
		SourceSlot:  from,
		TargetSlot:  to,
	}
}
