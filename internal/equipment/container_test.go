package equipment

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainer_SnapshotIsDeepCopy(t *testing.T) {
	c := NewContainer(testConfigs())
	ctx := context.Background()

	item := NewItem("AK74", "inst-1").WithProperty(PropWeight, 3.5)
	_, err := c.Apply(ctx, OperationRequest{Type: OpEquip, TargetSlot: 0, SourceSlot: NoSlot, Item: item})
	require.NoError(t, err)

	snap := c.Snapshot()
	snap.Slots[0].Item.Properties[PropWeight] = 99

	got, ok := c.Item(0)
	require.True(t, ok)
	assert.Equal(t, 3.5, got.Properties[PropWeight])
	assert.Equal(t, StateIdle, snap.StateTag)
}

func TestContainer_RestoreReportsChangedSlots(t *testing.T) {
	c := NewContainer(testConfigs())
	ctx := context.Background()
	before := c.Snapshot()

	_, err := c.Apply(ctx, OperationRequest{Type: OpEquip, TargetSlot: 2, Item: NewItem("Altyn_Helmet", "h")})
	require.NoError(t, err)

	changed, err := c.Restore(before)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, changed)

	item, _ := c.Item(2)
	assert.False(t, item.IsValid())
	assert.Equal(t, uint32(2), c.Version(), "restore counts as a mutation")
}

func TestContainer_RestoreLayoutMismatch(t *testing.T) {
	c := NewContainer(testConfigs())
	_, err := c.Restore(StateSnapshot{Slots: make([]Slot, 1)})
	assert.Error(t, err)
}

func TestContainer_LockedRefusesOperations(t *testing.T) {
	c := NewContainer(testConfigs())
	ctx := context.Background()

	require.NoError(t, c.Lock(ctx))
	assert.Equal(t, StateLocked, c.State())

	_, err := c.Apply(ctx, OperationRequest{Type: OpEquip, TargetSlot: 0, Item: NewItem("AK74", "a")})
	assert.Equal(t, FailureTransactionActive, FailureOf(err))

	require.NoError(t, c.Unlock(ctx))
	_, err = c.Apply(ctx, OperationRequest{Type: OpEquip, TargetSlot: 0, Item: NewItem("AK74", "a")})
	assert.NoError(t, err)
	assert.Equal(t, StateIdle, c.State())
}

func TestContainer_ConcurrentApply(t *testing.T) {
	c := NewContainer(testConfigs())
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := c.Apply(ctx, OperationRequest{Type: OpEquip, TargetSlot: 0, Item: NewItem("AK74", "x")})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes, "exactly one equip into the same slot may win")
}

func TestStateMachine_Transitions(t *testing.T) {
	m := NewStateMachine()
	ctx := context.Background()

	assert.Equal(t, StateIdle, m.Current())
	require.NoError(t, m.Fire(ctx, EventBeginEquip))
	assert.Equal(t, StateEquipping, m.Current())
	assert.False(t, m.Can(EventBeginSwitch))
	require.NoError(t, m.Fire(ctx, EventComplete))
	assert.Equal(t, StateIdle, m.Current())

	assert.Error(t, m.Fire(ctx, EventUnlock), "unlock from idle is not a valid transition")

	m.Set(StateLocked)
	assert.Equal(t, StateLocked, m.Current())
}

func TestEventFor(t *testing.T) {
	assert.Equal(t, EventBeginEquip, EventFor(OpEquip))
	assert.Equal(t, EventBeginUnequip, EventFor(OpDrop))
	assert.Equal(t, EventBeginSwitch, EventFor(OpQuickSwitch))
	assert.Equal(t, "", EventFor(OpInspect))
}
