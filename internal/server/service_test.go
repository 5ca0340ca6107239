package server

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Houngansi/SuspenseCore-sub009/internal/config"
	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
	"github.com/Houngansi/SuspenseCore-sub009/internal/eventbus"
	"github.com/Houngansi/SuspenseCore-sub009/internal/replication"
	"github.com/Houngansi/SuspenseCore-sub009/internal/security"
	"github.com/Houngansi/SuspenseCore-sub009/internal/store"
	"github.com/Houngansi/SuspenseCore-sub009/internal/testutil"
)

const (
	slotPrimary   = 0
	slotSecondary = 1
	slotHeadwear  = 4
)

type fixture struct {
	t     *testing.T
	svc   *Service
	clock *testutil.ManualClock
	keys  *security.KeyStorage
	nonce uint64
}

func testKeys(t *testing.T) *security.KeyStorage {
	t.Helper()
	keys := security.NewKeyStorage()
	require.NoError(t, keys.SetKey(bytes.Repeat([]byte{0x5a}, security.MinKeyLength)))
	return keys
}

func newFixture(t *testing.T, cfg config.Config, opts ...Option) *fixture {
	t.Helper()
	clock := testutil.NewManualClock(time.Time{})
	keys := testKeys(t)
	base := []Option{
		WithClock(clock),
		WithIDGenerator(testutil.NewFixedIDs()),
		WithKeys(keys),
	}
	svc, err := New(cfg, nil, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	require.NoError(t, svc.AddPlayer(t.Context(), "p1", nil))
	return &fixture{t: t, svc: svc, clock: clock, keys: keys}
}

// request builds an unsigned request with a fresh nonce.
func (f *fixture) request(playerID string, typ equipment.OperationType, target int, itemID string) equipment.OperationRequest {
	f.nonce++
	req := equipment.OperationRequest{
		OperationID: fmt.Sprintf("op-%d", f.nonce),
		PlayerID:    playerID,
		Type:        typ,
		SourceSlot:  equipment.NoSlot,
		TargetSlot:  target,
		Timestamp:   f.clock.Now(),
		Sequence:    f.nonce,
		Nonce:       f.nonce,
	}
	if itemID != "" {
		req.Item = equipment.NewItem(itemID, "inst-"+itemID)
	}
	return req
}

func (f *fixture) sign(req equipment.OperationRequest) equipment.OperationRequest {
	f.t.Helper()
	sig, err := f.svc.SignRequest(req)
	require.NoError(f.t, err)
	req.Signature = sig
	return req
}

// submit signs and submits req, spacing requests to stay under the rate
// limit.
func (f *fixture) submit(req equipment.OperationRequest) equipment.OperationResult {
	f.t.Helper()
	f.clock.Advance(200 * time.Millisecond)
	return f.svc.Submit(f.t.Context(), f.sign(req), "10.0.0.1")
}

type recorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func record(bus *eventbus.Bus, tag equipment.Tag) *recorder {
	r := &recorder{}
	bus.Subscribe(tag, func(e eventbus.Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) tags() []equipment.Tag {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]equipment.Tag, len(r.events))
	for i, e := range r.events {
		out[i] = e.Tag
	}
	return out
}

func TestSubmit_EquipAppliesAndPublishes(t *testing.T) {
	f := newFixture(t, config.Default())
	rec := record(f.svc.Bus(), eventbus.TagRoot)
	before, err := f.svc.Snapshot("p1")
	require.NoError(t, err)

	res := f.submit(f.request("p1", equipment.OpEquip, slotPrimary, "AK74"))

	require.True(t, res.Success, res.Message)
	assert.Equal(t, equipment.FailureNone, res.FailureType)
	assert.Equal(t, []int{slotPrimary}, res.AffectedSlots)
	require.Len(t, res.AffectedItems, 1)
	assert.Equal(t, "AK74", res.AffectedItems[0].ItemID)
	assert.NotEmpty(t, res.TransactionID)
	assert.Greater(t, res.Version, before.Version)

	snap, err := f.svc.Snapshot("p1")
	require.NoError(t, err)
	assert.Equal(t, "AK74", snap.Slots[slotPrimary].Item.ItemID)
	assert.Equal(t, equipment.StateIdle, snap.StateTag)

	assert.Equal(t, []equipment.Tag{
		eventbus.TagTransactionCommitted,
		eventbus.TagSlotChanged,
		eventbus.TagOperationCompleted,
	}, rec.tags())
}

func TestSubmit_BrokenItemRejected(t *testing.T) {
	f := newFixture(t, config.Default())
	rec := record(f.svc.Bus(), eventbus.TagOperationRejected)

	req := f.request("p1", equipment.OpEquip, slotPrimary, "AK74")
	req.Item.Durability = 0
	res := f.submit(req)

	assert.False(t, res.Success)
	assert.Equal(t, equipment.FailureItemBroken, res.FailureType)
	assert.False(t, res.CanOverride)
	assert.Empty(t, res.TransactionID)
	assert.Len(t, rec.tags(), 1)

	snap, err := f.svc.Snapshot("p1")
	require.NoError(t, err)
	assert.False(t, snap.Slots[slotPrimary].Item.IsValid())
}

func TestSubmit_RejectedNonceMayBeRetried(t *testing.T) {
	f := newFixture(t, config.Default())

	req := f.request("p1", equipment.OpEquip, slotPrimary, "AK74")
	req.Item.Durability = 0
	require.False(t, f.submit(req).Success)

	req.Item.Durability = 1
	res := f.submit(req)
	assert.True(t, res.Success, res.Message)
}

func TestSubmit_ReplayDetected(t *testing.T) {
	f := newFixture(t, config.Default())
	rec := record(f.svc.Bus(), eventbus.TagSecurityViolation)

	req := f.request("p1", equipment.OpEquip, slotPrimary, "AK74")
	require.True(t, f.submit(req).Success)

	res := f.submit(req)
	assert.False(t, res.Success)
	assert.Equal(t, equipment.FailureSecurityViolation, res.FailureType)
	assert.Equal(t, security.ResultReplayAttackDetected.String(), res.Message)

	require.Len(t, rec.events, 1)
	v, ok := rec.events[0].Payload.(Violation)
	require.True(t, ok)
	assert.Equal(t, security.ResultReplayAttackDetected, v.Result)
	assert.Equal(t, uint64(1), f.svc.Stats().Violations)
}

func TestSubmit_BadSignature(t *testing.T) {
	f := newFixture(t, config.Default())

	req := f.sign(f.request("p1", equipment.OpEquip, slotPrimary, "AK74"))
	req.TargetSlot = slotSecondary
	f.clock.Advance(time.Second)
	res := f.svc.Submit(t.Context(), req, "10.0.0.1")

	assert.Equal(t, equipment.FailureSecurityViolation, res.FailureType)
	assert.Equal(t, security.ResultHMACVerificationFailed.String(), res.Message)
}

func TestSubmit_CapturedRequestWithFreshNonceRefused(t *testing.T) {
	f := newFixture(t, config.Default())

	captured := f.sign(f.request("p1", equipment.OpEquip, slotPrimary, "AK74"))
	f.clock.Advance(time.Second)
	require.True(t, f.svc.Submit(t.Context(), captured, "10.0.0.1").Success)

	unequip := f.request("p1", equipment.OpUnequip, equipment.NoSlot, "")
	unequip.SourceSlot = slotPrimary
	require.True(t, f.submit(unequip).Success)

	captured.Nonce = 987654321
	f.clock.Advance(time.Second)
	res := f.svc.Submit(t.Context(), captured, "10.0.0.1")

	assert.False(t, res.Success)
	assert.Equal(t, equipment.FailureSecurityViolation, res.FailureType)
	assert.Equal(t, security.ResultHMACVerificationFailed.String(), res.Message)

	snap, err := f.svc.Snapshot("p1")
	require.NoError(t, err)
	assert.True(t, snap.Slots[slotPrimary].IsEmpty())
}

func TestSubmit_EquipWithoutInstanceIDRefused(t *testing.T) {
	f := newFixture(t, config.Default())

	first := f.request("p1", equipment.OpEquip, slotPrimary, "AK74")
	first.Item.InstanceID = ""
	res := f.submit(first)
	assert.False(t, res.Success)
	assert.Equal(t, equipment.FailureInvalidRequest, res.FailureType)

	snap, err := f.svc.Snapshot("p1")
	require.NoError(t, err)
	assert.True(t, snap.Slots[slotPrimary].IsEmpty())
}

func TestSubmit_UnknownPlayer(t *testing.T) {
	f := newFixture(t, config.Default())

	res := f.submit(f.request("ghost", equipment.OpEquip, slotPrimary, "AK74"))

	assert.Equal(t, equipment.FailureInvalidRequest, res.FailureType)
	assert.Contains(t, res.Message, "ghost")
}

func TestSubmit_LevelRequirement(t *testing.T) {
	f := newFixture(t, config.Default())
	ch, err := f.svc.Character("p1")
	require.NoError(t, err)
	ch.Level = 5
	require.NoError(t, f.svc.SetCharacter("p1", ch))

	res := f.submit(f.request("p1", equipment.OpEquip, slotPrimary, "M4A1"))

	assert.False(t, res.Success)
	assert.Equal(t, equipment.FailureLevelRequirement, res.FailureType)
}

func TestSubmit_SlotOccupied(t *testing.T) {
	f := newFixture(t, config.Default())
	require.True(t, f.submit(f.request("p1", equipment.OpEquip, slotPrimary, "AK74")).Success)

	res := f.submit(f.request("p1", equipment.OpEquip, slotPrimary, "M4A1"))

	assert.Equal(t, equipment.FailureSlotOccupied, res.FailureType)
}

func TestSubmit_Swap(t *testing.T) {
	f := newFixture(t, config.Default())
	require.True(t, f.submit(f.request("p1", equipment.OpEquip, slotPrimary, "AK74")).Success)
	require.True(t, f.submit(f.request("p1", equipment.OpEquip, slotSecondary, "M4A1")).Success)

	req := f.request("p1", equipment.OpSwap, slotSecondary, "")
	req.SourceSlot = slotPrimary
	res := f.submit(req)

	require.True(t, res.Success, res.Message)
	assert.Equal(t, []int{slotPrimary, slotSecondary}, res.AffectedSlots)
	snap, err := f.svc.Snapshot("p1")
	require.NoError(t, err)
	assert.Equal(t, "M4A1", snap.Slots[slotPrimary].Item.ItemID)
	assert.Equal(t, "AK74", snap.Slots[slotSecondary].Item.ItemID)
}

func TestSubmit_SimulatedDoesNotApply(t *testing.T) {
	f := newFixture(t, config.Default())

	req := f.request("p1", equipment.OpEquip, slotPrimary, "AK74")
	req.Simulated = true
	res := f.submit(req)

	assert.True(t, res.Success)
	assert.Equal(t, "simulated", res.Message)
	assert.Empty(t, res.TransactionID)
	snap, err := f.svc.Snapshot("p1")
	require.NoError(t, err)
	assert.False(t, snap.Slots[slotPrimary].Item.IsValid())
}

func TestSubmit_LockedPlayer(t *testing.T) {
	f := newFixture(t, config.Default())
	require.NoError(t, f.svc.LockPlayer(t.Context(), "p1"))

	res := f.submit(f.request("p1", equipment.OpEquip, slotPrimary, "AK74"))
	assert.Equal(t, equipment.FailureTransactionActive, res.FailureType)

	require.NoError(t, f.svc.UnlockPlayer(t.Context(), "p1"))
	res = f.submit(f.request("p1", equipment.OpEquip, slotPrimary, "AK74"))
	assert.True(t, res.Success, res.Message)
}

func TestAddPlayer_Duplicate(t *testing.T) {
	f := newFixture(t, config.Default())

	err := f.svc.AddPlayer(t.Context(), "p1", nil)

	assert.ErrorIs(t, err, ErrPlayerExists)
	assert.Equal(t, []string{"p1"}, f.svc.Players())
}

func TestRemovePlayer(t *testing.T) {
	f := newFixture(t, config.Default())
	require.NoError(t, f.svc.AddPlayer(t.Context(), "p2", nil))
	require.NoError(t, f.svc.RegisterObserver("p2", "p1", replication.Viewpoint{}))

	assert.True(t, f.svc.RemovePlayer("p1"))
	assert.False(t, f.svc.RemovePlayer("p1"))

	m, err := f.svc.Replication("p2")
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, m.Clients())
	_, err = f.svc.Snapshot("p1")
	assert.ErrorIs(t, err, ErrUnknownPlayer)
}

func TestTick_QueueHonorsPriorityAndBudget(t *testing.T) {
	cfg := config.Default()
	cfg.Server.MaxOpsPerTick = 1
	f := newFixture(t, cfg)

	low := f.sign(f.request("p1", equipment.OpEquip, slotPrimary, "AK74"))
	low.Priority = equipment.PriorityLow
	high := f.sign(f.request("p1", equipment.OpEquip, slotHeadwear, "Altyn_Helmet"))
	high.Priority = equipment.PriorityCritical
	require.NoError(t, f.svc.Enqueue(low, "10.0.0.1"))
	require.NoError(t, f.svc.Enqueue(high, "10.0.0.1"))

	rep := f.svc.Tick(t.Context())
	require.Len(t, rep.Results, 1)
	assert.Equal(t, high.OperationID, rep.Results[0].Result.OperationID)
	assert.True(t, rep.Results[0].Result.Success, rep.Results[0].Result.Message)
	assert.Equal(t, 1, rep.Deferred)

	f.clock.Advance(time.Second)
	rep = f.svc.Tick(t.Context())
	require.Len(t, rep.Results, 1)
	assert.Equal(t, low.OperationID, rep.Results[0].Result.OperationID)
	assert.Equal(t, 0, rep.Deferred)
	assert.Equal(t, uint64(2), rep.Tick)
}

func TestEnqueue_Bounded(t *testing.T) {
	cfg := config.Default()
	cfg.Server.MaxQueued = 3
	cfg.Server.MaxQueuedPerPlayer = 2
	f := newFixture(t, cfg)
	require.NoError(t, f.svc.AddPlayer(t.Context(), "p2", nil))

	require.NoError(t, f.svc.Enqueue(f.request("p1", equipment.OpEquip, slotPrimary, "AK74"), "10.0.0.1"))
	require.NoError(t, f.svc.Enqueue(f.request("p1", equipment.OpEquip, slotHeadwear, "Altyn_Helmet"), "10.0.0.1"))
	assert.ErrorIs(t, f.svc.Enqueue(f.request("p1", equipment.OpEquip, slotSecondary, "PM"), "10.0.0.1"), ErrQueueFull,
		"per-player share exhausted")

	require.NoError(t, f.svc.Enqueue(f.request("p2", equipment.OpEquip, slotPrimary, "AK74"), "10.0.0.2"))
	assert.ErrorIs(t, f.svc.Enqueue(f.request("p2", equipment.OpEquip, slotHeadwear, "Altyn_Helmet"), "10.0.0.2"), ErrQueueFull,
		"total capacity exhausted")
	assert.Equal(t, 3, f.svc.Pending())

	f.svc.Tick(t.Context())
	assert.Equal(t, 0, f.svc.Pending())
	assert.NoError(t, f.svc.Enqueue(f.request("p1", equipment.OpEquip, slotSecondary, "PM"), "10.0.0.1"),
		"taken requests free their share")

	f.svc.Close()
	assert.ErrorIs(t, f.svc.Enqueue(f.request("p1", equipment.OpEquip, slotSecondary, "PM"), "10.0.0.1"), ErrServiceClosed)
}

func TestTick_ReplicatesToObserver(t *testing.T) {
	f := newFixture(t, config.Default())
	require.NoError(t, f.svc.AddPlayer(t.Context(), "p2", nil))
	require.NoError(t, f.svc.RegisterObserver("p1", "p2", replication.Viewpoint{LineOfSight: true}))
	require.True(t, f.submit(f.request("p1", equipment.OpEquip, slotPrimary, "AK74")).Success)

	rep := f.svc.Tick(t.Context())

	var toP2 *replication.Outbound
	for i, ob := range rep.Outbound {
		if ob.OwnerID == "p1" && ob.ClientID == "p2" {
			toP2 = &rep.Outbound[i]
		}
	}
	require.NotNil(t, toP2, "p2 receives p1's equipment")

	m, err := f.svc.Replication("p1")
	require.NoError(t, err)
	replica := replication.NewReplica(f.svc.Loadout().Configs(), m.Codec(), f.keys)
	_, err = replica.ApplyPayload(toP2.Payload)
	require.NoError(t, err)

	snap, err := f.svc.Snapshot("p1")
	require.NoError(t, err)
	assert.Equal(t, "AK74", replica.Snapshot().Slots[slotPrimary].Item.ItemID)
	assert.Equal(t, m.Version(), replica.Version())
	assert.Equal(t, snap.Slots[slotPrimary].Item.InstanceID, replica.Snapshot().Slots[slotPrimary].Item.InstanceID)
	require.NoError(t, f.svc.Acknowledge("p1", "p2", replica.Version()))
}

func TestTick_FlushesNextFrameEvents(t *testing.T) {
	f := newFixture(t, config.Default())
	var got int
	f.svc.Bus().Subscribe(eventbus.TagOperationCompleted, func(eventbus.Event) { got++ },
		eventbus.WithExecContext(eventbus.NextFrame))

	require.True(t, f.submit(f.request("p1", equipment.OpEquip, slotPrimary, "AK74")).Success)
	assert.Equal(t, 0, got)

	rep := f.svc.Tick(t.Context())
	assert.Equal(t, 1, got)
	assert.Equal(t, 1, rep.Flushed)
}

func TestStore_JournalsAndResumes(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := newFixture(t, config.Default(), WithStore(st))
	require.True(t, f.submit(f.request("p1", equipment.OpEquip, slotPrimary, "AK74")).Success)
	res := f.submit(f.request("p1", equipment.OpEquip, slotHeadwear, "Altyn_Helmet"))
	require.True(t, res.Success, res.Message)
	assert.NotEmpty(t, res.Warnings, "face shield companion is missing")

	txs, err := st.ReadTransactions(t.Context(), "p1", 0)
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	replay, err := st.ReplayPlayer(t.Context(), "p1")
	require.NoError(t, err)
	assert.True(t, replay.Verified())

	again := newFixture(t, config.Default(), WithStore(st))
	snap, err := again.svc.Snapshot("p1")
	require.NoError(t, err)
	assert.Equal(t, "AK74", snap.Slots[slotPrimary].Item.ItemID)
	assert.Equal(t, "Altyn_Helmet", snap.Slots[slotHeadwear].Item.ItemID)
}

func TestStats(t *testing.T) {
	f := newFixture(t, config.Default())
	require.True(t, f.submit(f.request("p1", equipment.OpEquip, slotPrimary, "AK74")).Success)
	f.submit(f.request("p1", equipment.OpEquip, slotPrimary, "M4A1"))
	f.svc.Tick(t.Context())

	st := f.svc.Stats()
	assert.Equal(t, 1, st.Players)
	assert.Equal(t, uint64(2), st.Submitted)
	assert.Equal(t, uint64(1), st.Succeeded)
	assert.Equal(t, uint64(1), st.Rejected)
	assert.Equal(t, uint64(1), st.Ticks)
	assert.Equal(t, uint64(1), st.Transactions["p1"].Committed)
	assert.Equal(t, uint64(2), st.Security.ValidRequests)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Server.TickRate = 0

	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestNew_KeySourcePrecedence(t *testing.T) {
	envKey := strings.Repeat("e", security.MinKeyLength)
	cfgKey := strings.Repeat("ab", security.MinKeyLength)

	signedWith := func(t *testing.T, svc *Service, key []byte) bool {
		t.Helper()
		ref := security.NewKeyStorage()
		require.NoError(t, ref.SetKey(key))
		req := equipment.OperationRequest{OperationID: "op-1", PlayerID: "p1", Type: equipment.OpEquip, Nonce: 1}
		got, err := svc.SignRequest(req)
		require.NoError(t, err)
		want, err := ref.GenerateHMAC([]byte(security.CanonicalRequest(req)))
		require.NoError(t, err)
		return got == want
	}

	t.Run("environment before config", func(t *testing.T) {
		t.Setenv(security.EnvHMACKey, envKey)
		cfg := config.Default()
		cfg.Security.Key = cfgKey
		svc, err := New(cfg, nil)
		require.NoError(t, err)
		t.Cleanup(svc.Close)
		assert.True(t, signedWith(t, svc, []byte(envKey)))
	})

	t.Run("config when environment unset", func(t *testing.T) {
		t.Setenv(security.EnvHMACKey, "")
		cfg := config.Default()
		cfg.Security.Key = cfgKey
		svc, err := New(cfg, nil)
		require.NoError(t, err)
		t.Cleanup(svc.Close)
		assert.True(t, signedWith(t, svc, bytes.Repeat([]byte{0xab}, security.MinKeyLength)))
	})

	t.Run("malformed config key", func(t *testing.T) {
		t.Setenv(security.EnvHMACKey, "")
		cfg := config.Default()
		cfg.Security.Key = "0011"
		_, err := New(cfg, nil)
		assert.ErrorIs(t, err, security.ErrKeyTooShort)
	})
}
