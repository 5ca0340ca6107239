package replication

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
	"github.com/Houngansi/SuspenseCore-sub009/internal/security"
)

type slotState struct {
	config         equipment.SlotConfig
	item           equipment.ItemInstance
	dirty          bool
	changeCount    int
	priority       float64
	lastReplicated uint32
	lastChange     time.Time
}

// Manager tracks one player's replicated equipment state and builds
// payloads for the clients observing it.
type Manager struct {
	ownerID string
	cfg     Config
	codec   *Codec
	keys    *security.KeyStorage
	clock   equipment.Clock
	custom  PolicyFunc

	// slotMu guards slot state, versioning and the adaptive strategy.
	slotMu       sync.Mutex
	slots        []slotState
	current      uint32
	mask         map[int]struct{}
	history      map[uint32][]int
	activeWeapon int
	stateTag     equipment.Tag
	forceFull    bool
	owner        Viewpoint
	interval     time.Duration
	maxDeltas    int
	quality      float64

	clientMu sync.Mutex
	clients  map[string]*client

	statsMu sync.Mutex
	stats   Stats
}

// Option configures a Manager.
type Option func(*Manager)

// WithKeys enables payload and per-slot signing when Config.EnableHMAC is
// set.
func WithKeys(keys *security.KeyStorage) Option {
	return func(m *Manager) {
		m.keys = keys
	}
}

// WithClock sets the clock used for update intervals and timestamps.
func WithClock(c equipment.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithPolicyFunc sets the predicate used by PolicyCustom.
func WithPolicyFunc(f PolicyFunc) Option {
	return func(m *Manager) {
		m.custom = f
	}
}

// WithStartVersion sets the initial version counter.
func WithStartVersion(v uint32) Option {
	return func(m *Manager) {
		m.current = v
	}
}

// NewManager creates a manager seeded from snap. Out-of-range config values
// are clamped.
func NewManager(ownerID string, snap equipment.StateSnapshot, cfg Config, opts ...Option) *Manager {
	cfg = cfg.normalize()
	m := &Manager{
		ownerID:      ownerID,
		cfg:          cfg,
		clock:        equipment.SystemClock{},
		current:      1,
		mask:         make(map[int]struct{}),
		history:      make(map[uint32][]int),
		activeWeapon: snap.ActiveWeaponSlot,
		stateTag:     snap.StateTag,
		owner:        Viewpoint{PlayerID: ownerID},
		interval:     cfg.Interval(),
		maxDeltas:    cfg.MaxDeltasBeforeFull,
		quality:      1,
		clients:      make(map[string]*client),
	}
	for _, opt := range opts {
		opt(m)
	}

	codecOpts := []CodecOption{WithCompression(cfg.Compression, cfg.CompressionThreshold)}
	if cfg.EnableHMAC && m.keys != nil {
		codecOpts = append(codecOpts, WithSigning(m.keys))
	}
	m.codec = NewCodec(codecOpts...)

	m.slots = make([]slotState, len(snap.Slots))
	for i, s := range snap.Slots {
		m.slots[i] = slotState{config: s.Config, item: s.Item.Clone(), priority: 1}
	}
	for i := range m.slots {
		m.slots[i].priority = m.slotPriorityLocked(i)
	}
	return m
}

// OwnerID returns the player whose equipment is replicated.
func (m *Manager) OwnerID() string {
	return m.ownerID
}

// Codec returns the payload codec, for receivers sharing the key.
func (m *Manager) Codec() *Codec {
	return m.codec
}

// Version returns the current replication version.
func (m *Manager) Version() uint32 {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	return m.current
}

// SlotCount returns the number of replicated slots.
func (m *Manager) SlotCount() int {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	return len(m.slots)
}

// MarkForReplication marks slot dirty and bumps the version. force requests
// a full sync for every client on the next update.
func (m *Manager) MarkForReplication(slot int, force bool) bool {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	return m.markLocked(slot, force)
}

// UpdateSlot replaces the replicated item of slot and marks it.
func (m *Manager) UpdateSlot(slot int, item equipment.ItemInstance, force bool) bool {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	if slot < 0 || slot >= len(m.slots) {
		slog.Warn("replication: slot out of range", "owner", m.ownerID, "slot", slot)
		return false
	}
	m.slots[slot].item = item.Clone()
	return m.markLocked(slot, force)
}

// OnEquipmentChanged copies the changed slots, active weapon slot and
// state tag from snap and marks the changed slots.
func (m *Manager) OnEquipmentChanged(snap equipment.StateSnapshot, changed []int) {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()

	metaChanged := snap.ActiveWeaponSlot != m.activeWeapon || (snap.StateTag.IsValid() && snap.StateTag != m.stateTag)
	m.activeWeapon = snap.ActiveWeaponSlot
	if snap.StateTag.IsValid() {
		m.stateTag = snap.StateTag
	}

	marked := 0
	for _, idx := range changed {
		s := snap.Slot(idx)
		if s == nil || idx >= len(m.slots) {
			slog.Warn("replication: changed slot out of range", "owner", m.ownerID, "slot", idx)
			continue
		}
		m.slots[idx].item = s.Item.Clone()
		if m.markLocked(idx, false) {
			marked++
		}
	}
	if marked == 0 && metaChanged {
		m.bumpLocked()
	}
	for i := range m.slots {
		m.slots[i].priority = m.slotPriorityLocked(i)
	}
}

// SetActiveWeaponSlot updates the active weapon slot and bumps the version.
func (m *Manager) SetActiveWeaponSlot(idx int) {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	if idx == m.activeWeapon {
		return
	}
	m.activeWeapon = idx
	for i := range m.slots {
		m.slots[i].priority = m.slotPriorityLocked(i)
	}
	m.bumpLocked()
}

// SetStateTag updates the replicated state tag and bumps the version.
func (m *Manager) SetStateTag(tag equipment.Tag) {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	if tag == m.stateTag {
		return
	}
	m.stateTag = tag
	m.bumpLocked()
}

// SetOwnerView updates the owner's position for relevancy.
func (m *Manager) SetOwnerView(v Viewpoint) {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	v.PlayerID = m.ownerID
	m.owner = v
}

// MarkAllDirty marks every slot dirty under a single version bump. Clients
// that are close enough receive the slots as a delta.
func (m *Manager) MarkAllDirty() {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	m.markAllLocked()
}

// ForceFullReplication marks every slot dirty and sends full state to every
// client on the next update.
func (m *Manager) ForceFullReplication() {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	m.forceFull = true
	m.markAllLocked()
	slog.Debug("replication: full sync forced", "owner", m.ownerID, "version", m.current)
}

func (m *Manager) markAllLocked() {
	now := m.clock.Now()
	for i := range m.slots {
		m.slots[i].dirty = true
		m.slots[i].lastChange = now
		m.mask[i] = struct{}{}
	}
	for i := range m.slots {
		m.slots[i].priority = m.slotPriorityLocked(i)
	}
	m.bumpLocked()
}

func (m *Manager) markLocked(slot int, force bool) bool {
	if slot < 0 || slot >= len(m.slots) {
		slog.Warn("replication: slot out of range", "owner", m.ownerID, "slot", slot)
		return false
	}
	s := &m.slots[slot]
	s.dirty = true
	s.changeCount++
	s.lastChange = m.clock.Now()
	s.priority = m.slotPriorityLocked(slot)
	m.mask[slot] = struct{}{}
	if force {
		m.forceFull = true
	}
	m.bumpLocked()
	return true
}

// bumpLocked increments the version and records the current delta mask.
func (m *Manager) bumpLocked() {
	m.current++
	mask := slices.Sorted(maps.Keys(m.mask))
	if mask == nil {
		mask = []int{}
	}
	m.history[m.current] = mask
}

// SlotPriority returns the replication priority of slot.
func (m *Manager) SlotPriority(slot int) float64 {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	if slot < 0 || slot >= len(m.slots) {
		return 0
	}
	return m.slotPriorityLocked(slot)
}

func (m *Manager) slotPriorityLocked(slot int) float64 {
	s := m.slots[slot]
	p := 1.0
	if s.config.Tag.Matches(equipment.SlotPrimaryWeapon) || s.config.Tag.Matches(equipment.SlotSecondaryWeapon) {
		p *= 2
	}
	if s.dirty {
		p *= 3
	}
	if s.changeCount > 5 {
		p *= 1.5
	}
	if slot == m.activeWeapon {
		p *= 5
	}
	return p
}

// GetReplicationDelta returns the changes since lastVersion. It returns an
// empty delta when lastVersion is current and full state when a full sync
// is forced or lastVersion is too far behind.
func (m *Manager) GetReplicationDelta(lastVersion uint32) Data {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	return m.deltaLocked(lastVersion, m.clock.Now())
}

// FullState returns the complete replicated state.
func (m *Manager) FullState() Data {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	return m.fullLocked(m.clock.Now())
}

func (m *Manager) deltaLocked(last uint32, now time.Time) Data {
	if last == m.current {
		return Data{
			SlotCount:        len(m.slots),
			ActiveWeaponSlot: m.activeWeapon,
			StateTag:         m.stateTag,
			Version:          m.current,
			UpdatedAt:        now.UnixMilli(),
		}
	}
	if m.forceFull || Behind(m.current, last) > uint32(m.maxDeltas) {
		return m.fullLocked(now)
	}

	union := make(map[int]struct{})
	for v := last + 1; ; v++ {
		mask, ok := m.history[v]
		if !ok {
			return m.fullLocked(now)
		}
		for _, idx := range mask {
			union[idx] = struct{}{}
		}
		if v == m.current {
			break
		}
	}

	d := Data{
		SlotCount:        len(m.slots),
		ActiveWeaponSlot: m.activeWeapon,
		StateTag:         m.stateTag,
		Version:          m.current,
		UpdatedAt:        now.UnixMilli(),
	}
	for idx := range union {
		if idx < len(m.slots) {
			d.Slots = append(d.Slots, SlotEntry{Index: idx, Item: m.slots[idx].item.Clone()})
		}
	}
	sortEntries(d.Slots)
	return OptimizeData(d)
}

func (m *Manager) fullLocked(now time.Time) Data {
	d := Data{
		Full:             true,
		SlotCount:        len(m.slots),
		ActiveWeaponSlot: m.activeWeapon,
		StateTag:         m.stateTag,
		Version:          m.current,
		UpdatedAt:        now.UnixMilli(),
		Slots:            make([]SlotEntry, len(m.slots)),
	}
	for i, s := range m.slots {
		d.Slots[i] = SlotEntry{Index: i, Item: s.item.Clone()}
	}
	return OptimizeData(d)
}

// AdaptStrategy tunes update rate and delta threshold to network quality
// in [0, 1].
func (m *Manager) AdaptStrategy(quality float64) {
	quality = clamp01(quality)
	m.slotMu.Lock()
	defer m.slotMu.Unlock()

	m.quality = quality
	var hz float64
	switch {
	case quality < 0.3:
		hz, m.maxDeltas = 5, 20
	case quality < 0.7:
		hz, m.maxDeltas = 10, m.cfg.MaxDeltasBeforeFull
	default:
		hz, m.maxDeltas = 20, 5
	}
	m.interval = rateInterval(hz)
	slog.Debug("replication strategy adapted", "owner", m.ownerID, "quality", quality, "rate", hz, "max_deltas", m.maxDeltas)
}

// SetUpdateRate sets the per-client update rate in Hz, clamped to [1, 60].
func (m *Manager) SetUpdateRate(hz float64) {
	hz = min(MaxUpdateRate, max(MinUpdateRate, hz))
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	m.interval = rateInterval(hz)
}

// UpdateInterval returns the minimum time between updates to one client.
func (m *Manager) UpdateInterval() time.Duration {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	return m.interval
}

// MaxDeltas returns the current delta threshold.
func (m *Manager) MaxDeltas() int {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	return m.maxDeltas
}

// HistoryLen returns the number of recorded version masks.
func (m *Manager) HistoryLen() int {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	return len(m.history)
}

// flushLocked clears dirty flags, the accumulated mask and the forced full
// flag after a replication pass, and prunes old history.
func (m *Manager) flushLocked() {
	for i := range m.slots {
		if m.slots[i].dirty {
			m.slots[i].dirty = false
			m.slots[i].lastReplicated = m.current
			m.slots[i].priority = m.slotPriorityLocked(i)
		}
	}
	clear(m.mask)
	m.forceFull = false

	if len(m.history) > historyCleanupSize {
		for v := range m.history {
			if Behind(m.current, v) > historyKeepVersions {
				delete(m.history, v)
			}
		}
	}
}

// Stats returns a copy of the counters.
func (m *Manager) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

func (m *Manager) signEntries(d *Data) {
	if !m.codec.Signed() {
		return
	}
	for i := range d.Slots {
		e := &d.Slots[i]
		if !e.Item.IsValid() {
			continue
		}
		sig, err := m.keys.GenerateHMAC([]byte(equipment.CanonicalItem(e.Item)))
		if err != nil {
			slog.Error("replication: slot signing failed", "owner", m.ownerID, "slot", e.Index, "error", err)
			continue
		}
		e.HMAC = sig
	}
}
