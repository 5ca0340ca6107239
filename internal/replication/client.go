package replication

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

// pingForZeroQuality is the round trip at which network quality reaches 0.
const pingForZeroQuality = 500 * time.Millisecond

type client struct {
	id                string
	view              Viewpoint
	lastAck           uint32
	lastSent          uint32
	sentAny           bool
	lastUpdate        time.Time
	consecutiveDeltas int
	ping              time.Duration
	packetLoss        float64
	quality           float64
}

// ClientInfo is a read-only view of a registered client.
type ClientInfo struct {
	ID                string        `json:"id"`
	LastAck           uint32        `json:"last_ack"`
	LastSent          uint32        `json:"last_sent"`
	ConsecutiveDeltas int           `json:"consecutive_deltas"`
	Ping              time.Duration `json:"ping"`
	PacketLoss        float64       `json:"packet_loss"`
	Quality           float64       `json:"quality"`
	Relevancy         float64       `json:"relevancy"`
}

// Outbound is a payload addressed to one client.
type Outbound struct {
	ClientID string  `json:"client_id"`
	OwnerID  string  `json:"owner_id"`
	Full     bool    `json:"full"`
	Version  uint32  `json:"version"`
	Slots    []int   `json:"slots,omitempty"`
	Payload  Payload `json:"payload"`
}

// RegisterClient starts replicating to id. Registering an existing client
// resets its acknowledgement state.
func (m *Manager) RegisterClient(id string, view Viewpoint) {
	view.PlayerID = id
	m.clientMu.Lock()
	m.clients[id] = &client{id: id, view: view, quality: 1}
	n := len(m.clients)
	m.clientMu.Unlock()

	m.statsMu.Lock()
	m.stats.ActiveClients = n
	m.statsMu.Unlock()
	slog.Debug("replication client registered", "owner", m.ownerID, "client", id)
}

// UnregisterClient stops replicating to id.
func (m *Manager) UnregisterClient(id string) {
	m.clientMu.Lock()
	delete(m.clients, id)
	n := len(m.clients)
	m.clientMu.Unlock()

	m.statsMu.Lock()
	m.stats.ActiveClients = n
	m.statsMu.Unlock()
}

// Clients returns the registered client ids in order.
func (m *Manager) Clients() []string {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Acknowledge records that id has applied version. Older acknowledgements
// are ignored.
func (m *Manager) Acknowledge(id string, version uint32) error {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}
	if c.lastAck == 0 || IsNewer(version, c.lastAck) {
		c.lastAck = version
	}
	return nil
}

// UpdateClientView updates the client's position for relevancy.
func (m *Manager) UpdateClientView(id string, view Viewpoint) error {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}
	view.PlayerID = id
	c.view = view
	return nil
}

// UpdateClientNetwork records a round trip measurement. Quality falls
// linearly from 1 at zero ping to 0 at 500ms.
func (m *Manager) UpdateClientNetwork(id string, ping time.Duration, packetLoss float64) error {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}
	c.ping = ping
	c.packetLoss = clamp01(packetLoss)
	c.quality = clamp01(1 - float64(ping)/float64(pingForZeroQuality))
	return nil
}

// AverageQuality returns the mean network quality of registered clients,
// or 1 with no clients.
func (m *Manager) AverageQuality() float64 {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	if len(m.clients) == 0 {
		return 1
	}
	sum := 0.0
	for _, c := range m.clients {
		sum += c.quality
	}
	return sum / float64(len(m.clients))
}

// ClientInfo returns the state of client id.
func (m *Manager) ClientInfo(id string) (ClientInfo, bool) {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return ClientInfo{}, false
	}
	return ClientInfo{
		ID:                c.id,
		LastAck:           c.lastAck,
		LastSent:          c.lastSent,
		ConsecutiveDeltas: c.consecutiveDeltas,
		Ping:              c.ping,
		PacketLoss:        c.packetLoss,
		Quality:           c.quality,
		Relevancy:         m.relevancy(c),
	}, true
}

// ShouldReplicateTo applies the replication policy to client id.
func (m *Manager) ShouldReplicateTo(id string) bool {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return false
	}
	return m.shouldReplicateLocked(c)
}

// ReplicationPriority scores how urgently client id needs an update.
func (m *Manager) ReplicationPriority(id string) float64 {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return 0
	}
	return m.priorityLocked(c)
}

// BuildPayload builds the next payload for client id regardless of its
// update interval.
func (m *Manager) BuildPayload(id string) (Outbound, error) {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return Outbound{}, fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}
	return m.buildLocked(c, m.clock.Now())
}

// ProcessReplication runs one replication pass. Every client that passes
// the policy, is due for an update and has not yet been sent the current
// version receives a payload, highest priority first. Dirty state is then
// flushed.
func (m *Manager) ProcessReplication() []Outbound {
	now := m.clock.Now()

	m.clientMu.Lock()
	m.slotMu.Lock()
	interval := m.interval
	current := m.current
	forceFull := m.forceFull
	m.slotMu.Unlock()

	type ranked struct {
		c        *client
		priority float64
	}
	due := make([]ranked, 0, len(m.clients))
	for _, c := range m.clients {
		if !m.shouldReplicateLocked(c) {
			continue
		}
		if c.sentAny && now.Sub(c.lastUpdate) < interval {
			continue
		}
		if c.sentAny && c.lastSent == current && !forceFull {
			continue
		}
		due = append(due, ranked{c: c, priority: m.priorityLocked(c)})
	}
	slices.SortFunc(due, func(a, b ranked) int {
		if c := cmp.Compare(b.priority, a.priority); c != 0 {
			return c
		}
		return cmp.Compare(a.c.id, b.c.id)
	})

	out := make([]Outbound, 0, len(due))
	for _, r := range due {
		ob, err := m.buildLocked(r.c, now)
		if err != nil {
			slog.Error("replication payload failed", "owner", m.ownerID, "client", r.c.id, "error", err)
			continue
		}
		out = append(out, ob)
	}
	active := len(m.clients)
	m.clientMu.Unlock()

	m.slotMu.Lock()
	m.flushLocked()
	m.slotMu.Unlock()

	m.statsMu.Lock()
	m.stats.ActiveClients = active
	m.statsMu.Unlock()
	return out
}

// buildLocked requires clientMu.
func (m *Manager) buildLocked(c *client, now time.Time) (Outbound, error) {
	m.slotMu.Lock()
	full := m.forceFull ||
		c.lastAck == 0 ||
		Behind(m.current, c.lastAck) > uint32(m.maxDeltas) ||
		c.consecutiveDeltas >= m.maxDeltas
	var d Data
	if full {
		d = m.fullLocked(now)
	} else {
		d = m.deltaLocked(c.lastAck, now)
	}
	m.slotMu.Unlock()

	m.signEntries(&d)
	p, err := m.codec.Encode(d)
	if err != nil {
		return Outbound{}, err
	}

	if d.Full {
		c.consecutiveDeltas = 0
	} else {
		c.consecutiveDeltas++
	}
	c.lastSent = d.Version
	c.sentAny = true
	c.lastUpdate = now

	m.statsMu.Lock()
	m.stats.recordSend(p, d.Full)
	m.statsMu.Unlock()

	slog.Debug("replication payload built",
		"owner", m.ownerID,
		"client", c.id,
		"full", d.Full,
		"version", d.Version,
		"slots", len(d.Slots),
		"bytes", p.Size(),
		"compression", p.Compression,
	)
	return Outbound{
		ClientID: c.id,
		OwnerID:  m.ownerID,
		Full:     d.Full,
		Version:  d.Version,
		Slots:    d.Indices(),
		Payload:  p,
	}, nil
}

func (m *Manager) shouldReplicateLocked(c *client) bool {
	switch m.cfg.Policy {
	case PolicyOnlyToOwner:
		return c.id == m.ownerID
	case PolicySkipOwner:
		return c.id != m.ownerID
	case PolicyOnlyToRelevant:
		return m.relevancy(c) > RelevantThreshold
	case PolicyCustom:
		if m.custom == nil {
			return true
		}
		return m.custom(c.id, m.relevancy(c))
	}
	return true
}

// priorityLocked requires clientMu.
func (m *Manager) priorityLocked(c *client) float64 {
	p := 1.0
	if c.id == m.ownerID {
		p = 10
	}

	m.slotMu.Lock()
	dirtyWeight := 0.0
	for i, s := range m.slots {
		if s.dirty {
			dirtyWeight += max(1, m.slotPriorityLocked(i))
		}
	}
	forceFull := m.forceFull
	m.slotMu.Unlock()

	p *= 1 + 0.2*dirtyWeight
	if forceFull {
		p *= 5
	}
	return p * max(0.1, m.relevancy(c))
}

// relevancy takes slotMu briefly for the owner view.
func (m *Manager) relevancy(c *client) float64 {
	m.slotMu.Lock()
	owner := m.owner
	weaponActive := m.activeWeapon != equipment.NoSlot
	m.slotMu.Unlock()
	return Relevancy(owner, c.view, weaponActive, m.cfg.RelevancyDistance, c.quality)
}
