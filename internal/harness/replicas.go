package harness

import (
	"fmt"
	"sort"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
	"github.com/Houngansi/SuspenseCore-sub009/internal/replication"
	"github.com/Houngansi/SuspenseCore-sub009/internal/security"
	"github.com/Houngansi/SuspenseCore-sub009/internal/server"
)

// replicaSet holds one client-side replica per (owner, client) pair and
// acknowledges every payload it applies.
type replicaSet struct {
	configs []equipment.SlotConfig
	keys    *security.KeyStorage
	byPair  map[pair]*replication.Replica
}

type pair struct {
	owner, client string
}

func (p pair) String() string {
	return p.owner + "->" + p.client
}

func newReplicaSet(configs []equipment.SlotConfig, keys *security.KeyStorage) *replicaSet {
	return &replicaSet{configs: configs, keys: keys, byPair: make(map[pair]*replication.Replica)}
}

func (rs *replicaSet) apply(svc *server.Service, ob replication.Outbound) (ReplicationTrace, error) {
	k := pair{owner: ob.OwnerID, client: ob.ClientID}
	r, ok := rs.byPair[k]
	if !ok {
		m, err := svc.Replication(ob.OwnerID)
		if err != nil {
			return ReplicationTrace{}, err
		}
		r = replication.NewReplica(rs.configs, m.Codec(), rs.keys)
		rs.byPair[k] = r
	}
	if _, err := r.ApplyPayload(ob.Payload); err != nil {
		return ReplicationTrace{}, fmt.Errorf("replica %s: %w", k, err)
	}
	if err := svc.Acknowledge(ob.OwnerID, ob.ClientID, r.Version()); err != nil {
		return ReplicationTrace{}, err
	}
	return ReplicationTrace{
		Owner:  ob.OwnerID,
		Client: ob.ClientID,
		Full:   ob.Full,
		InSync: inSync(svc, ob.OwnerID, r),
	}, nil
}

// outOfSync lists the pairs whose replica differs from the owner's state.
func (rs *replicaSet) outOfSync(svc *server.Service) []string {
	var stale []string
	for k, r := range rs.byPair {
		if !inSync(svc, k.owner, r) {
			stale = append(stale, k.String())
		}
	}
	sort.Strings(stale)
	return stale
}

func inSync(svc *server.Service, owner string, r *replication.Replica) bool {
	snap, err := svc.Snapshot(owner)
	if err != nil {
		return false
	}
	got := r.Snapshot()
	if len(got.Slots) != len(snap.Slots) {
		return false
	}
	for i := range snap.Slots {
		a, b := snap.Slots[i].Item, got.Slots[i].Item
		if a.IsValid() != b.IsValid() || a.ItemID != b.ItemID || a.InstanceID != b.InstanceID {
			return false
		}
	}
	return true
}
