package failover

import (
	"fmt"
	"slices"
	"sync"
)

// Role of an instance in the topology
type Role int

const (
	RoleUnknown Role = iota
	RoleCache
	RolePrimary
	RoleReplica
	RoleExcluded
)

func (r Role) String() string {
	switch r {
	case RoleCache:
		return "cache"
	case RolePrimary:
		return "primary"
	case RoleReplica:
		return "replica"
	case RoleExcluded:
		return "excluded"
	default:
		return "unknown"
	}
}

// MarshalText renders the role by name
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Topology is the routing state shared by the manager and the coordinator.
// Exactly one instance is the write target; the replica set never grows past its
// configured capacity.
type Topology struct {
	mu       sync.RWMutex
	cache    string
	primary  string
	replicas []string
	capacity int
	excluded map[string]bool
}

// NewTopology creates the initial routing state
func NewTopology(cache, primary string, replicas []string) *Topology {
	return &Topology{
		cache:    cache,
		primary:  primary,
		replicas: slices.Clone(replicas),
		capacity: len(replicas),
		excluded: make(map[string]bool),
	}
}

// Cache returns the cache instance id
func (t *Topology) Cache() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cache
}

// Primary returns the current write target
func (t *Topology) Primary() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.primary
}

// Replicas returns the current read pool
func (t *Topology) Replicas() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.replicas)
}

// Excluded returns instances removed from routing, sorted
func (t *Topology) Excluded() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.excluded))
	for id := range t.excluded {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Role reports what id currently does
func (t *Topology) Role(id string) Role {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.roleLocked(id)
}

func (t *Topology) roleLocked(id string) Role {
	switch {
	case id == t.cache:
		return RoleCache
	case id == t.primary:
		return RolePrimary
	case slices.Contains(t.replicas, id):
		return RoleReplica
	case t.excluded[id]:
		return RoleExcluded
	default:
		return RoleUnknown
	}
}

// RemoveReplica drops id from the read pool and excludes it from routing
func (t *Topology) RemoveReplica(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := slices.Index(t.replicas, id)
	if idx < 0 {
		return fmt.Errorf("failover: %s is not a replica", id)
	}
	t.replicas = slices.Delete(t.replicas, idx, idx+1)
	t.excluded[id] = true
	return nil
}

// Promote makes replica the write target and excludes the old primary.
// It returns the old primary.
func (t *Topology) Promote(replica string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := slices.Index(t.replicas, replica)
	if idx < 0 {
		return "", fmt.Errorf("failover: %s is not a replica", replica)
	}
	old := t.primary
	t.replicas = slices.Delete(t.replicas, idx, idx+1)
	t.primary = replica
	t.excluded[old] = true
	return old, nil
}

// Restore returns an excluded instance to the read pool
func (t *Topology) Restore(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.excluded[id] {
		return fmt.Errorf("failover: %s is not excluded", id)
	}
	if len(t.replicas) >= t.capacity {
		return fmt.Errorf("failover: replica set full (%d), cannot restore %s", t.capacity, id)
	}
	delete(t.excluded, id)
	t.replicas = append(t.replicas, id)
	return nil
}
