package cluster

////////////////////////////////////////////////////////////////////////////////
// CONSISTENT HASHING
////////////////////////////////////////////////////////////////////////////////
//
// A key belongs to the data node whose nearest virtual-node position follows
// the key's hash, walking clockwise around the signed 32-bit ring (wrapping
// at the boundary). Each physical node gets a number of virtual positions
// proportional to its declared capacity, so load tracks capacity instead of
// node count. See spec §4.2 for the placement algorithm this implements.

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"loopcache/internal/ringhash"
)

// maxPlacementAttempts bounds the collision-resolution walk per virtual
// node. Spec: "giving up after 100 attempts (failure is fatal)".
const maxPlacementAttempts = 100

// defaultVnodesPerNode is the target virtual-node count per physical node
// used to derive V = 100 * |nodes| in the placement algorithm (spec §4.2
// step 3).
const defaultVnodesPerNode = 100

// Ring is the mapping from ring position to owning node, plus the node
// registry it was derived from. It is safe for concurrent use: many
// readers do ownership lookups while a rare writer recomputes placement.
type Ring struct {
	mu sync.RWMutex

	// names preserves insertion order for deterministic iteration
	// (Nodes()/Descriptor()); nodes is the canonical-name lookup table.
	names []string
	nodes map[string]*Node

	// sorted is the ascending list of every occupied ring position;
	// positions maps each of those back to its owning node.
	sorted    []int32
	positions map[int32]*Node
}

// NewRing returns an empty ring.
func NewRing() *Ring {
	return &Ring{
		nodes:     make(map[string]*Node),
		positions: make(map[int32]*Node),
	}
}

// AddNode inserts node (by canonical name) and recomputes placement for the
// whole node set. Returns an error if a node of that name already exists.
func (r *Ring) AddNode(n *Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := n.Name()
	if _, exists := r.nodes[name]; exists {
		return fmt.Errorf("cluster: node %s already exists", name)
	}
	r.names = append(r.names, name)
	r.nodes[name] = n
	return r.recomputeLocked()
}

// RemoveNode deletes node by canonical name and recomputes placement for
// the remaining set. Returns false if no such node existed.
func (r *Ring) RemoveNode(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[name]; !exists {
		return false
	}
	delete(r.nodes, name)
	for i, n := range r.names {
		if n == name {
			r.names = append(r.names[:i], r.names[i+1:]...)
			break
		}
	}
	// recomputeLocked can only fail on a collision-exhaustion bug, which
	// cannot be introduced by shrinking the node set; ignore the error.
	_ = r.recomputeLocked()
	return true
}

// ChangeCapacity updates a node's MaxBytes and recomputes placement for the
// whole node set (most keys' owners will change as a result — callers are
// responsible for triggering rebalance on data nodes).
func (r *Ring) ChangeCapacity(name string, maxBytes int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[name]
	if !ok {
		return fmt.Errorf("cluster: node %s does not exist", name)
	}
	n.MaxBytes = maxBytes
	return r.recomputeLocked()
}

// SetStatus updates a node's status in place without touching placement.
func (r *Ring) SetStatus(name string, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[name]
	if !ok {
		return false
	}
	n.Status = status
	return true
}

// Get returns a clone of the named node, if present.
func (r *Ring) Get(name string) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[name]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// Nodes returns clones of every node, in the order they were added.
func (r *Ring) Nodes() []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Node, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.nodes[name].Clone())
	}
	return out
}

// NodeCount reports the number of physical nodes.
func (r *Ring) NodeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// Owner returns the node owning ring position h: the first node whose
// position is >= h, wrapping to the first node in sort order if h exceeds
// the maximum occupied position (spec §4.2 "Lookup").
func (r *Ring) Owner(h int32) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.sorted) == 0 {
		return nil, false
	}
	idx := sort.Search(len(r.sorted), func(i int) bool { return r.sorted[i] >= h })
	if idx == len(r.sorted) {
		idx = 0
	}
	return r.positions[r.sorted[idx]].Clone(), true
}

// OwnerOfKey is a convenience wrapper around Owner(ringhash.Hash(key)).
func (r *Ring) OwnerOfKey(key string) (*Node, bool) {
	return r.Owner(ringhash.Hash(key))
}

////////////////////////////////////////////////////////////////////////////////
// PLACEMENT ALGORITHM
////////////////////////////////////////////////////////////////////////////////

// recomputeLocked runs the full placement algorithm (spec §4.2) against the
// current node set. Must be called with r.mu held for writing.
//
// Steps: clear every node's locations; compute total capacity; derive a
// target virtual-node count V = 100*|nodes|; give each node
// round(V * maxBytes / total) positions named deterministically from its
// host/port/index, resolving collisions by linear probing up to 100
// attempts.
func (r *Ring) recomputeLocked() error {
	for _, name := range r.names {
		r.nodes[name].Locations = nil
	}
	r.positions = make(map[int32]*Node)
	r.sorted = nil

	if len(r.names) == 0 {
		return nil
	}

	var totalMemory int64
	for _, name := range r.names {
		totalMemory += r.nodes[name].MaxBytes
	}
	if totalMemory <= 0 {
		return fmt.Errorf("cluster: total capacity must be positive, got %d", totalMemory)
	}

	targetVnodes := float64(defaultVnodesPerNode * len(r.names))

	for _, name := range r.names {
		n := r.nodes[name]
		numLocations := int(math.Round(targetVnodes * float64(n.MaxBytes) / float64(totalMemory)))

		for i := 0; i < numLocations; i++ {
			pos, err := r.placeLocked(n, i)
			if err != nil {
				return err
			}
			n.Locations = append(n.Locations, pos)
			r.positions[pos] = n
		}
	}

	r.sorted = make([]int32, 0, len(r.positions))
	for pos := range r.positions {
		r.sorted = append(r.sorted, pos)
	}
	sort.Slice(r.sorted, func(i, j int) bool { return r.sorted[i] < r.sorted[j] })
	return nil
}

// placeLocked derives virtual node i's ring position for node n, resolving
// collisions by incrementing until a free position is found.
func (r *Ring) placeLocked(n *Node, i int) (int32, error) {
	candidate := ringhash.Hash(fmt.Sprintf("%s_%d_%d", n.HostName, n.Port, i))
	for attempt := 0; attempt < maxPlacementAttempts; attempt++ {
		if _, taken := r.positions[candidate]; !taken {
			return candidate, nil
		}
		candidate++
	}
	return 0, fmt.Errorf("cluster: could not place virtual node %d of %s after %d attempts",
		i, n.Name(), maxPlacementAttempts)
}

// Recompute re-derives placement without changing the node set. Exposed so
// a data node can regenerate locations locally after installing a minimal
// (no-locations) ring descriptor received over the wire.
func (r *Ring) Recompute() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recomputeLocked()
}
