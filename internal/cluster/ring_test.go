package cluster

import (
	"fmt"
	"math/rand"
	"testing"
)

func buildRing(t *testing.T, caps []int64) (*Ring, []string) {
	t.Helper()
	r := NewRing()
	names := make([]string, len(caps))
	for i, c := range caps {
		n := &Node{HostName: fmt.Sprintf("host%d", i), Port: int32(9000 + i), MaxBytes: c}
		if err := r.AddNode(n); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
		names[i] = n.Name()
	}
	return r, names
}

// Property: placement determinism — running placement twice on the same
// node set yields identical sorted locations and per-node locations.
func TestPlacementDeterministic(t *testing.T) {
	r, names := buildRing(t, []int64{48 << 20, 12 << 20, 64 << 20})

	first := snapshotLocations(t, r, names)
	if err := r.Recompute(); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	second := snapshotLocations(t, r, names)

	for _, name := range names {
		a, b := first[name], second[name]
		if len(a) != len(b) {
			t.Fatalf("node %s: location count changed: %d vs %d", name, len(a), len(b))
		}
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("node %s: location[%d] changed: %d vs %d", name, i, a[i], b[i])
			}
		}
	}
}

func snapshotLocations(t *testing.T, r *Ring, names []string) map[string][]int32 {
	t.Helper()
	out := make(map[string][]int32, len(names))
	for _, name := range names {
		n, ok := r.Get(name)
		if !ok {
			t.Fatalf("node %s missing from ring", name)
		}
		out[name] = n.Locations
	}
	return out
}

// Property: proportional load — ownership share should be monotone in
// capacity across a large random key sample.
func TestPlacementProportionalLoad(t *testing.T) {
	r, names := buildRing(t, []int64{48 << 20, 12 << 20, 64 << 20})

	counts := make(map[string]int)
	rnd := rand.New(rand.NewSource(1))
	const numKeys = 100000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("key-%d-%d", i, rnd.Int63())
		owner, ok := r.OwnerOfKey(key)
		if !ok {
			t.Fatalf("no owner for key %q", key)
		}
		counts[owner.Name()]++
	}

	// capacities: host1 (12MB) < host0 (48MB) < host2 (64MB)
	if counts[names[1]] >= counts[names[0]] {
		t.Errorf("expected host1 (12MB) to own fewer keys than host0 (48MB): %d vs %d",
			counts[names[1]], counts[names[0]])
	}
	if counts[names[0]] >= counts[names[2]] {
		t.Errorf("expected host0 (48MB) to own fewer keys than host2 (64MB): %d vs %d",
			counts[names[0]], counts[names[2]])
	}
}

// Property: rebalance minimality — shrinking one node's capacity should
// move some, but strictly not all, keys to new owners.
func TestPlacementRebalanceMinimality(t *testing.T) {
	r, names := buildRing(t, []int64{48 << 20, 12 << 20, 64 << 20})

	rnd := rand.New(rand.NewSource(2))
	const numKeys = 100000
	keys := make([]string, numKeys)
	before := make([]string, numKeys)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d-%d", i, rnd.Int63())
		owner, _ := r.OwnerOfKey(keys[i])
		before[i] = owner.Name()
	}

	if err := r.ChangeCapacity(names[2], 48<<20); err != nil {
		t.Fatalf("ChangeCapacity: %v", err)
	}

	changed := 0
	for i, key := range keys {
		owner, _ := r.OwnerOfKey(key)
		if owner.Name() != before[i] {
			changed++
		}
	}

	if changed == 0 {
		t.Fatalf("expected some keys to move owner after capacity change, got 0")
	}
	if changed == numKeys {
		t.Fatalf("expected fewer than all keys to move owner, got all %d", numKeys)
	}
}

func TestAddNodeRejectsDuplicateName(t *testing.T) {
	r := NewRing()
	n1 := &Node{HostName: "h", Port: 1, MaxBytes: 10}
	n2 := &Node{HostName: "h", Port: 1, MaxBytes: 20}
	if err := r.AddNode(n1); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := r.AddNode(n2); err == nil {
		t.Fatalf("expected error adding duplicate node name")
	}
}

func TestRemoveNodeRecomputesRing(t *testing.T) {
	r, names := buildRing(t, []int64{10, 20, 30})
	if !r.RemoveNode(names[1]) {
		t.Fatalf("RemoveNode returned false for existing node")
	}
	if r.NodeCount() != 2 {
		t.Fatalf("NodeCount = %d, want 2", r.NodeCount())
	}
	if _, ok := r.Get(names[1]); ok {
		t.Fatalf("removed node still present")
	}
	for i := 0; i < 1000; i++ {
		owner, ok := r.OwnerOfKey(fmt.Sprintf("key-%d", i))
		if !ok {
			t.Fatalf("no owner for key-%d after RemoveNode", i)
		}
		if owner.Name() == names[1] {
			t.Fatalf("key-%d still maps to removed node %s", i, names[1])
		}
	}
}
