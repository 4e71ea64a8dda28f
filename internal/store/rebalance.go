package store

import (
	"log"

	"loopcache/internal/cluster"
)

// Sender issues a PutObject to a remote node on behalf of Rebalance. Kept
// as a narrow function type (rather than importing the client package
// here) so store stays free of network and wire-protocol concerns.
type Sender func(ownerAddr, key string, value []byte) error

// Aborted is polled by Rebalance between keys; once it reports true the
// scan stops early. Lets a caller supersede an in-flight scan when the
// ring it was started against is already stale (spec §5: "in-flight
// rebalance is explicitly abortable when a ChangeConfig arrives that
// re-includes this node").
type Aborted func() bool

// Rebalance drains every key this node no longer owns to its rightful
// owner (spec §4.5). It snapshots the key list under a read lock, then for
// each misplaced key atomically takes the value and deletes it locally
// before handing it to send. Failures are logged and the scan continues —
// migration is best-effort, never a reason to abort the scan. aborted may
// be nil, in which case the scan always runs to completion.
func Rebalance(s *Store, ring *cluster.Ring, selfName string, send Sender, logger *log.Logger, aborted Aborted) {
	for _, key := range s.Keys() {
		if aborted != nil && aborted() {
			return
		}

		owner, ok := ring.OwnerOfKey(key)
		if !ok || owner.Name() == selfName {
			continue
		}

		value, ok := s.take(key)
		if !ok {
			continue // already migrated or deleted concurrently
		}

		if err := send(owner.Address(), key, value); err != nil {
			logger.Printf("rebalance: migrate %q to %s: %v", key, owner.Name(), err)
		}
	}
}

// take atomically reads and removes key, so a concurrent Get never
// observes it half-migrated.
func (s *Store) take(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.dataByKey[key]
	if !ok {
		return nil, false
	}
	v = append([]byte(nil), v...)
	s.deleteLocked(key)
	return v, true
}
