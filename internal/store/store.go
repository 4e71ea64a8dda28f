// Package store is the data node's storage engine: an in-memory key→value
// table with an LRU time index, approximate RAM-bounded eviction, and the
// rebalance scan that drains keys to their rightful owner after a ring
// change (spec §4.5).
//
// Concurrency: a single sync.RWMutex linearizes every mutation. Many
// readers (GetObject, stats) run concurrently; PutObject, DeleteObject,
// eviction, and rebalance's own deletes all take the exclusive writer
// lock.
package store

import (
	"fmt"
	"sort"
	"sync"
)

// Store holds one data node's object table. It has no notion of
// ownership — callers (the data-node dispatch layer) decide whether a key
// belongs here before calling Put/Get/Delete; Store itself only keeps the
// three indexes spec §3 requires in sync and enforces the capacity bound.
type Store struct {
	mu sync.RWMutex

	dataByKey   map[string][]byte
	keyPutTimes map[string]int64
	keysByTime  map[int64][]string
	// timeOrder is keysByTime's key set, kept sorted ascending so the
	// earliest non-empty bucket (the LRU victim) is always timeOrder[0].
	timeOrder []int64

	totalDataBytes int64
	maxBytes       int64

	latestRAMBytes int64
	ramMultiplier  float64
}

// New returns an empty store capacity-bounded at maxBytes.
func New(maxBytes int64) *Store {
	return &Store{
		dataByKey:     make(map[string][]byte),
		keyPutTimes:   make(map[string]int64),
		keysByTime:    make(map[int64][]string),
		maxBytes:      maxBytes,
		ramMultiplier: 1.5, // fallback per spec §4.5 until the sampler has a reading
	}
}

// SetMaxBytes updates this node's capacity bound, applied when a
// ChangeNode propagates to this node's own record.
func (s *Store) SetMaxBytes(maxBytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxBytes = maxBytes
}

// Get returns the stored value for key, if present.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.dataByKey[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// Put inserts or replaces key's value, evicting older entries first if
// needed to stay within the approximate RAM bound (spec §4.5).
func (s *Store) Put(key string, value []byte, putTime int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictForIncomingLocked(int64(len(value)))

	if oldTime, exists := s.keyPutTimes[key]; exists {
		s.totalDataBytes -= int64(len(s.dataByKey[key]))
		s.removeFromBucketLocked(oldTime, key)
	}

	s.dataByKey[key] = append([]byte(nil), value...)
	s.keyPutTimes[key] = putTime
	s.addToBucketLocked(putTime, key)
	s.totalDataBytes += int64(len(value))
}

// Delete removes key from all three indexes. Deleting a key that was not
// present is not an error (spec §4.5: "Respond ObjectOk whether or not the
// key was present").
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(key)
}

func (s *Store) deleteLocked(key string) {
	t, exists := s.keyPutTimes[key]
	if !exists {
		return
	}
	s.totalDataBytes -= int64(len(s.dataByKey[key]))
	delete(s.dataByKey, key)
	delete(s.keyPutTimes, key)
	s.removeFromBucketLocked(t, key)
}

// Clear empties the store entirely (the FireSale / Clear operation).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataByKey = make(map[string][]byte)
	s.keyPutTimes = make(map[string]int64)
	s.keysByTime = make(map[int64][]string)
	s.timeOrder = nil
	s.totalDataBytes = 0
}

// Keys returns a snapshot of every key currently stored, safe to range
// over without holding the store's lock (used by rebalance).
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.dataByKey))
	for k := range s.dataByKey {
		keys = append(keys, k)
	}
	return keys
}

// Stats is the data node's own view of its storage engine (spec §4.5
// GetStats), minus the Status field, which belongs to the node's cluster
// identity, not its storage engine.
type Stats struct {
	NumObjects     int32
	TotalDataBytes int64
	LatestRAMBytes int64
	RAMMultiplier  float64
	MaxBytes       int64
}

// Stats reports the current counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		NumObjects:     int32(len(s.dataByKey)),
		TotalDataBytes: s.totalDataBytes,
		LatestRAMBytes: s.latestRAMBytes,
		RAMMultiplier:  s.ramMultiplier,
		MaxBytes:       s.maxBytes,
	}
}

// FormattedMultiplier renders the RAM multiplier the way the wire
// GetStats response wants it: a short decimal string like "1.30".
func (st Stats) FormattedMultiplier() string {
	return fmt.Sprintf("%.2f", st.RAMMultiplier)
}

////////////////////////////////////////////////////////////////////////////////
// RAM SAMPLING AND EVICTION
////////////////////////////////////////////////////////////////////////////////

// ObserveRAM records a fresh working-set-size sample and recomputes the RAM
// multiplier used by future admission checks. Called by the background RAM
// sampler (see ram.go) roughly every 5 seconds.
func (s *Store) ObserveRAM(workingSetBytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestRAMBytes = workingSetBytes
	s.ramMultiplier = ramMultiplier(workingSetBytes, s.totalDataBytes)
}

// ramMultiplier implements spec §4.5's clamp(latestRAMBytes/totalDataBytes,
// 1.0, 3.0), falling back to 1.5 when either operand is zero.
func ramMultiplier(ramBytes, dataBytes int64) float64 {
	if ramBytes == 0 || dataBytes == 0 {
		return 1.5
	}
	m := float64(ramBytes) / float64(dataBytes)
	if m < 1.0 {
		return 1.0
	}
	if m > 3.0 {
		return 3.0
	}
	return m
}

// evictForIncomingLocked evicts LRU entries until admitting an entry of
// size incomingSize would not push approxRAM over maxBytes. Must be called
// with s.mu held for writing.
func (s *Store) evictForIncomingLocked(incomingSize int64) {
	for {
		approxRAM := float64(s.totalDataBytes) * s.ramMultiplier
		approxEntry := float64(incomingSize) * s.ramMultiplier
		if approxRAM+approxEntry <= float64(s.maxBytes) {
			return
		}
		if len(s.timeOrder) == 0 {
			return // nothing left to evict; admit anyway rather than loop forever
		}
		s.evictOldestLocked()
	}
}

// evictOldestLocked removes the single oldest key (the first key in the
// earliest non-empty time bucket) — LRU by most-recent put.
func (s *Store) evictOldestLocked() {
	oldest := s.timeOrder[0]
	bucket := s.keysByTime[oldest]
	if len(bucket) == 0 {
		s.dropBucketLocked(oldest)
		return
	}
	key := bucket[0]
	s.deleteLocked(key)
}

////////////////////////////////////////////////////////////////////////////////
// keysByTime BUCKET BOOKKEEPING
////////////////////////////////////////////////////////////////////////////////

func (s *Store) addToBucketLocked(t int64, key string) {
	bucket, exists := s.keysByTime[t]
	if !exists {
		s.insertTimeOrderLocked(t)
	}
	s.keysByTime[t] = append(bucket, key)
}

func (s *Store) removeFromBucketLocked(t int64, key string) {
	bucket := s.keysByTime[t]
	for i, k := range bucket {
		if k == key {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		s.dropBucketLocked(t)
		return
	}
	s.keysByTime[t] = bucket
}

func (s *Store) dropBucketLocked(t int64) {
	delete(s.keysByTime, t)
	idx := sort.Search(len(s.timeOrder), func(i int) bool { return s.timeOrder[i] >= t })
	if idx < len(s.timeOrder) && s.timeOrder[idx] == t {
		s.timeOrder = append(s.timeOrder[:idx], s.timeOrder[idx+1:]...)
	}
}

func (s *Store) insertTimeOrderLocked(t int64) {
	idx := sort.Search(len(s.timeOrder), func(i int) bool { return s.timeOrder[i] >= t })
	s.timeOrder = append(s.timeOrder, 0)
	copy(s.timeOrder[idx+1:], s.timeOrder[idx:])
	s.timeOrder[idx] = t
}
