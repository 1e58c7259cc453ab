// Package history implements the retention window over committed trie
// roots and the background compactor that keeps the node-to-chunk
// mapping in mpt.Database from growing without bound, grounded on
// RecoveryPolicy (pkg/node/service_registry_recovery.go) for the shape of
// a small mutex-guarded bookkeeping type plus a goroutine-driven
// background pass.
package history

import (
	"sync"

	"github.com/monadexec/execore/telemetry"
	"github.com/monadexec/execore/types"
)

// Entry pairs a committed root with the block it was produced for.
type Entry struct {
	Root        types.Hash
	BlockNumber uint64
}

// Ring holds the last Depth committed roots. Any node reachable from any
// entry currently in the ring is live; the compactor is free to discard
// everything else.
type Ring struct {
	mu      sync.RWMutex
	entries []Entry // oldest first
	depth   int

	metrics *telemetry.HistoryMetrics
}

// NewRing creates a Ring retaining at most depth roots. depth must be at
// least 1; the current root is always part of the window.
func NewRing(depth int) *Ring {
	if depth < 1 {
		depth = 1
	}
	return &Ring{depth: depth}
}

// Instrument attaches a metrics bundle; subsequent Push calls report
// through it. Passing nil disables reporting.
func (r *Ring) Instrument(m *telemetry.HistoryMetrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// Push records a newly committed root, evicting the oldest entry once the
// ring is at capacity. It returns the evicted entry, if any.
func (r *Ring) Push(root types.Hash, blockNumber uint64) (evicted Entry, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, Entry{Root: root, BlockNumber: blockNumber})
	if len(r.entries) > r.depth {
		evicted = r.entries[0]
		ok = true
		r.entries = append(r.entries[:0], r.entries[1:]...)
	}
	if r.metrics != nil {
		r.metrics.Pushes.Inc()
		if ok {
			r.metrics.Evicted.Inc()
		}
		r.metrics.Depth.Set(float64(len(r.entries)))
	}
	return evicted, ok
}

// Window returns a snapshot of every root currently retained, oldest
// first.
func (r *Ring) Window() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Latest returns the most recently pushed entry, if any.
func (r *Ring) Latest() (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.entries) == 0 {
		return Entry{}, false
	}
	return r.entries[len(r.entries)-1], true
}

// Len reports how many roots are currently retained.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
