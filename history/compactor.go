package history

import (
	"sort"
	"sync"
	"time"

	"github.com/monadexec/execore/mpt"
	"github.com/monadexec/execore/storage"
	"github.com/monadexec/execore/types"
	"github.com/monadexec/execore/xlog"
)

// Config tunes the compactor's pass cadence and how much of the write tail
// it leaves untouched.
type Config struct {
	// RetainChunks is how many chunk ids below the pool's current tail
	// chunk are left alone on every pass, in addition to the tail chunk
	// itself -- the active write region a concurrent Commit may still be
	// appending into.
	RetainChunks uint32

	// Interval is how often Start's background loop runs a pass.
	Interval time.Duration
}

// DefaultConfig returns reasonable defaults for a single-process node.
func DefaultConfig() Config {
	return Config{RetainChunks: 4, Interval: 2 * time.Second}
}

// Stats summarizes one compaction pass.
type Stats struct {
	ChunksVisited  int
	ChunksRecycled int
	NodesRelocated int
	NodesDropped   int
}

// Compactor scans chunks falling out of the retention window implied by
// Ring and relocates any node still reachable from a retained root into
// the live write tail, then recycles drained chunks. It never changes a
// node's content or Merkle hash -- only where it is stored.
type Compactor struct {
	db   *mpt.Database
	ring *Ring
	cfg  Config
	log  *xlog.Logger

	mu      sync.Mutex // serializes passes and parent-descriptor rewrites, not trie traversal
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewCompactor creates a Compactor over db, consulting ring for the set of
// roots a node must be reachable from to survive a pass.
func NewCompactor(db *mpt.Database, ring *Ring, cfg Config, log *xlog.Logger) *Compactor {
	if log == nil {
		log = xlog.Default().Module("history")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Compactor{db: db, ring: ring, cfg: cfg, log: log}
}

// Start launches the background compaction loop. Calling Start twice
// without an intervening Stop is a no-op.
func (c *Compactor) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.loop()
}

func (c *Compactor) loop() {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if _, err := c.RunOnce(); err != nil {
				c.log.Error("compaction pass failed", "error", err)
			}
		}
	}
}

// Stop signals the background loop to exit and blocks until it has drained
// to a consistent state -- no partially-relocated node is ever left
// unindexed, so Stop never needs to wait for an in-flight pass to reach any
// particular point, only to finish the one it's in.
func (c *Compactor) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	stop, done := c.stop, c.done
	c.mu.Unlock()

	close(stop)
	<-done
}

// RunOnce executes a single compaction pass synchronously.
func (c *Compactor) RunOnce() (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stats Stats

	window := c.ring.Window()
	if len(window) == 0 {
		return stats, nil
	}

	live := make(map[types.Hash]struct{})
	for _, e := range window {
		reachable, err := mpt.ReachableHashes(e.Root, c.db)
		if err != nil {
			return stats, err
		}
		for h := range reachable {
			live[h] = struct{}{}
		}
	}

	pool := c.db.Pool()
	tail := pool.Stats().TailChunk
	var horizon storage.ChunkID
	if uint32(tail) > c.cfg.RetainChunks {
		horizon = storage.ChunkID(uint32(tail) - c.cfg.RetainChunks)
	}

	chunks := c.db.ResidentChunks()
	sort.Slice(chunks, func(i, j int) bool { return chunks[i] < chunks[j] })

	for _, id := range chunks {
		if id >= horizon {
			continue // still within the active write region, leave alone
		}
		stats.ChunksVisited++

		for _, hash := range c.db.ResidentHashes(id) {
			if _, ok := live[hash]; !ok {
				c.db.Forget(hash)
				stats.NodesDropped++
				continue
			}
			dn, err := c.db.ReadNode(hash)
			if err != nil {
				return stats, err
			}
			if _, err := c.db.WriteNode(hash, dn); err != nil {
				return stats, err
			}
			stats.NodesRelocated++
		}

		if len(c.db.ResidentHashes(id)) == 0 {
			if err := pool.RecycleChunk(id); err != nil {
				return stats, err
			}
			stats.ChunksRecycled++
		}
	}

	return stats, nil
}
