package mpt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/monadexec/execore/ioring"
	"github.com/monadexec/execore/storage"
	"github.com/monadexec/execore/types"
	"github.com/monadexec/execore/xlog"
)

// Database persists dirty trie nodes through an ioring.Ring into a
// storage.Pool and resolves hash/disk references back into nodes on
// read, mirroring the dirty-map-plus-disk-reader shape of
// trie/database.go, generalized from an in-memory keyed reader to one
// backed by the storage pool.
type Database struct {
	mu sync.RWMutex

	pool *storage.Pool
	ring *ioring.Ring
	log  *xlog.Logger

	// cache holds recently-written or recently-read raw node encodings,
	// keyed by Merkle hash, bounded by byte budget rather than entry
	// count: a concurrent map with LRU-by-weight eviction.
	cache *fastcache.Cache

	// locations maps a node's Merkle hash to where it was last written.
	// Compaction updates this map when it rewrites a node to a new
	// chunk; see history.Compactor.
	locations map[types.Hash]storage.ChunkOffset

	// residents is the reverse index of locations: which hashes currently
	// live in a given chunk. The compactor consults it to find everything
	// it must consider evicting from a retiring chunk, and to tell when a
	// chunk has been fully drained and can be recycled.
	residents map[storage.ChunkID]map[types.Hash]struct{}
}

// NewDatabase creates a Database with a node cache budgeted at
// cacheSizeBytes.
func NewDatabase(pool *storage.Pool, ring *ioring.Ring, cacheSizeBytes int, log *xlog.Logger) *Database {
	if log == nil {
		log = xlog.Default().Module("mpt")
	}
	if cacheSizeBytes <= 0 {
		cacheSizeBytes = 64 * 1024 * 1024
	}
	return &Database{
		pool:      pool,
		ring:      ring,
		log:       log,
		cache:     fastcache.New(cacheSizeBytes),
		locations: make(map[types.Hash]storage.ChunkOffset),
		residents: make(map[storage.ChunkID]map[types.Hash]struct{}),
	}
}

// WriteNode serializes n, writes it to the pool's tail, and indexes it by
// hash for later resolution.
func (d *Database) WriteNode(hash types.Hash, n *DiskNode) (storage.ChunkOffset, error) {
	enc, err := Serialize(n)
	if err != nil {
		return storage.ChunkOffset{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := d.ring.SubmitWrite(ctx, enc)
	if err != nil {
		return storage.ChunkOffset{}, err
	}
	for !f.Ready() {
		if d.ring.Poll(50*time.Millisecond) == 0 {
			continue
		}
	}
	encOff, err := f.Wait(ctx)
	if err != nil {
		return storage.ChunkOffset{}, err
	}
	off := ioring.DecodeOffset(encOff)

	d.mu.Lock()
	d.trackLocationLocked(hash, off)
	d.mu.Unlock()
	d.cache.Set(hash[:], enc)
	return off, nil
}

// ReadNode resolves a Merkle hash to its DiskNode, through the cache first
// and the storage pool on a miss.
func (d *Database) ReadNode(hash types.Hash) (*DiskNode, error) {
	if enc := d.cache.Get(nil, hash[:]); len(enc) > 0 {
		return Deserialize(enc)
	}

	d.mu.RLock()
	off, ok := d.locations[hash]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mpt: node %x not resident", hash)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := d.ring.SubmitRead(ctx, off)
	if err != nil {
		return nil, err
	}
	for !f.Ready() {
		if d.ring.Poll(50*time.Millisecond) == 0 {
			continue
		}
	}
	enc, err := f.Wait(ctx)
	if err != nil {
		return nil, err
	}
	d.cache.Set(hash[:], enc)
	return Deserialize(enc)
}

// ReadNodeAt resolves a node directly from a known ChunkOffset, bypassing
// the hash->location index lookup ReadNode needs -- the fast path taken
// when a parent's ChildRef already carries a disk pointer rather than
// only the child's hash.
func (d *Database) ReadNodeAt(hash types.Hash, off storage.ChunkOffset) (*DiskNode, error) {
	if enc := d.cache.Get(nil, hash[:]); len(enc) > 0 {
		return Deserialize(enc)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := d.ring.SubmitRead(ctx, off)
	if err != nil {
		return nil, err
	}
	for !f.Ready() {
		if d.ring.Poll(50*time.Millisecond) == 0 {
			continue
		}
	}
	enc, err := f.Wait(ctx)
	if err != nil {
		return nil, err
	}
	d.cache.Set(hash[:], enc)
	return Deserialize(enc)
}

// ReadNodeByRef resolves a ChildRef regardless of which form it carries: an
// embedded hash goes through ReadNode's index lookup, a chunk offset is read
// directly. Used by reachability walks, which only have ChildRef values to
// follow, not Merkle hashes the caller already knows.
func (d *Database) ReadNodeByRef(ref ChildRef) (*DiskNode, error) {
	if ref.Kind == refEmbeddedHash {
		return d.ReadNode(ref.Hash)
	}
	off := ref.Offset
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := d.ring.SubmitRead(ctx, off)
	if err != nil {
		return nil, err
	}
	for !f.Ready() {
		if d.ring.Poll(50*time.Millisecond) == 0 {
			continue
		}
	}
	enc, err := f.Wait(ctx)
	if err != nil {
		return nil, err
	}
	n, err := Deserialize(enc)
	if err != nil {
		return nil, err
	}
	d.cache.Set(n.Hash[:], enc)
	d.mu.Lock()
	d.trackLocationLocked(n.Hash, off)
	d.mu.Unlock()
	return n, nil
}

// Relocate records that hash now lives at off, used by the compactor after
// it rewrites a live node to a new chunk. Content (and so the hash) never
// changes; only the location does.
func (d *Database) Relocate(hash types.Hash, off storage.ChunkOffset) {
	d.mu.Lock()
	d.trackLocationLocked(hash, off)
	d.mu.Unlock()
}

// Forget removes hash from the location index entirely, used by the
// compactor to drop a node it has determined is no longer reachable from
// any root in the retention window, ahead of recycling the chunk it lived
// in.
func (d *Database) Forget(hash types.Hash) {
	d.mu.Lock()
	defer d.mu.Unlock()
	off, ok := d.locations[hash]
	if !ok {
		return
	}
	delete(d.locations, hash)
	if set := d.residents[off.ChunkID]; set != nil {
		delete(set, hash)
		if len(set) == 0 {
			delete(d.residents, off.ChunkID)
		}
	}
}

// ResidentChunks returns a snapshot of every chunk id currently tracked as
// holding at least one indexed node.
func (d *Database) ResidentChunks() []storage.ChunkID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]storage.ChunkID, 0, len(d.residents))
	for id := range d.residents {
		out = append(out, id)
	}
	return out
}

// Location returns where hash is currently stored, if known.
func (d *Database) Location(hash types.Hash) (storage.ChunkOffset, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	off, ok := d.locations[hash]
	return off, ok
}

// trackLocationLocked records hash's new location in both locations and its
// reverse chunk index, removing it from whatever chunk it previously
// resided in. Callers hold d.mu.
func (d *Database) trackLocationLocked(hash types.Hash, off storage.ChunkOffset) {
	if prev, ok := d.locations[hash]; ok && prev.ChunkID != off.ChunkID {
		if set := d.residents[prev.ChunkID]; set != nil {
			delete(set, hash)
			if len(set) == 0 {
				delete(d.residents, prev.ChunkID)
			}
		}
	}
	d.locations[hash] = off
	set, ok := d.residents[off.ChunkID]
	if !ok {
		set = make(map[types.Hash]struct{})
		d.residents[off.ChunkID] = set
	}
	set[hash] = struct{}{}
}

// ResidentHashes returns the hashes currently indexed as living in chunk id,
// a snapshot copy safe for the caller to range over without holding d.mu.
func (d *Database) ResidentHashes(id storage.ChunkID) []types.Hash {
	d.mu.RLock()
	defer d.mu.RUnlock()
	set := d.residents[id]
	out := make([]types.Hash, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}

// ChunkOf returns the chunk id hash currently resides in, if known.
func (d *Database) ChunkOf(hash types.Hash) (storage.ChunkID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	off, ok := d.locations[hash]
	return off.ChunkID, ok
}

// Pool exposes the underlying storage pool for components (the compactor)
// that need to allocate/append chunks directly rather than through the
// ioring write path Commit uses.
func (d *Database) Pool() *storage.Pool { return d.pool }

// Ring exposes the underlying I/O ring for direct submission outside of the
// WriteNode/ReadNode helpers.
func (d *Database) Ring() *ioring.Ring { return d.ring }
