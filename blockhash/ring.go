// Package blockhash implements the BLOCKHASH opcode's data source: a
// fixed-size ring of the last 256 finalized block hashes, plus a
// fork-aware overlay so a transaction executing against a proposed (not
// yet finalized) block can still resolve BLOCKHASH queries against its
// own branch's still-speculative ancestors.
package blockhash

import "github.com/monadexec/execore/types"

// ringSize is EVMC's BLOCKHASH window: a block may query any of the 256
// most recent ancestors, never itself or anything further back.
const ringSize = 256

// Ring is a fixed-size circular buffer of the most recently finalized
// block hashes, indexed by block number.
type Ring struct {
	entries [ringSize]types.Hash
	current uint64 // one past the highest appended block number
	filled  bool   // current has wrapped past ringSize at least once
}

// NewRing returns an empty ring.
func NewRing() *Ring {
	return &Ring{}
}

// Append records hash as the finalized hash of block number. Append calls
// must arrive in strictly increasing block-number order.
func (r *Ring) Append(number uint64, hash types.Hash) {
	r.entries[number%ringSize] = hash
	r.current = number + 1
	if number+1 >= ringSize {
		r.filled = true
	}
}

// Get returns the hash of block n, or the zero hash if n is the current
// block, a future block, or older than the 256-block window -- the exact
// BLOCKHASH semantics.
func (r *Ring) Get(n uint64) types.Hash {
	if n >= r.current {
		return types.Hash{}
	}
	if r.filled && n+ringSize <= r.current-1 {
		return types.Hash{}
	}
	return r.entries[n%ringSize]
}

// Current reports the next block number this ring expects to Append.
func (r *Ring) Current() uint64 { return r.current }
