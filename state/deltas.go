// Package state is the two-layer state cache the executor runs against:
// Block State, a concurrent before/after delta map shared read-only by all
// of a block's speculatively-executing transactions and merged into
// single-threaded in transaction order; and Transaction State, a
// per-transaction checkpointed overlay on top of it. Grounded on
// category/execution/ethereum/state2/{block_state,state_deltas}.hpp and
// libs/execution/src/monad/state3/version_stack.hpp.
package state

import "github.com/monadexec/execore/types"

// Delta is a before/after pair, ported from state_deltas.hpp's
// `Delta<T> = std::pair<T const, T>`. Original is fixed at construction;
// After is what Block State currently reflects.
type Delta[T any] struct {
	Original T
	After    T
}

// AccountDelta mirrors state_deltas.hpp's AccountDelta: the account as it
// read from Triedb (nil if it didn't exist) versus its current in-block
// value.
type AccountDelta = Delta[*types.Account]

// StorageDelta mirrors StorageDelta: a before/after pair of 256-bit words.
type StorageDelta = Delta[types.Hash]
