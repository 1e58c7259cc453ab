package state

import (
	"sync"

	"github.com/holiman/uint256"

	"github.com/monadexec/execore/triedb"
	"github.com/monadexec/execore/types"
)

// storageDeltas is the per-account slot delta map, ported from
// state_deltas.hpp's StorageDeltas (a concurrent_hash_map<bytes32_t,
// StorageDelta>); a sync.RWMutex-guarded Go map plays the same role.
type storageDeltas struct {
	mu   sync.RWMutex
	m    map[types.Hash]StorageDelta
}

func newStorageDeltas() *storageDeltas {
	return &storageDeltas{m: make(map[types.Hash]StorageDelta)}
}

// stateDelta is one account's full delta: its own AccountDelta plus its
// storage slot deltas, ported from state_deltas.hpp's StateDelta.
type stateDelta struct {
	account AccountDelta
	storage *storageDeltas
}

// BlockState is the single shared state cache for a block: every
// transaction's fiber reads through it to Triedb on a miss and, once
// accepted, merges its Transaction State into it under a serialized
// commit phase. Ported from category/execution/ethereum/state2/block_state.hpp.
type BlockState struct {
	db *triedb.Triedb

	mu    sync.RWMutex
	state map[types.Address]*stateDelta
	code  map[types.Hash]types.Code
}

// New creates a BlockState read-through to db.
func New(db *triedb.Triedb) *BlockState {
	return &BlockState{
		db:    db,
		state: make(map[types.Address]*stateDelta),
		code:  make(map[types.Hash]types.Code),
	}
}

// ReadAccount returns addr's current ("after") value, reading through to
// Triedb and caching the result as both Original and After on a first
// touch. A nil, nil result means the account does not exist.
func (bs *BlockState) ReadAccount(addr types.Address) (*types.Account, error) {
	bs.mu.RLock()
	if d, ok := bs.state[addr]; ok {
		bs.mu.RUnlock()
		return d.account.After, nil
	}
	bs.mu.RUnlock()

	acct, err := bs.db.ReadAccount(addr)
	if err != nil {
		return nil, err
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if d, ok := bs.state[addr]; ok {
		// Another fiber populated it first; trust whichever won the race,
		// both started from the same Triedb read.
		return d.account.After, nil
	}
	bs.state[addr] = &stateDelta{
		account: AccountDelta{Original: acct, After: acct},
		storage: newStorageDeltas(),
	}
	return acct, nil
}

// ReadStorage returns slot's current value under addr, read-through to
// Triedb on a cache miss at the account's stored incarnation.
func (bs *BlockState) ReadStorage(addr types.Address, incarnation types.Incarnation, slot types.Hash) (types.Hash, error) {
	bs.mu.RLock()
	d, ok := bs.state[addr]
	bs.mu.RUnlock()
	if !ok {
		// Populate the account delta first so storage has somewhere to live.
		if _, err := bs.ReadAccount(addr); err != nil {
			return types.Hash{}, err
		}
		bs.mu.RLock()
		d = bs.state[addr]
		bs.mu.RUnlock()
	}

	d.storage.mu.RLock()
	if sd, ok := d.storage.m[slot]; ok {
		d.storage.mu.RUnlock()
		return sd.After, nil
	}
	d.storage.mu.RUnlock()

	val, err := bs.db.ReadStorage(addr, incarnation, slot)
	if err != nil {
		return types.Hash{}, err
	}
	word := u256ToHash(val)

	d.storage.mu.Lock()
	defer d.storage.mu.Unlock()
	if sd, ok := d.storage.m[slot]; ok {
		return sd.After, nil
	}
	d.storage.m[slot] = StorageDelta{Original: word, After: word}
	return word, nil
}

// ReadCode returns code by hash, read-through to Triedb on a cache miss.
func (bs *BlockState) ReadCode(codeHash types.Hash) (types.Code, error) {
	bs.mu.RLock()
	if c, ok := bs.code[codeHash]; ok {
		bs.mu.RUnlock()
		return c, nil
	}
	bs.mu.RUnlock()

	code, err := bs.db.ReadCode(codeHash)
	if err != nil {
		return nil, err
	}
	bs.mu.Lock()
	bs.code[codeHash] = code
	bs.mu.Unlock()
	return code, nil
}

// CanMerge checks, for every location tx touched, that tx's Original value
// still equals Block State's current After value -- ported from
// block_state.hpp's can_merge(State const&). Each touched location's
// final value is read via VersionStack.Recent(), since by the time a
// transaction reaches commit every nested checkpoint it accepted has
// already folded down to its root version.
func (bs *BlockState) CanMerge(tx *TransactionState) bool {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	for addr, vs := range tx.accounts {
		acctDelta := vs.Recent()
		d, ok := bs.state[addr]
		if !ok {
			// Block State never saw this address; tx's own Original must
			// then itself be the "doesn't exist" value for this to be valid.
			if acctDelta.Original != nil {
				return false
			}
			continue
		}
		if !accountsEqual(acctDelta.Original, d.account.After) {
			return false
		}
	}
	for addr, slots := range tx.storage {
		d, ok := bs.state[addr]
		if !ok {
			continue
		}
		d.storage.mu.RLock()
		for slot, vs := range slots {
			sdelta := vs.Recent()
			if cur, ok := d.storage.m[slot]; ok && cur.After != sdelta.Original {
				d.storage.mu.RUnlock()
				return false
			}
		}
		d.storage.mu.RUnlock()
	}
	return true
}

// Merge overwrites Block State's After side with tx's final values.
// Callers must have confirmed CanMerge first; Merge does not re-check.
// Ported from block_state.hpp's merge(State const&).
func (bs *BlockState) Merge(tx *TransactionState) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	for addr, vs := range tx.accounts {
		acctDelta := vs.Recent()
		d, ok := bs.state[addr]
		if !ok {
			d = &stateDelta{account: AccountDelta{Original: acctDelta.Original}, storage: newStorageDeltas()}
			bs.state[addr] = d
		}
		d.account.After = acctDelta.After
	}
	for addr, slots := range tx.storage {
		d, ok := bs.state[addr]
		if !ok {
			d = &stateDelta{storage: newStorageDeltas()}
			bs.state[addr] = d
		}
		d.storage.mu.Lock()
		for slot, vs := range slots {
			sdelta := vs.Recent()
			existing := d.storage.m[slot]
			existing.After = sdelta.After
			if _, seen := d.storage.m[slot]; !seen {
				existing.Original = sdelta.Original
			}
			d.storage.m[slot] = existing
		}
		d.storage.mu.Unlock()
	}
	for hash, code := range tx.code {
		bs.code[hash] = code
	}
}

// Deltas enumerates every account this Block State has accumulated this
// block into commit-ready form, ported from the Triedb Facade's own
// deltas-to-commit translation (category/execution/ethereum/db/db.hpp's
// commit(StateDeltas const&, Code const&, ...)). An account whose After
// value is nil was destructed and is reported as deleted. WipeStorage is
// set whenever the account's incarnation advanced since Block State first
// read it, since a bumped incarnation means any prior storage trie no
// longer belongs to the address's current lifetime. Code is attached
// whenever the account's code hash is in Block State's code cache, which
// Merge fills from TransactionState.WriteCode and ReadCode fills on a read.
func (bs *BlockState) Deltas() []triedb.AccountUpdate {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	updates := make([]triedb.AccountUpdate, 0, len(bs.state))
	for addr, d := range bs.state {
		if d.account.After == nil {
			updates = append(updates, triedb.AccountUpdate{Address: addr, Deleted: true})
			continue
		}

		u := triedb.AccountUpdate{Address: addr, Account: d.account.After}
		if d.account.Original == nil || d.account.Original.Incarnation != d.account.After.Incarnation {
			u.WipeStorage = true
		}

		d.storage.mu.RLock()
		for slot, sd := range d.storage.m {
			var val *uint256.Int
			if !sd.After.IsZero() {
				val = hashToU256(sd.After)
			}
			u.Storage = append(u.Storage, triedb.StorageWrite{Slot: slot, Value: val})
		}
		d.storage.mu.RUnlock()

		if code, ok := bs.code[d.account.After.CodeHash]; ok {
			u.Code = code
		}
		updates = append(updates, u)
	}
	return updates
}

// Commit builds a CommitInput from this Block State's accumulated deltas
// and applies it to the underlying Triedb, returning the new state root.
func (bs *BlockState) Commit(in triedb.CommitInput) (types.Hash, error) {
	in.Accounts = bs.Deltas()
	return bs.db.Commit(in)
}

func accountsEqual(a, b *types.Account) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Balance.Eq(b.Balance) &&
		a.Nonce == b.Nonce &&
		a.CodeHash == b.CodeHash &&
		a.Root == b.Root &&
		a.Incarnation == b.Incarnation
}

func u256ToHash(v *uint256.Int) types.Hash {
	if v == nil {
		return types.Hash{}
	}
	return types.Hash(v.Bytes32())
}

func hashToU256(h types.Hash) *uint256.Int {
	var v uint256.Int
	v.SetBytes32(h[:])
	return &v
}
