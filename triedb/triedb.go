// Package triedb is the typed facade over the MPT core: account, storage,
// and code reads/writes, per-block root computation, and the speculative/
// finalized block pointers a consensus driver advances. Grounded on
// pkg/core/state's package shape (a StateDB wrapping a trie with typed
// accessors), generalized to an incarnation-aware storage model and
// multi-root block commit.
package triedb

import (
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/monadexec/execore/crypto"
	"github.com/monadexec/execore/history"
	"github.com/monadexec/execore/mpt"
	"github.com/monadexec/execore/rlp"
	"github.com/monadexec/execore/types"
	"github.com/monadexec/execore/xlog"
)

// Triedb owns the state trie, the code-by-hash trie, and a cache of
// per-account storage tries, plus the history ring/compactor that keep the
// underlying mpt.Database bounded.
type Triedb struct {
	mu sync.RWMutex

	db   *mpt.Database
	log  *xlog.Logger
	ring *history.Ring

	state *mpt.Trie
	code  *mpt.Trie

	// storageTries caches the loaded per-account storage trie by address so
	// a block touching the same account's storage many times doesn't pay
	// NewFromRoot's resolve cost on every slot.
	storageTries map[types.Address]*mpt.Trie

	currentBlock  uint64
	currentRound  *uint64
	verifiedBlock uint64
	finalizedBlock uint64
}

// Config selects the roots Open resumes from. A zero Config opens an empty
// (genesis) database.
type Config struct {
	StateRoot types.Hash
	CodeRoot  types.Hash

	RetentionDepth int // history.Ring depth; see history.NewRing
}

// Open creates a Triedb over db, resuming the state and code tries from
// cfg's roots (or starting empty if they're the zero hash).
func Open(db *mpt.Database, cfg Config, log *xlog.Logger) *Triedb {
	if log == nil {
		log = xlog.Default().Module("triedb")
	}
	depth := cfg.RetentionDepth
	if depth <= 0 {
		depth = 256
	}
	return &Triedb{
		db:           db,
		log:          log,
		ring:         history.NewRing(depth),
		state:        mpt.NewFromRoot(cfg.StateRoot, db, mpt.NewDefaultStateMachine()),
		code:         mpt.NewFromRoot(cfg.CodeRoot, db, mpt.NewDefaultStateMachine()),
		storageTries: make(map[types.Address]*mpt.Trie),
	}
}

// History exposes the retention ring so a history.Compactor can be built
// over the same window Triedb commits into.
func (t *Triedb) History() *history.Ring { return t.ring }

// Database exposes the underlying mpt.Database, e.g. for a compactor.
func (t *Triedb) Database() *mpt.Database { return t.db }

// NewCompactor builds a history.Compactor scoped to this Triedb's database
// and retention ring, ready to Start.
func (t *Triedb) NewCompactor(cfg history.Config) *history.Compactor {
	return history.NewCompactor(t.db, t.ring, cfg, t.log.Module("compactor"))
}

func zeroUint() *uint256.Int { return new(uint256.Int) }

func decodeUint(enc []byte) (*uint256.Int, error) {
	var u uint256.Int
	if err := rlp.DecodeBytes(enc, &u); err != nil {
		return nil, fmt.Errorf("triedb: decode storage value: %w", err)
	}
	return &u, nil
}

func accountKey(addr types.Address) []byte {
	return crypto.Keccak256Hash(addr.Bytes()).Bytes()
}

func storageKey(slot types.Hash) []byte {
	return crypto.Keccak256Hash(slot.Bytes()).Bytes()
}

// ReadAccount looks up addr in the state trie. A nil Account with a nil
// error means the account does not exist.
func (t *Triedb) ReadAccount(addr types.Address) (*types.Account, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.readAccountLocked(addr)
}

func (t *Triedb) readAccountLocked(addr types.Address) (*types.Account, error) {
	enc, err := t.state.Get(accountKey(addr))
	if err == mpt.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var acct types.Account
	if err := rlp.DecodeBytes(enc, &acct); err != nil {
		return nil, fmt.Errorf("triedb: decode account %s: %w", addr, err)
	}
	return &acct, nil
}

// ReadStorage reads slot under addr, scoped to incarnation: if the stored
// account's own incarnation differs (the account was destroyed and
// recreated since the slot was written, or never existed), the slot reads
// as zero without the stale value ever being consulted.
func (t *Triedb) ReadStorage(addr types.Address, incarnation types.Incarnation, slot types.Hash) (*uint256.Int, error) {
	// storageTrieLocked may populate the per-account trie cache on a miss,
	// so this needs the write lock even though it's a read operation.
	t.mu.Lock()
	defer t.mu.Unlock()

	acct, err := t.readAccountLocked(addr)
	if err != nil {
		return nil, err
	}
	if acct == nil || acct.Incarnation != incarnation {
		return zeroUint(), nil
	}

	strie, err := t.storageTrieLocked(addr, acct.Root)
	if err != nil {
		return nil, err
	}
	enc, err := strie.Get(storageKey(slot))
	if err == mpt.ErrKeyNotFound {
		return zeroUint(), nil
	}
	if err != nil {
		return nil, err
	}
	return decodeUint(enc)
}

// ReadCode looks up code by its own keccak256 hash.
func (t *Triedb) ReadCode(codeHash types.Hash) (types.Code, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if codeHash == types.EmptyCodeHash {
		return types.Code{}, nil
	}
	enc, err := t.code.Get(codeHash.Bytes())
	if err == mpt.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return types.Code(enc), nil
}

// storageTrieLocked returns the cached per-account storage trie, loading it
// from root if this is the first touch this process has seen of addr.
// Callers hold t.mu.
func (t *Triedb) storageTrieLocked(addr types.Address, root types.Hash) (*mpt.Trie, error) {
	if strie, ok := t.storageTries[addr]; ok {
		return strie, nil
	}
	strie := mpt.NewFromRoot(root, t.db, mpt.NewStorageStateMachine())
	t.storageTries[addr] = strie
	return strie, nil
}

// StateRoot returns the current committed state trie root.
func (t *Triedb) StateRoot() types.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.RootHash()
}

// CodeRoot returns the current committed code-by-hash trie root.
func (t *Triedb) CodeRoot() types.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.code.RootHash()
}
