package state

import (
	"github.com/monadexec/execore/crypto"
	"github.com/monadexec/execore/types"
)

func codeHash(code types.Code) types.Hash {
	return crypto.Keccak256Hash(code)
}

// storageKey identifies one account's one slot inside TransactionState's
// flat dirty-tracking lists.
type storageKey struct {
	addr types.Address
	slot types.Hash
}

// frame is the undo record for one call/create checkpoint: everything
// Accept/Reject needs to fold or unwind, beyond what each location's own
// VersionStack already tracks.
type frame struct {
	version      uint32
	logStart     int
	refundBase   int64
	destructed   []types.Address // newly destructed since this frame was pushed
	created      []types.Address // newly created since this frame was pushed
	dirtyAccount []types.Address
	dirtyStorage []storageKey
}

// TransactionState is one transaction's checkpointed working copy over a
// BlockState: every touched account and storage slot gets its own
// VersionStack, and call/create frames push/accept/reject checkpoints
// across all of them together. Accessed/touched/destructed tracking lives
// in an embedded Substate. Ported from the VersionStack<T> contract in
// libs/execution/src/monad/state3/version_stack.hpp and the Substate
// contract in include/monad/state2/substate.hpp, composed into a single
// per-transaction checkpoint stack.
type TransactionState struct {
	bs *BlockState

	version uint32
	frames  []frame

	accounts map[types.Address]*VersionStack[AccountDelta]
	storage  map[types.Address]map[types.Hash]*VersionStack[StorageDelta]
	code     map[types.Hash]types.Code

	sub    *Substate
	refund int64
}

// NewTransactionState creates a TransactionState rooted at bs, with an implicit root
// checkpoint (version 0) already pushed.
func NewTransactionState(bs *BlockState) *TransactionState {
	return &TransactionState{
		bs:       bs,
		frames:   []frame{{version: 0}},
		accounts: make(map[types.Address]*VersionStack[AccountDelta]),
		storage:  make(map[types.Address]map[types.Hash]*VersionStack[StorageDelta]),
		code:     make(map[types.Hash]types.Code),
		sub:      NewSubstate(),
	}
}

// PushCheckpoint begins a new call/create frame and returns its id.
func (tx *TransactionState) PushCheckpoint() uint32 {
	tx.version++
	tx.frames = append(tx.frames, frame{
		version:    tx.version,
		logStart:   len(tx.sub.logs),
		refundBase: tx.refund,
	})
	return tx.version
}

// Substate returns the transaction's accrued-state tracker.
func (tx *TransactionState) Substate() *Substate { return tx.sub }

// Refund returns the current net gas refund.
func (tx *TransactionState) Refund() int64 { return tx.refund }

// AddRefund adds delta (possibly negative) to the running refund counter.
func (tx *TransactionState) AddRefund(delta int64) { tx.refund += delta }

func (tx *TransactionState) currentFrame() *frame {
	return &tx.frames[len(tx.frames)-1]
}

// ReadAccount returns the account as currently visible to this
// transaction, reading through to BlockState (and Triedb beneath it) on a
// first touch.
func (tx *TransactionState) ReadAccount(addr types.Address) (*types.Account, error) {
	if vs, ok := tx.accounts[addr]; ok {
		return vs.Recent().After, nil
	}
	acct, err := tx.bs.ReadAccount(addr)
	if err != nil {
		return nil, err
	}
	tx.accounts[addr] = NewVersionStack(AccountDelta{Original: acct, After: acct})
	return acct, nil
}

// WriteAccount installs next as addr's current value at the active
// checkpoint.
func (tx *TransactionState) WriteAccount(addr types.Address, next *types.Account) error {
	if _, err := tx.ReadAccount(addr); err != nil {
		return err
	}
	vs := tx.accounts[addr]
	d := vs.Current(tx.version)
	d.After = next
	tx.markDirtyAccount(addr)
	return nil
}

// ReadStorage returns slot's current value under addr as visible to this
// transaction.
func (tx *TransactionState) ReadStorage(addr types.Address, incarnation types.Incarnation, slot types.Hash) (types.Hash, error) {
	if slots, ok := tx.storage[addr]; ok {
		if vs, ok := slots[slot]; ok {
			return vs.Recent().After, nil
		}
	}
	word, err := tx.bs.ReadStorage(addr, incarnation, slot)
	if err != nil {
		return types.Hash{}, err
	}
	tx.installStorage(addr, slot, word)
	return word, nil
}

// WriteStorage sets slot under addr to value at the active checkpoint.
func (tx *TransactionState) WriteStorage(addr types.Address, incarnation types.Incarnation, slot types.Hash, value types.Hash) error {
	if _, err := tx.ReadStorage(addr, incarnation, slot); err != nil {
		return err
	}
	vs := tx.storage[addr][slot]
	d := vs.Current(tx.version)
	d.After = value
	tx.markDirtyStorage(addr, slot)
	return nil
}

func (tx *TransactionState) installStorage(addr types.Address, slot, word types.Hash) {
	slots, ok := tx.storage[addr]
	if !ok {
		slots = make(map[types.Hash]*VersionStack[StorageDelta])
		tx.storage[addr] = slots
	}
	slots[slot] = NewVersionStack(StorageDelta{Original: word, After: word})
}

// ReadStorageOriginal returns slot's value as it stood when this
// transaction first touched it (the EIP-2200 "original value"), which
// stays fixed across checkpoints regardless of how many times the slot
// has since been written.
func (tx *TransactionState) ReadStorageOriginal(addr types.Address, incarnation types.Incarnation, slot types.Hash) (types.Hash, error) {
	if _, err := tx.ReadStorage(addr, incarnation, slot); err != nil {
		return types.Hash{}, err
	}
	return tx.storage[addr][slot].Recent().Original, nil
}

// ReadCode returns code by hash, checking this transaction's own
// freshly-written code before reading through to BlockState.
func (tx *TransactionState) ReadCode(hash types.Hash) (types.Code, error) {
	if c, ok := tx.code[hash]; ok {
		return c, nil
	}
	return tx.bs.ReadCode(hash)
}

// WriteCode records freshly-deployed code. Code is content-addressed and
// append-only, so it is never rolled back by Reject -- only the account's
// CodeHash field (versioned normally via WriteAccount) determines whether
// it ends up referenced.
func (tx *TransactionState) WriteCode(code types.Code) types.Hash {
	hash := codeHash(code)
	tx.code[hash] = code
	return hash
}

func (tx *TransactionState) markDirtyAccount(addr types.Address) {
	f := tx.currentFrame()
	f.dirtyAccount = append(f.dirtyAccount, addr)
}

func (tx *TransactionState) markDirtyStorage(addr types.Address, slot types.Hash) {
	f := tx.currentFrame()
	f.dirtyStorage = append(f.dirtyStorage, storageKey{addr: addr, slot: slot})
}

// Destruct marks addr for self-destruction within the active checkpoint;
// reverted by Reject if the enclosing frame unwinds.
func (tx *TransactionState) Destruct(addr types.Address) bool {
	inserted := tx.sub.Destruct(addr)
	if inserted {
		f := tx.currentFrame()
		f.destructed = append(f.destructed, addr)
	}
	return inserted
}

// MarkCreated records addr as freshly created within the active
// checkpoint, reverted by Reject if the enclosing frame unwinds.
func (tx *TransactionState) MarkCreated(addr types.Address) bool {
	inserted := tx.sub.MarkCreated(addr)
	if inserted {
		f := tx.currentFrame()
		f.created = append(f.created, addr)
	}
	return inserted
}

// Accept folds the checkpoint at id into its parent, keeping every
// location touched at that version. Ported from EVMC_SUCCESS handling in
// the call-success checkpoint protocol.
func (tx *TransactionState) Accept(id uint32) {
	f := tx.popFrame(id)
	if f == nil {
		return
	}
	for _, addr := range f.dirtyAccount {
		tx.accounts[addr].Accept(id)
	}
	for _, k := range f.dirtyStorage {
		tx.storage[k.addr][k.slot].Accept(id)
	}
}

// Reject discards the checkpoint at id and everything it touched: account
// and storage writes roll back to their pre-checkpoint values, newly
// destructed addresses are un-destructed, and logs/refund accrued since
// the checkpoint are dropped. Ported from EVMC_REVERT/EVMC_FAILURE
// handling in the call-failure checkpoint protocol.
func (tx *TransactionState) Reject(id uint32) {
	f := tx.popFrame(id)
	if f == nil {
		return
	}
	for _, addr := range f.dirtyAccount {
		tx.accounts[addr].Reject(id)
	}
	for _, k := range f.dirtyStorage {
		tx.storage[k.addr][k.slot].Reject(id)
	}
	for _, addr := range f.destructed {
		delete(tx.sub.destructed, addr)
	}
	for _, addr := range f.created {
		delete(tx.sub.created, addr)
	}
	tx.sub.logs = tx.sub.logs[:f.logStart]
	tx.refund = f.refundBase
}

func (tx *TransactionState) popFrame(id uint32) *frame {
	n := len(tx.frames)
	if n == 0 || tx.frames[n-1].version != id {
		return nil
	}
	f := tx.frames[n-1]
	tx.frames = tx.frames[:n-1]
	return &f
}
