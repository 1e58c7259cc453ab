package triedb

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/monadexec/execore/crypto"
	"github.com/monadexec/execore/mpt"
	"github.com/monadexec/execore/rlp"
	"github.com/monadexec/execore/types"
)

// StorageWrite is one slot write within an AccountUpdate. A nil Value
// deletes the slot (the EVM's "store zero clears the slot" rule).
type StorageWrite struct {
	Slot  types.Hash
	Value *uint256.Int
}

// AccountUpdate is everything a single account contributes to a block
// commit: its possibly-changed account leaf, any storage writes, and new
// code if it just deployed a contract. A nil Account with Deleted set
// removes the account (self-destruct); Incarnation bump is expressed by
// setting WipeStorage, which discards the cached/loaded storage trie and
// starts the account fresh before applying Storage.
type AccountUpdate struct {
	Address     types.Address
	Account     *types.Account
	Deleted     bool
	WipeStorage bool
	Storage     []StorageWrite
	Code        types.Code
}

// CommitInput bundles everything commit needs to advance the database by
// one block, mirroring the Triedb Facade's commit(block_id, header, deltas,
// code, receipts, txs, ommers, withdrawals) signature. There is no ommers
// field -- this engine has no uncle-inclusion consensus rule of its own to
// compute a root for.
type CommitInput struct {
	BlockID      uint64
	Header       *types.Header
	Accounts     []AccountUpdate
	Receipts     []*types.Receipt
	Transactions []*types.Transaction
	Withdrawals  []*types.Withdrawal
}

// Commit applies every account update, derives the receipts/transactions/
// withdrawals roots, writes all four roots into header, and advances the
// retention ring. It returns the new state root.
func (t *Triedb) Commit(in CommitInput) (types.Hash, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, u := range in.Accounts {
		if err := t.applyAccountUpdateLocked(u); err != nil {
			return types.Hash{}, fmt.Errorf("triedb: commit account %s: %w", u.Address, err)
		}
	}

	stateRoot, err := t.state.Commit()
	if err != nil {
		return types.Hash{}, fmt.Errorf("triedb: commit state trie: %w", err)
	}
	if _, err := t.code.Commit(); err != nil {
		return types.Hash{}, fmt.Errorf("triedb: commit code trie: %w", err)
	}

	receiptsRoot, err := buildIndexTrie(t.db, len(in.Receipts), func(i int) ([]byte, error) {
		return rlp.EncodeToBytes(in.Receipts[i])
	})
	if err != nil {
		return types.Hash{}, fmt.Errorf("triedb: receipts root: %w", err)
	}
	txRoot, err := buildIndexTrie(t.db, len(in.Transactions), func(i int) ([]byte, error) {
		return rlp.EncodeToBytes(in.Transactions[i])
	})
	if err != nil {
		return types.Hash{}, fmt.Errorf("triedb: transactions root: %w", err)
	}

	if in.Header != nil {
		in.Header.Root = stateRoot
		in.Header.ReceiptHash = receiptsRoot
		in.Header.TxHash = txRoot
		if in.Withdrawals != nil {
			wdRoot, err := buildIndexTrie(t.db, len(in.Withdrawals), func(i int) ([]byte, error) {
				return rlp.EncodeToBytes(in.Withdrawals[i])
			})
			if err != nil {
				return types.Hash{}, fmt.Errorf("triedb: withdrawals root: %w", err)
			}
			in.Header.WithdrawalsHash = &wdRoot
		}
	}

	if evicted, ok := t.ring.Push(stateRoot, in.BlockID); ok {
		t.log.Debug("retention window advanced", "evicted_block", evicted.BlockNumber, "evicted_root", evicted.Root.Hex())
	}
	t.currentBlock = in.BlockID

	return stateRoot, nil
}

func (t *Triedb) applyAccountUpdateLocked(u AccountUpdate) error {
	key := accountKey(u.Address)

	if u.Deleted {
		delete(t.storageTries, u.Address)
		if err := t.state.Delete(key); err != nil && err != mpt.ErrKeyNotFound {
			return err
		}
		return nil
	}

	if u.Account == nil {
		return fmt.Errorf("account update for %s is neither deleted nor has an account", u.Address)
	}
	acct := *u.Account

	if u.WipeStorage {
		delete(t.storageTries, u.Address)
		acct.Root = types.EmptyRootHash
	}
	if len(u.Storage) > 0 || u.WipeStorage {
		root := acct.Root
		if root == (types.Hash{}) {
			root = types.EmptyRootHash
		}
		strie, err := t.storageTrieLocked(u.Address, root)
		if err != nil {
			return err
		}
		for _, w := range u.Storage {
			sk := storageKey(w.Slot)
			if w.Value == nil || w.Value.IsZero() {
				if err := strie.Delete(sk); err != nil && err != mpt.ErrKeyNotFound {
					return err
				}
				continue
			}
			enc, err := rlp.EncodeToBytes(w.Value)
			if err != nil {
				return err
			}
			if err := strie.Put(sk, enc); err != nil {
				return err
			}
		}
		newRoot, err := strie.Commit()
		if err != nil {
			return err
		}
		acct.Root = newRoot
	}

	if len(u.Code) > 0 {
		codeHash := crypto.Keccak256Hash(u.Code)
		if _, err := t.code.Get(codeHash.Bytes()); err == mpt.ErrKeyNotFound {
			if err := t.code.Put(codeHash.Bytes(), u.Code); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		acct.CodeHash = codeHash
	}

	enc, err := rlp.EncodeToBytes(&acct)
	if err != nil {
		return err
	}
	return t.state.Put(key, enc)
}

// buildIndexTrie RLP-encodes each of n items (via encodeAt) into a fresh
// trie keyed by the RLP encoding of its own index, and returns the
// resulting root. An empty item set yields the canonical empty root.
func buildIndexTrie(db *mpt.Database, n int, encodeAt func(i int) ([]byte, error)) (types.Hash, error) {
	if n == 0 {
		return types.EmptyRootHash, nil
	}
	tr := mpt.New(db, mpt.NewDefaultStateMachine())
	for i := 0; i < n; i++ {
		key, err := rlp.EncodeToBytes(uint64(i))
		if err != nil {
			return types.Hash{}, err
		}
		val, err := encodeAt(i)
		if err != nil {
			return types.Hash{}, err
		}
		if err := tr.Put(key, val); err != nil {
			return types.Hash{}, err
		}
	}
	return tr.Commit()
}

// SetBlockAndRound advances the speculative block pointer the executor is
// currently working against, under the consensus driver's direction.
func (t *Triedb) SetBlockAndRound(n uint64, round *uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentBlock = n
	t.currentRound = round
}

// Finalize marks block n (proposed in round) as finalized: no future fork
// choice can revert it, and the block-hash ring's proposal overlay for
// round can be collapsed into the canonical chain.
func (t *Triedb) Finalize(n uint64, round uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finalizedBlock = n
}

// UpdateVerifiedBlock advances the verified-block pointer: the highest
// block whose state transition has been independently re-executed and
// confirmed to match, distinct from finalization (a consensus property)
// and from mere commit (an optimistic/speculative one).
func (t *Triedb) UpdateVerifiedBlock(n uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.verifiedBlock = n
}

// CurrentBlock, FinalizedBlock, and VerifiedBlock report the three
// consensus pointers Triedb tracks.
func (t *Triedb) CurrentBlock() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currentBlock
}

func (t *Triedb) FinalizedBlock() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.finalizedBlock
}

func (t *Triedb) VerifiedBlock() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.verifiedBlock
}

// CurrentRound reports the consensus round last set via SetBlockAndRound,
// if any.
func (t *Triedb) CurrentRound() *uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currentRound
}
