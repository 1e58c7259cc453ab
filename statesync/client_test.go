package statesync

import (
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"

	"github.com/monadexec/execore/ioring"
	"github.com/monadexec/execore/mpt"
	"github.com/monadexec/execore/storage"
	"github.com/monadexec/execore/triedb"
	"github.com/monadexec/execore/types"
)

func newTestTriedb(t *testing.T) *triedb.Triedb {
	t.Helper()
	dir := t.TempDir()
	pool, err := storage.Open(storage.Config{
		Path:      filepath.Join(dir, "pool.dat"),
		ChunkSize: 256 * 1024,
		PageSize:  4096,
		NumChunks: 64,
	}, nil)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	ring := ioring.New(pool, ioring.DefaultConfig(), nil)
	t.Cleanup(func() { ring.Close() })

	db := mpt.NewDatabase(pool, ring, 4*1024*1024, nil)
	return triedb.Open(db, triedb.Config{}, nil)
}

func testAddr(b byte) types.Address {
	var a types.Address
	a[len(a)-1] = b
	return a
}

func TestClientSyncMatchesDirectCommit(t *testing.T) {
	accounts := []AccountRecord{
		{Address: testAddr(1), Account: types.Account{Balance: uint256.NewInt(100), Root: types.EmptyRootHash, CodeHash: types.EmptyCodeHash, Nonce: 1}},
		{Address: testAddr(2), Account: types.Account{Balance: uint256.NewInt(200), Root: types.EmptyRootHash, CodeHash: types.EmptyCodeHash, Nonce: 2}},
	}

	reference := newTestTriedb(t)
	updates := make([]triedb.AccountUpdate, len(accounts))
	for i, a := range accounts {
		acct := a.Account
		updates[i] = triedb.AccountUpdate{Address: a.Address, Account: &acct}
	}
	wantRoot, err := reference.Commit(triedb.CommitInput{BlockID: 1, Accounts: updates})
	if err != nil {
		t.Fatalf("reference commit: %v", err)
	}

	snap := &Snapshot{Accounts: accounts, Storage: map[types.Address][]StorageRecord{}, Code: map[types.Hash]CodeRecord{}}
	server := NewServer(snap)

	target := newTestTriedb(t)
	client, err := NewClient(target, filepath.Join(t.TempDir(), "stage"), server, ClientConfig{ShardDepth: 1, MaxRetries: 2}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	if err := client.Sync(wantRoot, 0, 1); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got := target.StateRoot(); got != wantRoot {
		t.Fatalf("synced root = %s, want %s", got.Hex(), wantRoot.Hex())
	}
}

func TestClientSyncRootMismatchReturnsError(t *testing.T) {
	snap := &Snapshot{
		Accounts: []AccountRecord{{Address: testAddr(1), Account: types.Account{Balance: uint256.NewInt(1), Root: types.EmptyRootHash, CodeHash: types.EmptyCodeHash}}},
		Storage:  map[types.Address][]StorageRecord{},
		Code:     map[types.Hash]CodeRecord{},
	}
	server := NewServer(snap)
	target := newTestTriedb(t)
	client, err := NewClient(target, filepath.Join(t.TempDir(), "stage"), server, ClientConfig{ShardDepth: 1, MaxRetries: 1}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	if err := client.Sync(types.HexToHash("deadbeef"), 0, 1); err == nil {
		t.Fatalf("expected root mismatch error")
	}
}
