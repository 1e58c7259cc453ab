package mpt

import (
	"path/filepath"
	"testing"

	"github.com/monadexec/execore/ioring"
	"github.com/monadexec/execore/storage"
	"github.com/monadexec/execore/types"
)

func newTestTrie(t *testing.T) *Trie {
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

	db := NewDatabase(pool, ring, 4*1024*1024, nil)
	return New(db, nil)
}

func TestEmptyTrie(t *testing.T) {
	tr := newTestTrie(t)
	got, err := tr.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got != emptyRoot {
		t.Fatalf("empty trie hash = %s, want %s", got.Hex(), emptyRoot.Hex())
	}
	if got != types.EmptyRootHash {
		t.Fatalf("empty trie hash does not match types.EmptyRootHash")
	}
}

func TestInsertGethVector1(t *testing.T) {
	tr := newTestTrie(t)
	must(t, tr.Put([]byte("doe"), []byte("reindeer")))
	must(t, tr.Put([]byte("dog"), []byte("puppy")))
	must(t, tr.Put([]byte("dogglesworth"), []byte("cat")))

	exp := types.HexToHash("8aad789dff2f538bca5d8ea56e8abe10f4c7ba3a5dea95fea4cd6e7c3a1168d3")
	got, err := tr.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got != exp {
		t.Fatalf("root = %s, want %s", got.Hex(), exp.Hex())
	}
}

func TestInsertGethVector2(t *testing.T) {
	tr := newTestTrie(t)
	must(t, tr.Put([]byte("A"), []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")))

	exp := types.HexToHash("d23786fb4a010da3ce639d66d5e904a11dbc02746d1ce25029e53290cabf28ab")
	got, err := tr.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got != exp {
		t.Fatalf("root = %s, want %s", got.Hex(), exp.Hex())
	}
}

func TestDeleteGethVector(t *testing.T) {
	tr := newTestTrie(t)
	must(t, tr.Put([]byte("do"), []byte("verb")))
	must(t, tr.Put([]byte("ether"), []byte("wookiedoo")))
	must(t, tr.Put([]byte("horse"), []byte("stallion")))
	must(t, tr.Put([]byte("shaman"), []byte("horse")))
	must(t, tr.Put([]byte("doge"), []byte("coin")))
	must(t, tr.Delete([]byte("ether")))
	must(t, tr.Put([]byte("dog"), []byte("puppy")))
	must(t, tr.Delete([]byte("shaman")))

	exp := types.HexToHash("5991bb8c6514148a29db676a14ac506cd2cd5775ace63c30a4fe457715e9ac84")
	got, err := tr.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got != exp {
		t.Fatalf("root = %s, want %s", got.Hex(), exp.Hex())
	}
}

func TestGetAfterPut(t *testing.T) {
	tr := newTestTrie(t)
	must(t, tr.Put([]byte("do"), []byte("verb")))
	must(t, tr.Put([]byte("dog"), []byte("puppy")))
	must(t, tr.Put([]byte("doge"), []byte("coin")))

	for _, kv := range []struct{ k, v string }{
		{"do", "verb"},
		{"dog", "puppy"},
		{"doge", "coin"},
	} {
		got, err := tr.Get([]byte(kv.k))
		if err != nil {
			t.Fatalf("Get(%q): %v", kv.k, err)
		}
		if string(got) != kv.v {
			t.Fatalf("Get(%q) = %q, want %q", kv.k, got, kv.v)
		}
	}

	if _, err := tr.Get([]byte("missing")); err != ErrKeyNotFound {
		t.Fatalf("Get(missing) err = %v, want ErrKeyNotFound", err)
	}
}

// TestCommitPersistsAndReloads checks that after a Commit, a fresh Trie
// opened from the resulting root hash (against the same Database) resolves
// every key the same way -- the disk codec round trip, not just the
// in-memory tree.
func TestCommitPersistsAndReloads(t *testing.T) {
	tr := newTestTrie(t)
	kvs := map[string]string{
		"do":    "verb",
		"dog":   "puppy",
		"doge":  "coin",
		"horse": "stallion",
	}
	for k, v := range kvs {
		must(t, tr.Put([]byte(k), []byte(v)))
	}
	root, err := tr.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	reloaded := NewFromRoot(root, tr.db, nil)
	for k, v := range kvs {
		got, err := reloaded.Get([]byte(k))
		if err != nil {
			t.Fatalf("Get(%q) after reload: %v", k, err)
		}
		if string(got) != v {
			t.Fatalf("Get(%q) after reload = %q, want %q", k, got, v)
		}
	}
}

// TestCommitIsStableAcrossRecommits checks that committing twice with no
// changes in between yields the same root -- the unchanged-subtree
// short-circuit in commitNode must not perturb the hash.
func TestCommitIsStableAcrossRecommits(t *testing.T) {
	tr := newTestTrie(t)
	must(t, tr.Put([]byte("alpha"), []byte("one")))
	must(t, tr.Put([]byte("album"), []byte("two")))

	first, err := tr.Commit()
	if err != nil {
		t.Fatalf("first Commit: %v", err)
	}
	second, err := tr.Commit()
	if err != nil {
		t.Fatalf("second Commit: %v", err)
	}
	if first != second {
		t.Fatalf("root changed across no-op recommit: %s != %s", first.Hex(), second.Hex())
	}
}

func TestUpsertBatchAndIncarnationWipe(t *testing.T) {
	tr := newTestTrie(t)
	acct := []byte{0x01, 0x02, 0x03, 0x04}

	_, err := tr.Upsert([]*Update{
		MakeUpdate(KeyToNibbles(acct), []byte("account-v1"), 1),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := tr.Get(acct)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "account-v1" {
		t.Fatalf("Get = %q, want account-v1", got)
	}

	// A new incarnation wipes whatever was there before applying its own
	// write.
	u := MakeUpdate(KeyToNibbles(acct), []byte("account-v2"), 2)
	u.Incarnation = true
	if _, err := tr.Upsert([]*Update{u}); err != nil {
		t.Fatalf("Upsert with incarnation: %v", err)
	}
	got, err = tr.Get(acct)
	if err != nil {
		t.Fatalf("Get after incarnation: %v", err)
	}
	if string(got) != "account-v2" {
		t.Fatalf("Get after incarnation = %q, want account-v2", got)
	}
}

func TestTraverseVisitsAllLeavesUnderPrefix(t *testing.T) {
	tr := newTestTrie(t)
	must(t, tr.Put([]byte("aa"), []byte("1")))
	must(t, tr.Put([]byte("ab"), []byte("2")))
	must(t, tr.Put([]byte("ba"), []byte("3")))

	seen := map[string]string{}
	err := tr.Traverse(nil, func(key NibbleView, value []byte) bool {
		seen[string(key.Bytes())] = string(value)
		return true
	})
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	want := map[string]string{"aa": "1", "ab": "2", "ba": "3"}
	if len(seen) != len(want) {
		t.Fatalf("Traverse saw %v, want %v", seen, want)
	}
	for k, v := range want {
		if seen[k] != v {
			t.Fatalf("Traverse[%q] = %q, want %q", k, seen[k], v)
		}
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
