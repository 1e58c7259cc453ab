package history

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/monadexec/execore/ioring"
	"github.com/monadexec/execore/mpt"
	"github.com/monadexec/execore/storage"
	"github.com/monadexec/execore/types"
)

func newTestDatabase(t *testing.T) *mpt.Database {
	t.Helper()
	dir := t.TempDir()
	pool, err := storage.Open(storage.Config{
		Path:      filepath.Join(dir, "pool.dat"),
		ChunkSize: 8192,
		PageSize:  4096,
		NumChunks: 4096,
	}, nil)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	ring := ioring.New(pool, ioring.DefaultConfig(), nil)
	t.Cleanup(func() { ring.Close() })

	return mpt.NewDatabase(pool, ring, 1*1024*1024, nil)
}

// TestCompactorRelocatesLiveAndDropsDead commits many generations of a
// trie (forcing allocation across several chunks), keeps only the latest
// root in the retention window, and checks that a compaction pass leaves
// every key in the surviving root readable while reclaiming older chunks.
func TestCompactorRelocatesLiveAndDropsDead(t *testing.T) {
	db := newTestDatabase(t)
	tr := mpt.New(db, nil)

	var lastRoot types.Hash
	for i := 0; i < 64; i++ {
		k := []byte(fmt.Sprintf("key-%04d", i))
		v := []byte(fmt.Sprintf("value-%04d-xxxxxxxxxxxxxxxxxxxxxxxxxxxx", i))
		if err := tr.Put(k, v); err != nil {
			t.Fatalf("Put: %v", err)
		}
		root, err := tr.Commit()
		if err != nil {
			t.Fatalf("Commit: %v", err)
		}
		lastRoot = root
	}

	ring := NewRing(1)
	ring.Push(lastRoot, 64)

	c := NewCompactor(db, ring, Config{RetainChunks: 1}, nil)
	stats, err := c.RunOnce()
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.ChunksVisited == 0 {
		t.Fatalf("expected at least one chunk visited, got zero -- test data did not span multiple chunks")
	}

	reloaded := mpt.NewFromRoot(lastRoot, db, nil)
	for i := 0; i < 64; i++ {
		k := []byte(fmt.Sprintf("key-%04d", i))
		want := []byte(fmt.Sprintf("value-%04d-xxxxxxxxxxxxxxxxxxxxxxxxxxxx", i))
		got, err := reloaded.Get(k)
		if err != nil {
			t.Fatalf("Get(%q) after compaction: %v", k, err)
		}
		if string(got) != string(want) {
			t.Fatalf("Get(%q) after compaction = %q, want %q", k, got, want)
		}
	}
}

func TestCompactorNoopWithEmptyRing(t *testing.T) {
	db := newTestDatabase(t)
	ring := NewRing(4)
	c := NewCompactor(db, ring, DefaultConfig(), nil)
	stats, err := c.RunOnce()
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats != (Stats{}) {
		t.Fatalf("expected zero stats on empty ring, got %+v", stats)
	}
}

func TestCompactorStartStop(t *testing.T) {
	db := newTestDatabase(t)
	ring := NewRing(4)
	c := NewCompactor(db, ring, Config{RetainChunks: 1, Interval: 0}, nil)
	c.Start()
	c.Stop()
}
