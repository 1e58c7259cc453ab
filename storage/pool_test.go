package storage

import (
	"bytes"
	"path/filepath"
	"testing"
)

func newTestPool(t *testing.T, numChunks int) *Pool {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		Path:      filepath.Join(dir, "pool.dat"),
		ChunkSize: 64 * 1024,
		PageSize:  4096,
		NumChunks: numChunks,
	}
	p, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestAppendAndReadRoundTrip(t *testing.T) {
	p := newTestPool(t, 8)

	data := []byte("hello trie node")
	off, err := p.Append(data)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := p.ReadAt(off)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.HasPrefix(got, data) {
		t.Fatalf("got %q, want prefix %q", got, data)
	}
}

func TestAppendPadsToPageBoundary(t *testing.T) {
	p := newTestPool(t, 8)

	off, err := p.Append([]byte{0x01, 0x02, 0x03})
	if err != nil {
		t.Fatal(err)
	}
	if off.PageCount != 1 {
		t.Fatalf("PageCount = %d, want 1", off.PageCount)
	}

	off2, err := p.Append(make([]byte, 4096+1))
	if err != nil {
		t.Fatal(err)
	}
	if off2.PageCount != 2 {
		t.Fatalf("PageCount = %d, want 2", off2.PageCount)
	}
}

func TestAllocateChunkAdvancesTail(t *testing.T) {
	p := newTestPool(t, 4)

	id, err := p.AllocateChunk()
	if err != nil {
		t.Fatal(err)
	}
	if id != 1 {
		t.Fatalf("AllocateChunk = %d, want 1 (chunk 0 is the pool's initial tail)", id)
	}
}

func TestAllocateChunkExhausted(t *testing.T) {
	p := newTestPool(t, 2)

	// Chunk 0 is the initial tail; chunk 1 is the only one left to
	// allocate before the pool is exhausted.
	if _, err := p.AllocateChunk(); err != nil {
		t.Fatal(err)
	}
	if _, err := p.AllocateChunk(); err != ErrPoolExhausted {
		t.Fatalf("got %v, want ErrPoolExhausted", err)
	}
}

func TestRecycleChunkAllowsReuse(t *testing.T) {
	p := newTestPool(t, 2)

	id, err := p.AllocateChunk()
	if err != nil {
		t.Fatal(err)
	}
	if err := p.RecycleChunk(id); err != nil {
		t.Fatal(err)
	}

	reused, err := p.AllocateChunk()
	if err != nil {
		t.Fatalf("AllocateChunk after recycle: %v", err)
	}
	if reused != id {
		t.Fatalf("reused chunk = %d, want %d", reused, id)
	}
}

func TestAppendSpillsToNextChunk(t *testing.T) {
	p := newTestPool(t, 4)

	// Fill chunk 0 close to capacity, then append something that must
	// spill into a freshly allocated chunk.
	big := make([]byte, p.config.ChunkSize-p.config.PageSize)
	if _, err := p.Append(big); err != nil {
		t.Fatal(err)
	}

	before := p.Stats().TailChunk
	off, err := p.Append([]byte("spills over"))
	if err != nil {
		t.Fatal(err)
	}
	if off.ChunkID == before {
		t.Fatalf("expected spill into a new chunk, stayed on %d", before)
	}
}

func TestActivateChunkReturnsBaseOffset(t *testing.T) {
	p := newTestPool(t, 4)

	h, err := p.ActivateChunk(p.Seq(), 2)
	if err != nil {
		t.Fatal(err)
	}
	want := int64(2) * int64(p.config.ChunkSize)
	if h.BaseOffset != want {
		t.Fatalf("BaseOffset = %d, want %d", h.BaseOffset, want)
	}
}

func TestSeqAdvancesOnCompactionPass(t *testing.T) {
	p := newTestPool(t, 4)

	if p.Seq() != 0 {
		t.Fatalf("initial Seq() = %d, want 0", p.Seq())
	}
	if g := p.BumpSeq(); g != 1 {
		t.Fatalf("BumpSeq() = %d, want 1", g)
	}
	if p.Seq() != 1 {
		t.Fatalf("Seq() after bump = %d, want 1", p.Seq())
	}
}

func TestOperationsAfterCloseFail(t *testing.T) {
	p := newTestPool(t, 2)
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := p.AllocateChunk(); err != ErrPoolClosed {
		t.Fatalf("got %v, want ErrPoolClosed", err)
	}
	if _, err := p.Append([]byte("x")); err != ErrPoolClosed {
		t.Fatalf("got %v, want ErrPoolClosed", err)
	}
}
