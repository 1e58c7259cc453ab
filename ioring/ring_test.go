package ioring

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/monadexec/execore/storage"
)

func newTestRing(t *testing.T) (*Ring, *storage.Pool) {
	t.Helper()
	dir := t.TempDir()
	pool, err := storage.Open(storage.Config{
		Path:      filepath.Join(dir, "pool.dat"),
		ChunkSize: 64 * 1024,
		PageSize:  4096,
		NumChunks: 8,
	}, nil)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	r := New(pool, DefaultConfig(), nil)
	t.Cleanup(func() { r.Close() })
	return r, pool
}

func TestSubmitWriteThenReadRoundTrip(t *testing.T) {
	r, _ := newTestRing(t)
	ctx := context.Background()

	data := []byte("trie node payload")
	wf, err := r.SubmitWrite(ctx, data)
	if err != nil {
		t.Fatal(err)
	}
	if r.Poll(time.Second) == 0 {
		t.Fatal("Poll drained nothing for the write")
	}
	encOff, err := wf.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	off := DecodeOffset(encOff)

	rf, err := r.SubmitRead(ctx, off)
	if err != nil {
		t.Fatal(err)
	}
	if r.Poll(time.Second) == 0 {
		t.Fatal("Poll drained nothing for the read")
	}
	got, err := rf.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(got, data) {
		t.Fatalf("got %q, want prefix %q", got, data)
	}
}

func TestPollModeNonBlocking(t *testing.T) {
	dir := t.TempDir()
	pool, err := storage.Open(storage.Config{
		Path:      filepath.Join(dir, "pool.dat"),
		ChunkSize: 64 * 1024,
		PageSize:  4096,
		NumChunks: 8,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	r := New(pool, Config{Depth: 8, Poll: true}, nil)
	defer r.Close()

	// Nothing submitted yet: Poll must return immediately with 0.
	start := time.Now()
	n := r.Poll(5 * time.Second)
	if n != 0 {
		t.Fatalf("drained %d with nothing submitted, want 0", n)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Poll in polling mode blocked")
	}
}

func TestSubmitRespectsContextCancellation(t *testing.T) {
	dir := t.TempDir()
	pool, err := storage.Open(storage.Config{
		Path:      filepath.Join(dir, "pool.dat"),
		ChunkSize: 64 * 1024,
		PageSize:  4096,
		NumChunks: 8,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	r := New(pool, Config{Depth: 1}, nil)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A pre-cancelled context must fail acquisition immediately rather
	// than block on the depth semaphore.
	if _, err := r.SubmitRead(ctx, storage.ChunkOffset{PageCount: 1}); err == nil {
		t.Fatal("expected an error from a pre-cancelled context")
	}
}

func TestSubmitAfterCloseRejected(t *testing.T) {
	r, _ := newTestRing(t)
	r.Close()

	if _, err := r.SubmitWrite(context.Background(), []byte("x")); err != ErrRingClosed {
		t.Fatalf("got %v, want ErrRingClosed", err)
	}
}

func TestEncodeDecodeOffsetRoundTrip(t *testing.T) {
	off := storage.ChunkOffset{ChunkID: 7, ByteOffset: 12345, PageCount: 3}
	got := DecodeOffset(EncodeOffset(off))
	if got != off {
		t.Fatalf("got %+v, want %+v", got, off)
	}
}
