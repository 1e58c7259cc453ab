package blockhash

import (
	"testing"

	"github.com/monadexec/execore/types"
)

func hashOf(n uint64) types.Hash {
	var h types.Hash
	h[len(h)-1] = byte(n)
	h[len(h)-2] = byte(n >> 8)
	return h
}

func TestRingGetWithinWindow(t *testing.T) {
	r := NewRing()
	for i := uint64(0); i < 10; i++ {
		r.Append(i, hashOf(i))
	}
	if got := r.Get(5); got != hashOf(5) {
		t.Fatalf("Get(5) = %x, want %x", got, hashOf(5))
	}
}

func TestRingGetCurrentAndFutureAreZero(t *testing.T) {
	r := NewRing()
	r.Append(0, hashOf(0))
	if got := r.Get(1); !got.IsZero() {
		t.Fatalf("Get(current) = %x, want zero", got)
	}
	if got := r.Get(100); !got.IsZero() {
		t.Fatalf("Get(future) = %x, want zero", got)
	}
}

func TestRingGetTooOldIsZero(t *testing.T) {
	r := NewRing()
	for i := uint64(0); i < 300; i++ {
		r.Append(i, hashOf(i))
	}
	if got := r.Get(10); !got.IsZero() {
		t.Fatalf("Get(10) after 300 appends = %x, want zero (outside 256-window)", got)
	}
	if got := r.Get(299); got != hashOf(299) {
		t.Fatalf("Get(299) = %x, want %x", got, hashOf(299))
	}
	if got := r.Get(44); got != hashOf(44) {
		t.Fatalf("Get(44) = %x, want %x (edge of window)", got, hashOf(44))
	}
}
