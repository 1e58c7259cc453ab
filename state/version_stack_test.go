package state

import "testing"

func TestVersionStackCurrentCopiesOnWrite(t *testing.T) {
	vs := NewVersionStack(10)
	if got := vs.Recent(); got != 10 {
		t.Fatalf("Recent = %d, want 10", got)
	}

	p := vs.Current(1)
	*p = 20
	if vs.Version() != 1 {
		t.Fatalf("Version = %d, want 1", vs.Version())
	}
	if vs.Recent() != 20 {
		t.Fatalf("Recent = %d, want 20", vs.Recent())
	}
}

func TestVersionStackAcceptCollapsesAdjacentFrame(t *testing.T) {
	vs := NewVersionStack(1)
	*vs.Current(1) = 2
	vs.Accept(1)
	if vs.Version() != 0 {
		t.Fatalf("Version after accept = %d, want 0 (collapsed)", vs.Version())
	}
	if vs.Recent() != 2 {
		t.Fatalf("Recent after accept = %d, want 2", vs.Recent())
	}
}

func TestVersionStackRejectDropsFrame(t *testing.T) {
	vs := NewVersionStack(1)
	*vs.Current(1) = 99
	if vs.Recent() != 99 {
		t.Fatalf("Recent before reject = %d, want 99", vs.Recent())
	}
	empty := vs.Reject(1)
	if empty {
		t.Fatalf("Reject at version 1 reported empty, want non-empty (base frame remains)")
	}
	if vs.Recent() != 1 {
		t.Fatalf("Recent after reject = %d, want 1 (restored)", vs.Recent())
	}
}

func TestVersionStackRejectBaseReportsEmpty(t *testing.T) {
	vs := NewVersionStack(1)
	if empty := vs.Reject(0); !empty {
		t.Fatalf("Reject of the only frame should report empty")
	}
}
