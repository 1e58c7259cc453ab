package blockhash

import (
	"testing"

	"github.com/monadexec/execore/types"
)

func TestChainProposeUnknownParentFails(t *testing.T) {
	c := NewChain(nil, types.Hash{})
	err := c.Propose(1, hashOf(999), 1, hashOf(1))
	if err != ErrUnknownParent {
		t.Fatalf("Propose with unknown parent = %v, want ErrUnknownParent", err)
	}
}

func TestChainGetBlockHashWalksOverlayThenRing(t *testing.T) {
	c := NewChain(nil, types.Hash{})
	if err := c.Propose(1, types.Hash{}, 0, hashOf(0)); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if err := c.Propose(2, hashOf(0), 1, hashOf(1)); err != nil {
		t.Fatalf("Propose: %v", err)
	}

	if got := c.GetBlockHash(hashOf(1), 0); got != hashOf(0) {
		t.Fatalf("GetBlockHash(tip=1, 0) = %x, want %x", got, hashOf(0))
	}
	if got := c.GetBlockHash(hashOf(1), 1); !got.IsZero() {
		t.Fatalf("GetBlockHash(tip=1, 1) = %x, want zero (current block)", got)
	}
}

func TestChainFinalizePrunesCompetingBranch(t *testing.T) {
	c := NewChain(nil, types.Hash{})
	if err := c.Propose(1, types.Hash{}, 0, hashOf(0)); err != nil {
		t.Fatalf("Propose genesis: %v", err)
	}
	// Two competing children of block 0.
	if err := c.Propose(2, hashOf(0), 1, hashOf(10)); err != nil {
		t.Fatalf("Propose branch A: %v", err)
	}
	if err := c.Propose(2, hashOf(0), 1, hashOf(20)); err != nil {
		t.Fatalf("Propose branch B: %v", err)
	}

	if err := c.Finalize(hashOf(10)); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if got := c.GetBlockHash(hashOf(10), 0); got != hashOf(0) {
		t.Fatalf("after finalize, GetBlockHash(tip=10, 0) = %x, want %x", got, hashOf(0))
	}
	// Branch B (hashOf(20)) should now be an orphan, no longer resolvable
	// as a known overlay tip -- queries against it fall straight to the
	// Ring, which does not know block 1 of the losing fork.
	if _, ok := c.nodes[hashOf(20)]; ok {
		t.Fatalf("losing branch hashOf(20) should have been pruned")
	}

	// A new proposal atop the new finalized tip must be accepted.
	if err := c.Propose(3, hashOf(10), 2, hashOf(30)); err != nil {
		t.Fatalf("Propose atop new finalized tip: %v", err)
	}
	if got := c.GetBlockHash(hashOf(30), 1); got != hashOf(10) {
		t.Fatalf("GetBlockHash(tip=30, 1) = %x, want %x", got, hashOf(10))
	}
}

func TestChainFinalizeUnknownBlockFails(t *testing.T) {
	c := NewChain(nil, types.Hash{})
	if err := c.Finalize(hashOf(1)); err != ErrUnknownBlock {
		t.Fatalf("Finalize unknown = %v, want ErrUnknownBlock", err)
	}
}
