package blockhash

import (
	"errors"
	"sync"

	"github.com/monadexec/execore/types"
)

// Chain errors.
var (
	ErrUnknownParent = errors.New("blockhash: unknown parent")
	ErrUnknownBlock  = errors.New("blockhash: unknown proposed block")
)

// proposedBlock is one not-yet-finalized entry in the fork tree, grounded
// on the same map-of-nodes-with-parent-pointers shape as the consensus
// fork choice store's block tree (ForkChoiceStoreV3's FCSBlockNode).
type proposedBlock struct {
	round      uint64
	number     uint64
	hash       types.Hash
	parentHash types.Hash
}

// Chain is the fork-aware BLOCKHASH source: a finalized Ring plus an
// overlay of proposed-but-unfinalized blocks, one per consensus round,
// forming a tree rooted at the last finalized hash. Finalizing a branch
// bakes its path into the Ring and prunes every competing branch.
type Chain struct {
	mu           sync.RWMutex
	finalized    *Ring
	finalizedTip types.Hash // parentHash value meaning "atop the Ring", updated on each Finalize
	nodes        map[types.Hash]*proposedBlock
	children     map[types.Hash][]types.Hash
}

// NewChain wraps finalized (nil creates a fresh empty Ring) with an empty
// overlay. genesisHash is the parentHash a first-level proposal must cite.
func NewChain(finalized *Ring, genesisHash types.Hash) *Chain {
	if finalized == nil {
		finalized = NewRing()
	}
	return &Chain{
		finalized:    finalized,
		finalizedTip: genesisHash,
		nodes:        make(map[types.Hash]*proposedBlock),
		children:     make(map[types.Hash][]types.Hash),
	}
}

// Propose registers a speculative block as a child of parentHash.
// parentHash must be either the current finalized tip or another known
// proposal.
func (c *Chain) Propose(round uint64, parentHash types.Hash, number uint64, hash types.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if parentHash != c.finalizedTip {
		if _, ok := c.nodes[parentHash]; !ok {
			return ErrUnknownParent
		}
	}
	c.nodes[hash] = &proposedBlock{round: round, number: number, hash: hash, parentHash: parentHash}
	c.children[parentHash] = append(c.children[parentHash], hash)
	return nil
}

// Finalize bakes the path from the current finalized tip to hash into the
// Ring, in ascending block-number order, then prunes every proposal that
// is not a descendant of hash -- the now-dead competing branches, since
// their parent round has been finalized against a different fork.
func (c *Chain) Finalize(hash types.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.nodes[hash]
	if !ok {
		return ErrUnknownBlock
	}

	var path []*proposedBlock
	for cur := node; cur != nil; {
		path = append(path, cur)
		if cur.parentHash == c.finalizedTip {
			break
		}
		cur = c.nodes[cur.parentHash]
	}
	for i := len(path) - 1; i >= 0; i-- {
		c.finalized.Append(path[i].number, path[i].hash)
	}

	keep := c.descendants(hash)
	for h := range c.nodes {
		if !keep[h] {
			delete(c.nodes, h)
		}
	}
	for parent, kids := range c.children {
		if parent != c.finalizedTip && !keep[parent] {
			delete(c.children, parent)
			continue
		}
		filtered := kids[:0]
		for _, k := range kids {
			if keep[k] {
				filtered = append(filtered, k)
			}
		}
		if len(filtered) == 0 {
			delete(c.children, parent)
		} else {
			c.children[parent] = filtered
		}
	}
	delete(c.children, hash) // hash itself is now baked into the Ring, not an overlay parent anymore
	delete(c.nodes, hash)
	c.finalizedTip = hash
	return nil
}

// descendants returns the set of hashes strictly below hash in the tree
// (hash itself is excluded: once finalized it is baked into the Ring, not
// kept as an overlay entry).
func (c *Chain) descendants(hash types.Hash) map[types.Hash]bool {
	keep := make(map[types.Hash]bool)
	queue := append([]types.Hash(nil), c.children[hash]...)
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if keep[h] {
			continue
		}
		keep[h] = true
		queue = append(queue, c.children[h]...)
	}
	return keep
}

// GetBlockHash resolves a BLOCKHASH(n) query issued while executing atop
// tipHash: it walks the overlay from tipHash back toward the finalized
// tip, and falls through to the finalized Ring once it walks off the
// overlay entirely.
func (c *Chain) GetBlockHash(tipHash types.Hash, n uint64) types.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cur := tipHash
	for {
		if cur == c.finalizedTip {
			return c.finalized.Get(n)
		}
		node, ok := c.nodes[cur]
		if !ok {
			return c.finalized.Get(n)
		}
		if node.number == n {
			return node.hash
		}
		cur = node.parentHash
	}
}

// Resolver binds GetBlockHash to a fixed tip, matching the
// func(uint64) types.Hash shape evmhost.TxContext threads through to the
// host's get_block_hash callback.
func (c *Chain) Resolver(tipHash types.Hash) func(uint64) types.Hash {
	return func(n uint64) types.Hash {
		return c.GetBlockHash(tipHash, n)
	}
}
