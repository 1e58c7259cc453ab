package mpt

// node is the interface implemented by all in-memory trie node types,
// mirroring trie/node.go: a branch/extension/leaf tree kept in memory until
// committed, at which point dirty nodes are serialized through nodecodec.go
// and written to the storage pool.
type node interface {
	// cache returns the cached hash and dirty flag for this node.
	cache() (hashNode, bool)
}

// fullNode is a branch node with 16 children (one per hex nibble) plus an
// optional value. Children[16] is not a child slot: it holds the embedded
// value at this branch point.
type fullNode struct {
	Children [17]node
	flags    nodeFlag
}

// shortNode is an extension or leaf node. If Key carries the terminator
// nibble, it is a leaf; otherwise it is an extension.
type shortNode struct {
	Key   NibbleView
	Val   node
	flags nodeFlag
}

// hashNode is a 32-byte Merkle hash reference to a node stored elsewhere.
type hashNode []byte

// valueNode is raw value data stored at a leaf.
type valueNode []byte

// diskRefNode is a reference to a node resolvable only by reading it back
// from the storage pool: the on-disk analogue of a hashNode, carrying both
// the Merkle hash (for verification) and the ChunkOffset (for the read).
// A freshly loaded subtree that hasn't been walked yet stays a diskRefNode
// until resolved.
type diskRefNode struct {
	Hash hashNode
	Ref  ChildRef
}

func (n diskRefNode) cache() (hashNode, bool) { return n.Hash, false }

// nodeFlag carries caching information for a node.
type nodeFlag struct {
	hash  hashNode
	dirty bool
}

func (n *fullNode) cache() (hashNode, bool)  { return n.flags.hash, n.flags.dirty }
func (n *shortNode) cache() (hashNode, bool) { return n.flags.hash, n.flags.dirty }
func (n hashNode) cache() (hashNode, bool)   { return nil, true }
func (n valueNode) cache() (hashNode, bool)  { return nil, true }

// copy returns a shallow copy of the fullNode, the starting point for a
// copy-on-write rewrite of one child slot.
func (n *fullNode) copy() *fullNode {
	cp := *n
	return &cp
}

// copy returns a copy of the shortNode.
func (n *shortNode) copy() *shortNode {
	cp := *n
	return &cp
}
