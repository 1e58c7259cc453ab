package mpt

import (
	"errors"

	"github.com/monadexec/execore/crypto"
	"github.com/monadexec/execore/rlp"
	"github.com/monadexec/execore/types"
)

var (
	// ErrKeyNotFound is returned by Get when the key has no leaf in the
	// trie.
	ErrKeyNotFound = errors.New("mpt: key not found")

	// ErrVersionNoLongerExists is returned when a lookup targets a root
	// version the history ring has already compacted away.
	ErrVersionNoLongerExists = errors.New("mpt: version no longer exists")
)

// emptyRoot is the root hash of an empty trie: Keccak256(RLP("")).
var emptyRoot = crypto.Keccak256Hash(func() []byte {
	b, _ := rlp.EncodeToBytes([]byte{})
	return b
}())

// Trie is a versioned, content-addressed Merkle Patricia Trie. The in-memory
// node tree is a straight generalization of trie/trie.go's copy-on-write
// insert/delete: where that code's hashNode case returns "no database",
// this one resolves a diskRefNode by reading it back from db, the trie's
// storage-pool-backed Database.
type Trie struct {
	root node
	db   *Database
	sm   StateMachine
}

// New creates an empty Trie backed by db, using sm as its level policy. A
// nil sm defaults to DefaultStateMachine (the account/state-trie policy).
func New(db *Database, sm StateMachine) *Trie {
	if sm == nil {
		sm = NewDefaultStateMachine()
	}
	return &Trie{db: db, sm: sm}
}

// NewFromRoot opens a Trie at a previously committed root hash, resolving
// nodes lazily from db as lookups and updates descend into them.
func NewFromRoot(root types.Hash, db *Database, sm StateMachine) *Trie {
	t := New(db, sm)
	if root.IsZero() || root == emptyRoot {
		return t
	}
	t.root = diskRefNode{Hash: hashNode(root.Bytes())}
	return t
}

// RootHash returns the hash of the most recent Commit, or emptyRoot if the
// trie has never been committed and has no root.
func (t *Trie) RootHash() types.Hash {
	switch n := t.root.(type) {
	case nil:
		return emptyRoot
	case hashNode:
		return types.BytesToHash(n)
	case diskRefNode:
		return types.BytesToHash(n.Hash)
	default:
		if h, dirty := n.cache(); h != nil && !dirty {
			return types.BytesToHash(h)
		}
		return types.Hash{}
	}
}

// resolve turns a diskRefNode into its in-memory form, reading it from the
// database on demand. Every other node type is returned unchanged.
func (t *Trie) resolve(n node) (node, error) {
	ref, ok := n.(diskRefNode)
	if !ok {
		return n, nil
	}
	hash := types.BytesToHash(ref.Hash)
	var dn *DiskNode
	var err error
	if ref.Ref.Kind == refChunkOffset {
		dn, err = t.db.ReadNodeAt(hash, ref.Ref.Offset)
	} else {
		dn, err = t.db.ReadNode(hash)
	}
	if err != nil {
		return nil, err
	}
	return fromDiskNode(dn), nil
}

// fromDiskNode reconstructs the in-memory node shape for one level of a
// DiskNode; its own children stay as diskRefNode placeholders until they
// too are resolved.
func fromDiskNode(dn *DiskNode) node {
	flags := nodeFlag{hash: hashNode(dn.Hash[:]), dirty: false}
	if dn.IsShort {
		var val node
		switch {
		case dn.HasChild:
			val = childRefToNode(dn.Children[0])
		case dn.HasValue:
			val = valueNode(dn.Value)
		}
		return &shortNode{Key: dn.PartialPath, Val: val, flags: flags}
	}
	full := &fullNode{flags: flags}
	for i := 0; i < 16; i++ {
		if dn.ChildMask&(1<<uint(i)) != 0 {
			full.Children[i] = childRefToNode(dn.Children[i])
		}
	}
	if dn.HasValue {
		full.Children[16] = valueNode(dn.Value)
	}
	return full
}

func childRefToNode(ref ChildRef) node {
	return diskRefNode{Hash: hashNode(ref.Hash.Bytes()), Ref: ref}
}

// Get retrieves the value stored at key, resolving on-disk subtrees as
// needed. Returns ErrKeyNotFound if key has no leaf.
func (t *Trie) Get(key []byte) ([]byte, error) {
	value, found, err := t.get(t.root, KeyToNibbles(key), 0)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrKeyNotFound
	}
	return value, nil
}

func (t *Trie) get(n node, key NibbleView, pos int) ([]byte, bool, error) {
	switch n := n.(type) {
	case nil:
		return nil, false, nil
	case valueNode:
		return []byte(n), true, nil
	case *shortNode:
		if len(key)-pos < len(n.Key) || !keysEqual(n.Key, key[pos:pos+len(n.Key)]) {
			return nil, false, nil
		}
		return t.get(n.Val, key, pos+len(n.Key))
	case *fullNode:
		if pos >= len(key) {
			return t.get(n.Children[16], key, pos)
		}
		return t.get(n.Children[key[pos]], key, pos+1)
	case diskRefNode:
		resolved, err := t.resolve(n)
		if err != nil {
			return nil, false, err
		}
		return t.get(resolved, key, pos)
	case hashNode:
		return nil, false, nil
	default:
		return nil, false, nil
	}
}

// Put inserts or overwrites the value at key. An empty value deletes key
// instead, mirroring trie/trie.go's Put.
func (t *Trie) Put(key, value []byte) error {
	if len(value) == 0 {
		return t.Delete(key)
	}
	k := KeyToNibbles(key)
	n, err := t.insert(t.root, k, valueNode(value))
	if err != nil {
		return err
	}
	t.root = n
	return nil
}

// Delete removes key from the trie. A missing key is a no-op.
func (t *Trie) Delete(key []byte) error {
	k := KeyToNibbles(key)
	n, err := t.delete(t.root, k)
	if err != nil {
		return err
	}
	t.root = n
	return nil
}

// Upsert applies a batch of updates to the trie. A fully parallel engine
// partitions a batch by shared nibble prefix and recurses in parallel;
// here each update is applied as an iterative single-key Put/Delete/wipe in
// order, which yields the identical resulting tree (and so the identical
// Merkle root) at the cost of the batch's intended parallelism -- a
// simplification recorded as an open decision, not a semantic change.
func (t *Trie) Upsert(updates []*Update) (types.Hash, error) {
	for _, u := range updates {
		if err := t.applyUpdate(u); err != nil {
			return types.Hash{}, err
		}
	}
	return t.Commit()
}

func (t *Trie) applyUpdate(u *Update) error {
	if u.Incarnation {
		if err := t.wipeSubtree(u.Key); err != nil {
			return err
		}
	}
	if u.IsDeletion() {
		if err := t.Delete(u.Key.Bytes()); err != nil {
			return err
		}
	} else if u.Value != nil {
		if err := t.Put(u.Key.Bytes(), u.Value); err != nil {
			return err
		}
	}
	for _, sub := range u.SubUpdates {
		// Sub-updates are applied to this same trie at their own keys; the
		// parent's key is not prepended. triedb does not use Update: it
		// keeps each account's storage in a separate Trie and writes it
		// with Put/Delete.
		if err := t.applyUpdate(sub); err != nil {
			return err
		}
	}
	return nil
}

// wipeSubtree handles an Update's Incarnation flag (an account destroyed and
// recreated within the same block). It deletes only the leaf at key;
// entries stored at other keys, including those written through
// SubUpdates, are left in place.
func (t *Trie) wipeSubtree(key NibbleView) error {
	return t.Delete(key.Bytes())
}

func (t *Trie) insert(n node, key NibbleView, value node) (node, error) {
	if len(key) == 0 {
		if v, ok := n.(valueNode); ok {
			if keysEqual(v, value.(valueNode)) {
				return v, nil
			}
		}
		return value, nil
	}

	switch n := n.(type) {
	case nil:
		return &shortNode{Key: key, Val: value, flags: nodeFlag{dirty: true}}, nil

	case *shortNode:
		matchLen := n.Key.CommonPrefixLen(key)
		if matchLen == len(n.Key) {
			nn, err := t.insert(n.Val, key[matchLen:], value)
			if err != nil {
				return nil, err
			}
			return &shortNode{Key: n.Key, Val: nn, flags: nodeFlag{dirty: true}}, nil
		}
		branch := &fullNode{flags: nodeFlag{dirty: true}}
		existingChild, err := t.insert(nil, n.Key[matchLen+1:], n.Val)
		if err != nil {
			return nil, err
		}
		branch.Children[n.Key[matchLen]] = existingChild
		newChild, err := t.insert(nil, key[matchLen+1:], value)
		if err != nil {
			return nil, err
		}
		branch.Children[key[matchLen]] = newChild
		if matchLen > 0 {
			return &shortNode{Key: key[:matchLen], Val: branch, flags: nodeFlag{dirty: true}}, nil
		}
		return branch, nil

	case *fullNode:
		nn := n.copy()
		nn.flags = nodeFlag{dirty: true}
		child, err := t.insert(n.Children[key[0]], key[1:], value)
		if err != nil {
			return nil, err
		}
		nn.Children[key[0]] = child
		return nn, nil

	case diskRefNode:
		resolved, err := t.resolve(n)
		if err != nil {
			return nil, err
		}
		return t.insert(resolved, key, value)

	case hashNode:
		return nil, errors.New("mpt: cannot insert into bare hash node")

	default:
		return nil, errors.New("mpt: unknown node type")
	}
}

func (t *Trie) delete(n node, key NibbleView) (node, error) {
	switch n := n.(type) {
	case nil:
		return nil, nil

	case *shortNode:
		matchLen := n.Key.CommonPrefixLen(key)
		if matchLen < len(n.Key) {
			return n, nil
		}
		if matchLen == len(key) {
			return nil, nil
		}
		child, err := t.delete(n.Val, key[len(n.Key):])
		if err != nil {
			return nil, err
		}
		switch child := child.(type) {
		case nil:
			return nil, nil
		case *shortNode:
			mergedKey := append(append(NibbleView{}, n.Key...), child.Key...)
			return &shortNode{Key: mergedKey, Val: child.Val, flags: nodeFlag{dirty: true}}, nil
		default:
			return &shortNode{Key: n.Key, Val: child, flags: nodeFlag{dirty: true}}, nil
		}

	case *fullNode:
		nn := n.copy()
		nn.flags = nodeFlag{dirty: true}
		child, err := t.delete(n.Children[key[0]], key[1:])
		if err != nil {
			return nil, err
		}
		nn.Children[key[0]] = child

		remaining := -1
		for i := 0; i < 17; i++ {
			if nn.Children[i] != nil {
				if remaining >= 0 {
					return nn, nil
				}
				remaining = i
			}
		}
		if remaining < 0 {
			return nil, nil
		}
		if remaining == 16 {
			return &shortNode{
				Key:   NibbleView{terminatorByte},
				Val:   nn.Children[16],
				flags: nodeFlag{dirty: true},
			}, nil
		}
		resolvedChild, err := t.resolve(nn.Children[remaining])
		if err != nil {
			return nil, err
		}
		if cnode, ok := resolvedChild.(*shortNode); ok {
			mergedKey := append(NibbleView{byte(remaining)}, cnode.Key...)
			return &shortNode{Key: mergedKey, Val: cnode.Val, flags: nodeFlag{dirty: true}}, nil
		}
		return &shortNode{
			Key:   NibbleView{byte(remaining)},
			Val:   nn.Children[remaining],
			flags: nodeFlag{dirty: true},
		}, nil

	case valueNode:
		if len(key) == 0 {
			return nil, nil
		}
		return n, nil

	case diskRefNode:
		resolved, err := t.resolve(n)
		if err != nil {
			return nil, err
		}
		return t.delete(resolved, key)

	case hashNode:
		return nil, errors.New("mpt: cannot delete from bare hash node")

	default:
		return nil, errors.New("mpt: unknown node type")
	}
}

// Commit hashes the trie -- following the same inline-small-node rule as
// trie/hasher.go, so the resulting root hash matches Ethereum mainnet's
// definition exactly -- and separately content-addresses and persists
// every touched node (including ones small enough to be inlined in their
// parent's RLP) to the database, returning the new root hash. A node
// whose cache() already reports a clean hash was reused unchanged from a
// prior commit (it may not even be resolved in memory, if the update path
// never walked into it) and is left exactly where it already lives on
// disk.
func (t *Trie) Commit() (types.Hash, error) {
	if t.root == nil {
		return emptyRoot, nil
	}
	merkle, _, cached, err := t.commitNode(t.root, true)
	if err != nil {
		return types.Hash{}, err
	}
	t.root = cached

	switch n := merkle.(type) {
	case hashNode:
		return types.BytesToHash(n), nil
	default:
		enc, err := encodeNode(merkle)
		if err != nil {
			return types.Hash{}, err
		}
		return crypto.Keccak256Hash(enc), nil
	}
}

// commitNode computes n's Merkle form and persists it (and, recursively,
// any dirty descendants) through the database. It returns three things:
//
//   - merkle: n's representation for inclusion in its PARENT's RLP, per
//     the standard rule (trie/hasher.go): if n's own RLP encoding is under
//     32 bytes and force is false, merkle is n itself (embedded inline);
//     otherwise it is n's Keccak-256 hash. This is what keeps the root
//     hash Ethereum-compatible.
//   - contentHash: n's Keccak-256 hash, ALWAYS computed regardless of
//     size -- the identity every node (inlined or not) is persisted and
//     later resolved under, since the on-disk ChildRef (nodecodec.go) is a
//     fixed hash-or-offset slot with no room for a truly inline recursive
//     encoding the way the in-memory Merkle RLP has.
//   - cached: the form kept in memory as the new root/child pointer.
//
// A node already clean (hash != nil, not dirty) was already content-hashed
// and persisted by an earlier commit and is returned unchanged.
func (t *Trie) commitNode(n node, force bool) (node, hashNode, node, error) {
	switch n := n.(type) {
	case *shortNode:
		if hash, dirty := n.cache(); hash != nil && !dirty {
			return hashNode(hash), hashNode(hash), n, nil
		}
		cached := n.copy()
		childMerkle := n.Val
		var childHash hashNode
		if n.Val != nil {
			if _, ok := n.Val.(valueNode); !ok {
				cm, ch, cc, err := t.commitNode(n.Val, false)
				if err != nil {
					return nil, nil, nil, err
				}
				childMerkle, childHash, cached.Val = cm, ch, cc
			}
		}
		// The Merkle hash is computed over the hex-prefix compacted key,
		// but the disk encoding (nodecodec.go) keeps the original
		// uncompacted nibble path -- two different Key views of the same
		// node, not two different nodes.
		forHash := &shortNode{Key: NibbleView(hexToCompact(n.Key)), Val: childMerkle}
		enc, err := encodeNode(forHash)
		if err != nil {
			return nil, nil, nil, err
		}
		contentHash := hashNode(crypto.Keccak256(enc))

		diskVal := childMerkle
		if childHash != nil {
			diskVal = childHash
		}
		if err := persistDiskNode(t.db, contentHash, &shortNode{Key: n.Key, Val: diskVal}); err != nil {
			return nil, nil, nil, err
		}

		merkle := node(forHash)
		var cachedHash hashNode
		if force || len(enc) >= 32 {
			merkle = contentHash
			cachedHash = contentHash
		}
		cached.flags = nodeFlag{hash: cachedHash, dirty: false}
		return merkle, contentHash, cached, nil

	case *fullNode:
		if hash, dirty := n.cache(); hash != nil && !dirty {
			return hashNode(hash), hashNode(hash), n, nil
		}
		cached := n.copy()
		var merkleChildren, diskChildren [17]node
		merkleChildren[16], diskChildren[16] = n.Children[16], n.Children[16]
		for i := 0; i < 16; i++ {
			if n.Children[i] == nil {
				continue
			}
			cm, ch, cc, err := t.commitNode(n.Children[i], false)
			if err != nil {
				return nil, nil, nil, err
			}
			merkleChildren[i] = cm
			if ch != nil {
				diskChildren[i] = ch
			} else {
				diskChildren[i] = cm
			}
			cached.Children[i] = cc
		}
		forHash := &fullNode{Children: merkleChildren}
		enc, err := encodeNode(forHash)
		if err != nil {
			return nil, nil, nil, err
		}
		contentHash := hashNode(crypto.Keccak256(enc))

		if err := persistDiskNode(t.db, contentHash, &fullNode{Children: diskChildren}); err != nil {
			return nil, nil, nil, err
		}

		merkle := node(forHash)
		var cachedHash hashNode
		if force || len(enc) >= 32 {
			merkle = contentHash
			cachedHash = contentHash
		}
		cached.flags = nodeFlag{hash: cachedHash, dirty: false}
		return merkle, contentHash, cached, nil

	case hashNode:
		return n, n, n, nil
	case diskRefNode:
		return n, hashNode(n.Hash), n, nil
	default:
		// valueNode, nil: no separate hash identity of their own; they
		// are only ever embedded directly in their parent's encoding.
		return n, nil, n, nil
	}
}

// persistDiskNode serializes diskForm (a node whose children are already
// hashNode/diskRefNode references, never raw inline structs) and writes it
// through db keyed by contentHash.
func persistDiskNode(db *Database, contentHash hashNode, diskForm node) error {
	dn, err := toDiskNode(diskForm)
	if err != nil {
		return err
	}
	copy(dn.Hash[:], contentHash)
	_, err = db.WriteNode(types.BytesToHash(contentHash), dn)
	return err
}

// toDiskNode converts an in-memory node (whose children are already
// hashed/resolved by the caller) into its on-disk descriptor form.
func toDiskNode(n node) (*DiskNode, error) {
	switch n := n.(type) {
	case *shortNode:
		dn := &DiskNode{IsShort: true, PartialPath: n.Key}
		switch v := n.Val.(type) {
		case valueNode:
			dn.HasValue = true
			dn.Value = []byte(v)
		case nil:
		default:
			ref, err := childRef(v)
			if err != nil {
				return nil, err
			}
			dn.HasChild = true
			dn.Children[0] = ref
		}
		return dn, nil
	case *fullNode:
		dn := &DiskNode{}
		for i := 0; i < 16; i++ {
			if n.Children[i] == nil {
				continue
			}
			ref, err := childRef(n.Children[i])
			if err != nil {
				return nil, err
			}
			dn.ChildMask |= 1 << uint(i)
			dn.Children[i] = ref
		}
		if v, ok := n.Children[16].(valueNode); ok {
			dn.HasValue = true
			dn.Value = []byte(v)
		}
		return dn, nil
	default:
		return nil, errors.New("mpt: cannot encode node type to disk")
	}
}

// childRef builds the ChildRef descriptor for a child already collapsed to
// a hashNode/diskRefNode by the hasher; an inline (non-hashed) child has no
// separate disk identity and is an internal inconsistency if it reaches
// here.
func childRef(n node) (ChildRef, error) {
	switch n := n.(type) {
	case hashNode:
		return EmbeddedRef(types.BytesToHash(n)), nil
	case diskRefNode:
		if n.Ref.Kind == refChunkOffset {
			return n.Ref, nil
		}
		return EmbeddedRef(types.BytesToHash(n.Hash)), nil
	default:
		return ChildRef{}, errors.New("mpt: child node was not collapsed before disk encoding")
	}
}

// Traverse walks every leaf whose key starts with prefix, calling visit
// with the full nibble key and value. Traversal stops early if visit
// returns false.
func (t *Trie) Traverse(prefix NibbleView, visit func(key NibbleView, value []byte) bool) error {
	_, err := t.traverse(t.root, nil, prefix, visit)
	return err
}

func (t *Trie) traverse(n node, path, prefix NibbleView, visit func(NibbleView, []byte) bool) (bool, error) {
	switch n := n.(type) {
	case nil:
		return true, nil
	case valueNode:
		if len(path) < len(prefix) || !keysEqual(path[:len(prefix)], prefix) {
			return true, nil
		}
		return visit(path, []byte(n)), nil
	case *shortNode:
		return t.traverse(n.Val, append(append(NibbleView{}, path...), n.Key...), prefix, visit)
	case *fullNode:
		for i := 0; i < 17; i++ {
			if n.Children[i] == nil {
				continue
			}
			var nibble NibbleView
			if i < 16 {
				nibble = NibbleView{byte(i)}
			}
			cont, err := t.traverse(n.Children[i], append(append(NibbleView{}, path...), nibble...), prefix, visit)
			if err != nil {
				return false, err
			}
			if !cont {
				return false, nil
			}
		}
		return true, nil
	case diskRefNode:
		resolved, err := t.resolve(n)
		if err != nil {
			return false, err
		}
		return t.traverse(resolved, path, prefix, visit)
	default:
		return true, nil
	}
}

// keysEqual reports whether two nibble slices are equal.
func keysEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
