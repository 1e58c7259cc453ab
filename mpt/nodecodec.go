// Package mpt implements a versioned, content-addressed Merkle Patricia
// Trie persisted through a storage.Pool. The in-memory node shapes
// (fullNode/shortNode/hashNode/valueNode) and the RLP-based Merkle hasher
// are ported from trie/{node,trie,hasher,encoding}.go; the on-disk node
// format and the copy-on-write versioned update path (this file and
// trie.go) are new, grounded on category/db/src/monad/mpt/update.hpp
// for the Update shape.
package mpt

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/golang/snappy"

	"github.com/monadexec/execore/storage"
	"github.com/monadexec/execore/types"
)

var (
	// ErrCorruptNode is returned by Deserialize when a node's on-disk
	// encoding is internally inconsistent, e.g. a child_mask bit set
	// with no corresponding descriptor in the buffer.
	ErrCorruptNode = errors.New("mpt: corrupt node")
)

// refKind tags a ChildRef as either the child's 32-byte Merkle hash, which
// the Database resolves to a disk location through its hash index, or a
// direct pointer into the storage pool.
type refKind uint8

const (
	refEmbeddedHash refKind = iota
	refChunkOffset
)

// ChildRef is a child descriptor: either the child's 32-byte Merkle hash
// (looked up through the Database's hash index) or a ChunkOffset into the
// storage pool. childRef in trie.go produces hash descriptors only.
type ChildRef struct {
	Kind   refKind
	Hash   types.Hash          // valid when Kind == refEmbeddedHash
	Offset storage.ChunkOffset // valid when Kind == refChunkOffset
}

// EmbeddedRef builds a ChildRef around an inline Merkle hash.
func EmbeddedRef(h types.Hash) ChildRef { return ChildRef{Kind: refEmbeddedHash, Hash: h} }

// OffsetRef builds a ChildRef around a storage pool location.
func OffsetRef(off storage.ChunkOffset) ChildRef { return ChildRef{Kind: refChunkOffset, Offset: off} }

// IsEmbedded reports whether the ref is an inline hash rather than a disk
// pointer.
func (r ChildRef) IsEmbedded() bool { return r.Kind == refEmbeddedHash }

const (
	flagIsShort    = 1 << 0 // shortNode (extension/leaf) vs fullNode (branch)
	flagHasValue   = 1 << 1 // a value payload follows the children
	flagCompressed = 1 << 2 // the value payload is snappy-compressed
)

// snappyThreshold is the minimum value size worth the snappy framing
// overhead; small values (most storage slots: 0-32 bytes) are left raw.
const snappyThreshold = 128

// DiskNode is the on-disk representation of a single trie node: a fixed
// header, packed child descriptors, the partial nibble path (short nodes
// only), an optional value payload, and a trailing Merkle hash.
type DiskNode struct {
	IsShort     bool
	ChildMask   uint16 // full nodes only: bit i set iff Children[i] is present
	PartialPath NibbleView
	Children    [16]ChildRef // full nodes: indexed by nibble; short nodes: only index 0 used, when the child is itself a node (extension)
	HasChild    bool         // short nodes only: true if Val is a node (extension) rather than a value
	Value       []byte
	HasValue    bool
	Hash        types.Hash
}

// Serialize encodes n into a byte buffer. The caller is responsible for
// page-padding (storage.Pool.Append does this automatically).
func Serialize(n *DiskNode) ([]byte, error) {
	var buf []byte

	flags := byte(0)
	if n.IsShort {
		flags |= flagIsShort
	}
	value := n.Value
	compressed := false
	if n.HasValue && len(value) >= snappyThreshold {
		enc := snappy.Encode(nil, value)
		if len(enc) < len(value) {
			value = enc
			compressed = true
		}
	}
	if n.HasValue {
		flags |= flagHasValue
	}
	if compressed {
		flags |= flagCompressed
	}

	header := make([]byte, 9)
	header[0] = flags
	binary.BigEndian.PutUint16(header[1:3], n.ChildMask)
	binary.BigEndian.PutUint16(header[3:5], uint16(len(n.PartialPath)))
	binary.BigEndian.PutUint32(header[5:9], uint32(len(value)))
	buf = append(buf, header...)

	// Partial path: one byte per nibble. Simpler than hex-prefix packing
	// and irrelevant to the Merkle hash, which is computed separately
	// over the compact RLP encoding (see hasher.go); this is purely the
	// disk wire format.
	buf = append(buf, []byte(n.PartialPath)...)

	if n.IsShort {
		if n.HasChild {
			buf = append(buf, 1)
			buf = appendChildRef(buf, n.Children[0])
		} else {
			buf = append(buf, 0)
		}
	} else {
		for i := 0; i < 16; i++ {
			if n.ChildMask&(1<<uint(i)) != 0 {
				buf = appendChildRef(buf, n.Children[i])
			}
		}
	}

	if n.HasValue {
		buf = append(buf, value...)
	}

	buf = append(buf, n.Hash[:]...)
	return buf, nil
}

func appendChildRef(buf []byte, ref ChildRef) []byte {
	buf = append(buf, byte(ref.Kind))
	switch ref.Kind {
	case refEmbeddedHash:
		buf = append(buf, ref.Hash[:]...)
	case refChunkOffset:
		var off [14]byte
		binary.BigEndian.PutUint32(off[0:4], uint32(ref.Offset.ChunkID))
		binary.BigEndian.PutUint64(off[4:12], ref.Offset.ByteOffset)
		binary.BigEndian.PutUint16(off[12:14], ref.Offset.PageCount)
		buf = append(buf, off[:]...)
	}
	return buf
}

func readChildRef(buf []byte, pos int) (ChildRef, int, error) {
	if pos >= len(buf) {
		return ChildRef{}, pos, fmt.Errorf("%w: truncated child descriptor", ErrCorruptNode)
	}
	kind := refKind(buf[pos])
	pos++
	switch kind {
	case refEmbeddedHash:
		if pos+types.HashLength > len(buf) {
			return ChildRef{}, pos, fmt.Errorf("%w: truncated embedded hash", ErrCorruptNode)
		}
		var h types.Hash
		copy(h[:], buf[pos:pos+types.HashLength])
		return EmbeddedRef(h), pos + types.HashLength, nil
	case refChunkOffset:
		if pos+14 > len(buf) {
			return ChildRef{}, pos, fmt.Errorf("%w: truncated chunk offset", ErrCorruptNode)
		}
		off := storage.ChunkOffset{
			ChunkID:    storage.ChunkID(binary.BigEndian.Uint32(buf[pos : pos+4])),
			ByteOffset: binary.BigEndian.Uint64(buf[pos+4 : pos+12]),
			PageCount:  binary.BigEndian.Uint16(buf[pos+12 : pos+14]),
		}
		return OffsetRef(off), pos + 14, nil
	default:
		return ChildRef{}, pos, fmt.Errorf("%w: unknown child ref kind %d", ErrCorruptNode, kind)
	}
}

// Deserialize decodes a DiskNode from buf. Returns ErrCorruptNode if the
// child_mask or length fields describe more data than buf contains.
func Deserialize(buf []byte) (*DiskNode, error) {
	if len(buf) < 9+types.HashLength {
		return nil, fmt.Errorf("%w: buffer too short (%d bytes)", ErrCorruptNode, len(buf))
	}
	flags := buf[0]
	childMask := binary.BigEndian.Uint16(buf[1:3])
	pathLen := int(binary.BigEndian.Uint16(buf[3:5]))
	valueLen := int(binary.BigEndian.Uint32(buf[5:9]))

	n := &DiskNode{
		IsShort:   flags&flagIsShort != 0,
		ChildMask: childMask,
		HasValue:  flags&flagHasValue != 0,
	}

	pos := 9
	if pos+pathLen > len(buf) {
		return nil, fmt.Errorf("%w: partial path overruns buffer", ErrCorruptNode)
	}
	n.PartialPath = NibbleView(buf[pos : pos+pathLen])
	pos += pathLen

	if n.IsShort {
		if pos >= len(buf) {
			return nil, fmt.Errorf("%w: missing short-node child tag", ErrCorruptNode)
		}
		hasChild := buf[pos] != 0
		pos++
		n.HasChild = hasChild
		if hasChild {
			ref, newPos, err := readChildRef(buf, pos)
			if err != nil {
				return nil, err
			}
			n.Children[0] = ref
			pos = newPos
		}
	} else {
		for i := 0; i < 16; i++ {
			if childMask&(1<<uint(i)) == 0 {
				continue
			}
			ref, newPos, err := readChildRef(buf, pos)
			if err != nil {
				return nil, err
			}
			n.Children[i] = ref
			pos = newPos
		}
	}

	if n.HasValue {
		if pos+valueLen > len(buf) {
			return nil, fmt.Errorf("%w: value payload overruns buffer", ErrCorruptNode)
		}
		value := buf[pos : pos+valueLen]
		pos += valueLen
		if flags&flagCompressed != 0 {
			dec, err := snappy.Decode(nil, value)
			if err != nil {
				return nil, fmt.Errorf("%w: snappy decode: %v", ErrCorruptNode, err)
			}
			n.Value = dec
		} else {
			n.Value = append([]byte(nil), value...)
		}
	}

	if pos+types.HashLength > len(buf) {
		return nil, fmt.Errorf("%w: missing trailing hash", ErrCorruptNode)
	}
	copy(n.Hash[:], buf[pos:pos+types.HashLength])

	return n, nil
}

// NodeDiskPages returns the number of storage.PageSize pages the serialized
// encoding of n occupies, so the parent's ChildRef can record it and a
// lookup never needs two sequential reads for one node.
func NodeDiskPages(encoded []byte, pageSize int) uint16 {
	if pageSize <= 0 {
		pageSize = storage.PageSize
	}
	pages := (len(encoded) + pageSize - 1) / pageSize
	if pages == 0 {
		pages = 1
	}
	return uint16(pages)
}
