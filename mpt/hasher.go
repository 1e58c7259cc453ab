// Package-level RLP encoders for trie nodes, ported from trie/hasher.go.
// Unlike that file's hasher type, hashing here is interleaved with disk
// persistence (see Trie.commitNode in trie.go): commitNode tracks two
// values per node rather than one -- the Merkle form it returns to its
// parent (inlined raw encoding under 32 bytes, hash otherwise, exactly as
// trie/hasher.go does it, which real root-hash compatibility depends on)
// and a content hash, always keccak(encoding) regardless of size, used to
// key the node in the on-disk ChildRef index (nodecodec.go), which has no
// room for an inline recursive encoding and needs one stable identity per
// node no matter how small.
package mpt

// encodeNode RLP-encodes a trie node for hashing/storage.
//
//	shortNode => 2-element list [compactKey, val]
//	fullNode  => 17-element list [child0..child15, value]
func encodeNode(n node) ([]byte, error) {
	switch n := n.(type) {
	case *shortNode:
		return encodeShortNode(n)
	case *fullNode:
		return encodeFullNode(n)
	case hashNode:
		return []byte(n), nil
	case diskRefNode:
		return []byte(n.Hash), nil
	case valueNode:
		return rlpEncodeBytes([]byte(n)), nil
	default:
		return nil, nil
	}
}

func encodeShortNode(n *shortNode) ([]byte, error) {
	keyEnc := rlpEncodeBytes(n.Key)
	valEnc, err := encodeNodeValue(n.Val)
	if err != nil {
		return nil, err
	}
	payload := append(append([]byte{}, keyEnc...), valEnc...)
	return wrapListPayload(payload), nil
}

func encodeFullNode(n *fullNode) ([]byte, error) {
	var payload []byte
	for i := 0; i < 17; i++ {
		enc, err := encodeNodeValue(n.Children[i])
		if err != nil {
			return nil, err
		}
		payload = append(payload, enc...)
	}
	return wrapListPayload(payload), nil
}

// encodeNodeValue encodes a node for inclusion in a parent node's RLP list.
func encodeNodeValue(n node) ([]byte, error) {
	if n == nil {
		return []byte{0x80}, nil
	}
	switch n := n.(type) {
	case valueNode:
		return rlpEncodeBytes([]byte(n)), nil
	case hashNode:
		return rlpEncodeBytes([]byte(n)), nil
	case diskRefNode:
		return rlpEncodeBytes([]byte(n.Hash)), nil
	case *shortNode:
		return encodeShortNode(n)
	case *fullNode:
		return encodeFullNode(n)
	default:
		return []byte{0x80}, nil
	}
}
