package mpt

import "github.com/monadexec/execore/rlp"

// rlpEncodeBytes RLP-encodes a byte string. Encoding []byte never errors in
// this codec, so callers in the hasher don't thread an error return through
// every node-encoding branch.
func rlpEncodeBytes(b []byte) []byte {
	enc, _ := rlp.EncodeToBytes(b)
	return enc
}

// wrapListPayload wraps an already RLP-encoded list body in its list
// header.
func wrapListPayload(payload []byte) []byte {
	return rlp.WrapList(payload)
}
