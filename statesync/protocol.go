// Package statesync implements the state-sync wire protocol a fresh or
// far-behind node uses to catch up to a target state root without
// replaying every block: the key space is divided into prefix shards,
// each shard is streamed from a peer as a sequence of upsert messages,
// and the client verifies the recomputed root before trusting the
// result. Actual peer discovery and transport (P2P networking) are an
// explicit non-goal; Peer is the seam a real network client plugs into,
// the same pattern evmhost.Interpreter uses for bytecode execution.
package statesync

import (
	"github.com/holiman/uint256"

	"github.com/monadexec/execore/types"
)

// MessageType tags the variant carried by a Message.
type MessageType uint8

const (
	MsgUpsertAccount MessageType = iota
	MsgUpsertStorage
	MsgUpsertCode
	MsgUpsertHeader
	MsgDone
)

// ShardRequest is what a client sends a peer to begin streaming one
// prefix shard: `{ prefix, target_root, from, until }`.
type ShardRequest struct {
	// Prefix is a sequence of nibbles (each 0-15). Server matches it
	// against the leading nibbles of each account's address, not the
	// account's hashed trie key.
	Prefix     []byte
	TargetRoot types.Hash
	From       uint64
	Until      uint64
}

// AccountRecord is one UPSERT_ACCOUNT entry.
type AccountRecord struct {
	Address types.Address
	Account types.Account
}

// StorageRecord is one UPSERT_STORAGE entry.
type StorageRecord struct {
	Address     types.Address
	Incarnation types.Incarnation
	Slot        types.Hash
	Value       *uint256.Int
}

// CodeRecord is one UPSERT_CODE entry.
type CodeRecord struct {
	Hash types.Hash
	Code types.Code
}

// HeaderRecord is one UPSERT_HEADER entry.
type HeaderRecord struct {
	Header *types.Header
}

// DoneRecord terminates a shard stream.
type DoneRecord struct {
	Success bool
	Prefix  []byte
	Count   uint64
}

// Message is one entry of a shard's response stream. Exactly one of the
// pointer fields matching Type is populated.
type Message struct {
	Type    MessageType
	Account *AccountRecord
	Storage *StorageRecord
	Code    *CodeRecord
	Header  *HeaderRecord
	Done    *DoneRecord
}
