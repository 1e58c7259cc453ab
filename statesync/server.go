package statesync

import (
	"github.com/monadexec/execore/types"
)

// Snapshot is an in-memory source a Server streams shards from. A real
// deployment would implement the same shape by walking a fully-synced
// node's Triedb/mpt.Database; this repo's mpt package does not expose a
// prefix-range scan over trie nodes, so Server is grounded on the wire
// protocol and shard bookkeeping rather than on a from-scratch MPT walker.
type Snapshot struct {
	Accounts []AccountRecord
	Storage  map[types.Address][]StorageRecord
	Code     map[types.Hash]CodeRecord
	Header   *HeaderRecord
}

// Server streams shards from a Snapshot, implementing Peer locally --
// useful both for tests and for a single-process deployment where the
// "peer" is simply another already-synced BlockState in the same binary.
type Server struct {
	snap *Snapshot
}

// NewServer wraps snap for serving.
func NewServer(snap *Snapshot) *Server {
	return &Server{snap: snap}
}

// RequestShard streams every record in the snapshot whose address falls
// under req.Prefix, terminated by a DONE message.
func (s *Server) RequestShard(req ShardRequest) (<-chan Message, error) {
	out := make(chan Message, 64)
	go func() {
		defer close(out)
		var count uint64

		if s.snap.Header != nil {
			out <- Message{Type: MsgUpsertHeader, Header: s.snap.Header}
			count++
		}

		for _, rec := range s.snap.Accounts {
			if !HasPrefix(rec.Address.Bytes(), req.Prefix) {
				continue
			}
			out <- Message{Type: MsgUpsertAccount, Account: &AccountRecord{Address: rec.Address, Account: rec.Account}}
			count++

			for _, sr := range s.snap.Storage[rec.Address] {
				out <- Message{Type: MsgUpsertStorage, Storage: &sr}
				count++
			}

			if codeRec, ok := s.snap.Code[rec.Account.CodeHash]; ok && rec.Account.CodeHash != types.EmptyCodeHash {
				out <- Message{Type: MsgUpsertCode, Code: &codeRec}
				count++
			}
		}

		out <- Message{Type: MsgDone, Done: &DoneRecord{Success: true, Prefix: req.Prefix, Count: count}}
	}()
	return out, nil
}
