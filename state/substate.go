package state

import "github.com/monadexec/execore/types"

// AccessStatus mirrors evmc_access_status: whether a location had already
// been touched this transaction (EIP-2929 warm/cold gas pricing).
type AccessStatus uint8

const (
	AccessCold AccessStatus = iota
	AccessWarm
)

// Substate is the YP §6.1 accrued-state set, scoped to a single
// transaction: self-destructs, touched/accessed accounts, accessed
// storage slots, and emitted logs. Ported from
// include/monad/state2/substate.hpp, with accessed_storage held here as
// one set of slots per address (map[Address]set[Hash]).
type Substate struct {
	destructed map[types.Address]struct{}
	touched    map[types.Address]struct{}
	accessed   map[types.Address]struct{}
	accessedStorage map[types.Address]map[types.Hash]struct{}
	created    map[types.Address]struct{}
	logs       []types.Log
}

// NewSubstate returns an empty Substate.
func NewSubstate() *Substate {
	return &Substate{
		destructed:      make(map[types.Address]struct{}),
		touched:         make(map[types.Address]struct{}),
		accessed:        make(map[types.Address]struct{}),
		accessedStorage: make(map[types.Address]map[types.Hash]struct{}),
		created:         make(map[types.Address]struct{}),
	}
}

// Logs returns the logs recorded so far.
func (s *Substate) Logs() []types.Log { return s.logs }

// IsTouched reports whether addr has been touched.
func (s *Substate) IsTouched(addr types.Address) bool {
	_, ok := s.touched[addr]
	return ok
}

// IsDestructed reports whether addr was marked for self-destruction.
func (s *Substate) IsDestructed(addr types.Address) bool {
	_, ok := s.destructed[addr]
	return ok
}

// Destruct marks addr for self-destruction, returning true the first
// time it's marked.
func (s *Substate) Destruct(addr types.Address) bool {
	if _, ok := s.destructed[addr]; ok {
		return false
	}
	s.destructed[addr] = struct{}{}
	return true
}

// MarkCreated records addr as created within this transaction, returning
// true the first time it's marked. Consulted by SelfDestruct to decide
// whether an account predates the transaction (EIP-6780).
func (s *Substate) MarkCreated(addr types.Address) bool {
	if _, ok := s.created[addr]; ok {
		return false
	}
	s.created[addr] = struct{}{}
	return true
}

// WasCreated reports whether addr was created earlier in this transaction.
func (s *Substate) WasCreated(addr types.Address) bool {
	_, ok := s.created[addr]
	return ok
}

// StoreLog appends a log entry.
func (s *Substate) StoreLog(l types.Log) {
	s.logs = append(s.logs, l)
}

// Touch marks addr as touched (e.g. by a zero-value transfer, which still
// makes an empty account "exist" long enough to be pruned at block end).
func (s *Substate) Touch(addr types.Address) {
	s.touched[addr] = struct{}{}
}

// AccessAccount records addr as accessed and returns whether it was cold.
func (s *Substate) AccessAccount(addr types.Address) AccessStatus {
	if _, ok := s.accessed[addr]; ok {
		return AccessWarm
	}
	s.accessed[addr] = struct{}{}
	return AccessCold
}

// AccessStorage records slot under addr as accessed and returns whether
// it was cold.
func (s *Substate) AccessStorage(addr types.Address, slot types.Hash) AccessStatus {
	set, ok := s.accessedStorage[addr]
	if !ok {
		set = make(map[types.Hash]struct{})
		s.accessedStorage[addr] = set
	}
	if _, ok := set[slot]; ok {
		return AccessWarm
	}
	set[slot] = struct{}{}
	return AccessCold
}
