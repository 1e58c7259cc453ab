package mpt

// Compute identifies which hash function a trie level uses for its Merkle
// hash: keccak for Ethereum account/storage state, blake3 for internal
// indices (block-hash ring snapshots, sync shard checksums) that don't
// need Ethereum-compatible hashing.
type Compute int

const (
	ComputeKeccak Compute = iota
	ComputeBlake3
)

// StateMachine describes per-level trie policy: caching and compaction
// eligibility, hash function, and key-length discipline. A Trie is built
// with one, but nothing in this module calls its methods: every level is
// cached, compactable and keccak-hashed alike, whichever StateMachine the
// Trie was given.
type StateMachine interface {
	// Down is called when traversal descends past a nibble.
	Down(nibble byte)
	// Up is called when traversal ascends back past count nibbles.
	Up(count int)
	// Cache reports whether the current level's node should be kept in
	// the in-memory node cache after a write.
	Cache() bool
	// Compact reports whether the compactor may rewrite nodes at the
	// current level.
	Compact() bool
	// IsVariableLength reports whether variable-length key encoding
	// applies at the current level (contract storage keys, as opposed
	// to the fixed-width account/address keys of the top-level state
	// trie).
	IsVariableLength() bool
	// GetCompute returns the hash function that applies at the current
	// level.
	GetCompute() Compute
}

// DefaultStateMachine is the state-trie policy: fixed-length keys, keccak
// hashing, and unconditional caching/compaction eligibility.
type DefaultStateMachine struct {
	depth int
}

func NewDefaultStateMachine() *DefaultStateMachine { return &DefaultStateMachine{} }

func (m *DefaultStateMachine) Down(byte)              { m.depth++ }
func (m *DefaultStateMachine) Up(count int)           { m.depth -= count }
func (m *DefaultStateMachine) Cache() bool             { return true }
func (m *DefaultStateMachine) Compact() bool           { return true }
func (m *DefaultStateMachine) IsVariableLength() bool  { return false }
func (m *DefaultStateMachine) GetCompute() Compute     { return ComputeKeccak }

// StorageStateMachine is the per-account storage sub-trie policy:
// variable-length keys (storage slots may be any size once account-level
// prefixing is applied), keccak hashing to stay Ethereum-compatible.
type StorageStateMachine struct {
	depth int
}

func NewStorageStateMachine() *StorageStateMachine { return &StorageStateMachine{} }

func (m *StorageStateMachine) Down(byte)             { m.depth++ }
func (m *StorageStateMachine) Up(count int)          { m.depth -= count }
func (m *StorageStateMachine) Cache() bool            { return true }
func (m *StorageStateMachine) Compact() bool          { return true }
func (m *StorageStateMachine) IsVariableLength() bool { return true }
func (m *StorageStateMachine) GetCompute() Compute    { return ComputeKeccak }
