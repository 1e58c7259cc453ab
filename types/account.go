package types

import "github.com/holiman/uint256"

// Account is the state-trie leaf value for an Ethereum-style account.
// Root is the account's own storage trie root: triedb keeps one persistent
// mpt.Trie per account (Triedb.storageTries), and Root
// is how that trie's identity survives across commits and process restarts
// rather than living only in an in-memory index.
type Account struct {
	Balance     *uint256.Int
	Root        Hash
	CodeHash    Hash
	Nonce       uint64
	Incarnation Incarnation
}

// EmptyAccount returns a zero-value account: zero balance, zero nonce, no
// storage, and the empty-code keccak hash.
func EmptyAccount() Account {
	return Account{
		Balance:  new(uint256.Int),
		Root:     EmptyRootHash,
		CodeHash: EmptyCodeHash,
	}
}

// IsEmpty reports whether the account satisfies the EIP-161 emptiness test:
// zero nonce, zero balance, and the empty-code hash.
func (a Account) IsEmpty() bool {
	return a.CodeHash == EmptyCodeHash && a.Nonce == 0 && (a.Balance == nil || a.Balance.IsZero())
}

// Copy returns a deep copy safe to mutate independently of a.
func (a Account) Copy() Account {
	cp := a
	if a.Balance != nil {
		cp.Balance = new(uint256.Int).Set(a.Balance)
	} else {
		cp.Balance = new(uint256.Int)
	}
	return cp
}

// Code is an opaque, immutable byte string addressed by its keccak256 hash.
type Code []byte

// Log is a single contract event emitted during transaction execution.
type Log struct {
	Address     Address
	Topics      []Hash
	Data        []byte
	BlockNumber uint64
	TxHash      Hash
	TxIndex     uint
	BlockHash   Hash
	Index       uint
	Removed     bool
}

// TxType identifies the transaction envelope.
type TxType uint8

const (
	LegacyTxType TxType = iota
	AccessListTxType
	DynamicFeeTxType
	BlobTxType
	SetCodeTxType
)

// ReceiptStatus values, per the Ethereum Yellow Paper post-Byzantium.
const (
	ReceiptStatusFailed     = uint8(0)
	ReceiptStatusSuccessful = uint8(1)
)

// Receipt records the outcome of executing a single transaction.
type Receipt struct {
	Type              TxType
	Status            uint8
	CumulativeGasUsed uint64
	GasUsed           uint64
	Bloom             [256]byte
	Logs              []*Log

	TxHash          Hash
	ContractAddress Address
	BlockHash       Hash
	BlockNumber     uint64
	TransactionIndex uint
}
