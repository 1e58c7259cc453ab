// Package evmhost defines the EVM host-callback contract: the fixed set of
// operations an EVM interpreter calls back into while executing a
// transaction's bytecode. The interpreter itself is out of scope (an
// external collaborator, same as evmc's own split between a VM and its
// host); this package only owns the boundary and the concrete
// implementation of it backed by Transaction State, matching the standard
// EVM host callback set consumed by an EVM interpreter.
package evmhost

import (
	"github.com/holiman/uint256"

	"github.com/monadexec/execore/types"
)

// AccessStatus mirrors evmc_access_status.
type AccessStatus uint8

const (
	AccessCold AccessStatus = iota
	AccessWarm
)

// CallKind distinguishes the call-family operations Call dispatches.
type CallKind uint8

const (
	CallKindCall CallKind = iota
	CallKindDelegateCall
	CallKindCallCode
	CallKindStaticCall
	CallKindCreate
	CallKindCreate2
)

// CallMessage is the input to a nested Call.
type CallMessage struct {
	Kind      CallKind
	Depth     int
	Gas       int64
	Recipient types.Address
	Sender    types.Address
	Value     *uint256.Int
	Input     []byte
	Salt      types.Hash // CREATE2 only
}

// CallResult is the output of a nested Call.
type CallResult struct {
	StatusSuccess  bool
	GasLeft        int64
	GasRefund      int64
	Output         []byte
	CreateAddress  types.Address
}

// TxContext is the static per-transaction context the host hands to the
// EVM (get_tx_context).
type TxContext struct {
	GasPrice    *uint256.Int
	Origin      types.Address
	Coinbase    types.Address
	BlockNumber uint64
	BlockTime   uint64
	GasLimit    uint64
	BaseFee     *uint256.Int
	ChainID     *uint256.Int

	// CancunActive narrows SelfDestruct to EIP-6780 semantics: an account
	// is only fully cleared if it was created earlier in the same
	// transaction, otherwise only its balance is swept.
	CancunActive bool
}

// Host is the callback set an EVM interpreter drives during a call frame.
// All operations read/write the Transaction State the host was built for.
type Host interface {
	AccountExists(addr types.Address) bool
	GetStorage(addr types.Address, key types.Hash) types.Hash
	SetStorage(addr types.Address, key, value types.Hash) StorageStatus
	GetBalance(addr types.Address) *uint256.Int
	GetCodeSize(addr types.Address) int
	GetCodeHash(addr types.Address) types.Hash
	CopyCode(addr types.Address, offset int, bufSize int) []byte
	SelfDestruct(addr, beneficiary types.Address) bool
	Call(msg CallMessage) CallResult
	GetTxContext() TxContext
	GetBlockHash(number uint64) types.Hash
	EmitLog(addr types.Address, topics []types.Hash, data []byte)
	AccessAccount(addr types.Address) AccessStatus
	AccessStorage(addr types.Address, key types.Hash) AccessStatus
	GetTransientStorage(addr types.Address, key types.Hash) types.Hash
	SetTransientStorage(addr types.Address, key, value types.Hash)
}

// StorageStatus mirrors evmc_storage_status, reporting which of the
// EIP-2200/3529 SSTORE cases applied so the caller can price and refund
// the write -- see execution/gas.go's StorageCost, which this status
// feeds directly.
type StorageStatus uint8

const (
	StorageAssigned StorageStatus = iota
	StorageAdded
	StorageDeleted
	StorageModified
	StorageDeletedAdded
	StorageModifiedDeleted
	StorageDeletedRestored
	StorageAddedDeleted
	StorageModifiedRestored
)
