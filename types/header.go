package types

import "github.com/holiman/uint256"

// Header is a block header, trimmed to the fields triedb's commit path
// reads or writes -- the various EIP-specific optional hashes a full
// client's header type carries belong to the execution layer built on
// top of this core, not to the storage/state engine itself.
type Header struct {
	ParentHash Hash
	Coinbase   Address

	Root            Hash // state root
	TxHash          Hash // transactions root
	ReceiptHash     Hash // receipts root
	WithdrawalsHash *Hash

	Number    uint64
	Round     uint64 // consensus round this header was proposed in, pre-finalization
	GasLimit  uint64
	GasUsed   uint64
	Time      uint64
	Extra     []byte
	BaseFee   *uint256.Int // nil pre-1559
}

// Withdrawal is a validator withdrawal pushed from the consensus layer.
type Withdrawal struct {
	Index          uint64
	ValidatorIndex uint64
	Address        Address
	Amount         uint64 // in Gwei
}
