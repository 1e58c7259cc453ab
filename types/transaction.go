package types

import "github.com/holiman/uint256"

// AccessTuple is one entry of an EIP-2930 access list: an address and the
// storage slots within it the transaction declares it will touch.
type AccessTuple struct {
	Address     Address
	StorageKeys []Hash
}

// Transaction is a single signed transaction, covering the fields common to
// the legacy, access-list, and dynamic-fee envelopes; execution-layer code
// built on this core is responsible for type-specific validation.
type Transaction struct {
	Type       TxType
	ChainID    *uint256.Int
	Nonce      uint64
	GasTipCap  *uint256.Int // maxPriorityFeePerGas, post-1559; ignored pre-1559
	GasFeeCap  *uint256.Int // gasPrice pre-1559, maxFeePerGas post-1559
	Gas        uint64
	To         *Address // nil for contract creation
	Value      *uint256.Int
	Data       []byte
	AccessList []AccessTuple

	// BlobFeeCap (maxFeePerBlobGas) and BlobHashes are set only on
	// EIP-4844 blob-carrying transactions (Type == BlobTxType).
	BlobFeeCap *uint256.Int
	BlobHashes []Hash

	V, R, S *uint256.Int
}

// SignedTransaction pairs a Transaction with its hash and recovered sender,
// so later pipeline stages never need to repeat signature recovery (see
// execution.RecoverSender).
type SignedTransaction struct {
	Transaction
	Hash   Hash
	Sender Address
}
