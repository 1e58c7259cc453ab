package execution

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/monadexec/execore/types"
)

// Validation errors, ported from pkg/core/state_transition.go's sentinel
// error set and pkg/core/processor.go's nonce/gas errors.
var (
	ErrNonceTooLow         = errors.New("nonce too low")
	ErrNonceTooHigh        = errors.New("nonce too high")
	ErrGasLimitExceeded    = errors.New("transaction gas limit exceeds block gas limit")
	ErrIntrinsicGasTooLow  = errors.New("intrinsic gas exceeds gas limit")
	ErrInsufficientBalance = errors.New("insufficient balance for gas * price + value")
	ErrFeeCapTooLow        = errors.New("max fee per gas below block base fee")
	ErrTipAboveFeeCap      = errors.New("max priority fee per gas above max fee per gas")
	ErrSenderNotEOA        = errors.New("sender is not an externally-owned account")
	ErrBlockGasExceeded    = errors.New("cumulative block gas limit exceeded")
	ErrMissingBlobHashes   = errors.New("blob transaction without blob hashes")
	ErrBlobFeeCapTooLow    = errors.New("max fee per blob gas below block blob base fee")
	ErrBlobCreate          = errors.New("blob transaction may not create a contract")
)

// Revision names the set of fork traits active for a block -- mirrors
// ChainConfig.IsXXX predicates, collapsed to the handful of booleans
// validation and gas accounting actually branch on.
type Revision struct {
	London     bool // EIP-1559 fee market, EIP-3529 refund cap
	Shanghai   bool // EIP-3651 warm coinbase
	Cancun     bool // EIP-4844 blobs, EIP-1153 transient storage
	DelegatedSenderAllowed bool // post-Prague EIP-7702: a sender with delegated code may still originate txs
}

// AccountView is the minimal account state validation needs, read through
// Block State or Transaction State ahead of execution.
type AccountView struct {
	Nonce   uint64
	Balance *uint256.Int
	CodeHash types.Hash
}

// StaticValidate checks everything derivable from the transaction and
// header alone, before any state is consulted: chain id, fee-cap
// ordering, blob-field presence, intrinsic gas vs. gas limit. Ported from
// pkg/core/state_transition.go's ValidateTransaction (the state-independent
// half).
func StaticValidate(tx *types.Transaction, header *types.Header, chainID *uint256.Int, rev Revision) error {
	if tx.ChainID != nil && chainID != nil && !tx.ChainID.Eq(chainID) {
		return fmt.Errorf("chain id mismatch: tx %s, chain %s", tx.ChainID.String(), chainID.String())
	}

	if tx.Gas > header.GasLimit {
		return fmt.Errorf("%w: tx gas %d > block limit %d", ErrGasLimitExceeded, tx.Gas, header.GasLimit)
	}

	igas := IntrinsicGas(tx)
	if tx.Gas < igas {
		return fmt.Errorf("%w: have %d, want %d", ErrIntrinsicGasTooLow, tx.Gas, igas)
	}

	if tx.GasTipCap != nil && tx.GasFeeCap != nil && tx.GasTipCap.Gt(tx.GasFeeCap) {
		return ErrTipAboveFeeCap
	}

	if rev.London && header.BaseFee != nil && tx.GasFeeCap != nil && tx.GasFeeCap.Lt(header.BaseFee) {
		return fmt.Errorf("%w: fee cap %s < base fee %s", ErrFeeCapTooLow, tx.GasFeeCap.String(), header.BaseFee.String())
	}

	if tx.Type == types.BlobTxType {
		if len(tx.BlobHashes) == 0 {
			return ErrMissingBlobHashes
		}
		if tx.To == nil {
			return ErrBlobCreate
		}
	}

	return nil
}

// StatefulValidate checks everything that depends on current account
// state: nonce match, balance covering the worst-case cost, and (for
// accounts with code) whether the traits in force permit it to originate
// a transaction. Ported from pkg/core/state_transition.go's
// ValidateTransaction (the state-dependent half) and TxCost.
func StatefulValidate(tx *types.Transaction, sender AccountView, rev Revision) error {
	if tx.Nonce < sender.Nonce {
		return fmt.Errorf("%w: tx %d, state %d", ErrNonceTooLow, tx.Nonce, sender.Nonce)
	}
	if tx.Nonce > sender.Nonce {
		return fmt.Errorf("%w: tx %d, state %d", ErrNonceTooHigh, tx.Nonce, sender.Nonce)
	}

	if sender.CodeHash != types.EmptyCodeHash && !rev.DelegatedSenderAllowed {
		return ErrSenderNotEOA
	}

	cost := TxCost(tx)
	if sender.Balance.Lt(cost) {
		return fmt.Errorf("%w: have %s, want %s", ErrInsufficientBalance, sender.Balance.String(), cost.String())
	}
	return nil
}

// TxCost computes the maximum amount a transaction can cost its sender:
// value transferred plus gas_limit * fee_cap (legacy: gas_price) plus the
// worst-case blob gas cost. Ported from state_transition.go's TxCost.
func TxCost(tx *types.Transaction) *uint256.Int {
	cost := new(uint256.Int)
	if tx.Value != nil {
		cost.Set(tx.Value)
	}
	price := tx.GasFeeCap
	if price == nil {
		price = new(uint256.Int)
	}
	gasCost := new(uint256.Int).Mul(price, new(uint256.Int).SetUint64(tx.Gas))
	cost.Add(cost, gasCost)

	if tx.BlobFeeCap != nil && len(tx.BlobHashes) > 0 {
		blobGas := uint64(len(tx.BlobHashes)) * BlobGasPerBlob
		blobCost := new(uint256.Int).Mul(tx.BlobFeeCap, new(uint256.Int).SetUint64(blobGas))
		cost.Add(cost, blobCost)
	}
	return cost
}

// EffectiveGasPrice computes the price per unit gas the sender actually
// pays: legacy transactions pay GasFeeCap outright; EIP-1559 transactions
// pay min(GasFeeCap, BaseFee + GasTipCap). Ported from
// state_transition.go's EffectiveGasPrice.
func EffectiveGasPrice(tx *types.Transaction, baseFee *uint256.Int) *uint256.Int {
	if baseFee == nil || baseFee.IsZero() || tx.Type == types.LegacyTxType || tx.Type == types.AccessListTxType {
		if tx.GasFeeCap == nil {
			return new(uint256.Int)
		}
		return new(uint256.Int).Set(tx.GasFeeCap)
	}
	tip := tx.GasTipCap
	if tip == nil {
		tip = new(uint256.Int)
	}
	if tx.GasFeeCap == nil {
		return new(uint256.Int).Set(baseFee)
	}
	effective := new(uint256.Int).Add(baseFee, tip)
	if effective.Gt(tx.GasFeeCap) {
		return new(uint256.Int).Set(tx.GasFeeCap)
	}
	return effective
}

// BlobGasPerBlob is the EIP-4844 gas cost per blob.
const BlobGasPerBlob = 131072
