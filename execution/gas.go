package execution

import (
	"github.com/monadexec/execore/evmhost"
	"github.com/monadexec/execore/types"
)

// Intrinsic gas cost constants, ported from pkg/core/state_transition.go's
// txIntrinsicGas / processor.go's TxGas table.
const (
	TxGas            uint64 = 21000
	TxCreateGas      uint64 = 32000
	TxDataZeroGas    uint64 = 4
	TxDataNonZeroGas uint64 = 16
	TxAccessListAddressGas    uint64 = 2400
	TxAccessListStorageKeyGas uint64 = 1900
)

// GasPricingRules holds the configurable pricing parameters StorageCost
// needs, ported from pkg/core/vm/dynamic_gas.go's GasPricingRules
// (trimmed to the SSTORE-relevant subset; the rest lives with the
// injected EVM interpreter).
type GasPricingRules struct {
	SstoreSetGas    uint64
	SstoreResetGas  uint64
	WarmReadGas     uint64
	ColdSloadGas    uint64
	SstoreClearsRef uint64
	// RefundCapDivisor is gas_used/N, the post-London refund cap
	// (EIP-3529: N=5). A zero value means no cap (pre-London).
	RefundCapDivisor uint64
}

// DefaultGasPricingRules returns post-London/Cancun SSTORE pricing.
func DefaultGasPricingRules() GasPricingRules {
	return GasPricingRules{
		SstoreSetGas:     20000,
		SstoreResetGas:   2900,
		WarmReadGas:      100,
		ColdSloadGas:     2100,
		SstoreClearsRef:  4800,
		RefundCapDivisor: 5,
	}
}

// IntrinsicGas computes the base gas cost of a transaction before EVM
// execution: the flat per-transaction cost, contract-creation surcharge,
// calldata cost, and EIP-2930 access-list cost. Ported from
// pkg/core/state_transition.go's txIntrinsicGas.
func IntrinsicGas(tx *types.Transaction) uint64 {
	gas := TxGas
	if tx.To == nil {
		gas += TxCreateGas
	}
	for _, b := range tx.Data {
		if b == 0 {
			gas += TxDataZeroGas
		} else {
			gas += TxDataNonZeroGas
		}
	}
	for _, tuple := range tx.AccessList {
		gas += TxAccessListAddressGas
		gas += uint64(len(tuple.StorageKeys)) * TxAccessListStorageKeyGas
	}
	return gas
}

// StorageCost prices one SSTORE write and reports its gas refund delta
// (possibly negative, e.g. undoing a previously-counted clear refund).
// Ported from pkg/core/vm/gas_table.go's SstoreGas, generalized from
// [32]byte to types.Hash and threaded through the host's StorageStatus
// rather than re-deriving the case split independently.
func StorageCost(rules GasPricingRules, status evmhost.StorageStatus, cold bool) (gas uint64, refund int64) {
	if cold {
		gas += rules.ColdSloadGas
	}
	switch status {
	case evmhost.StorageAssigned:
		gas += rules.WarmReadGas
	case evmhost.StorageAdded:
		gas += rules.SstoreSetGas
	case evmhost.StorageDeleted:
		gas += rules.SstoreResetGas
		refund = int64(rules.SstoreClearsRef)
	case evmhost.StorageModified:
		gas += rules.SstoreResetGas
	case evmhost.StorageDeletedAdded:
		gas += rules.WarmReadGas
		refund = -int64(rules.SstoreClearsRef)
	case evmhost.StorageModifiedDeleted:
		gas += rules.WarmReadGas
		refund = int64(rules.SstoreClearsRef)
	case evmhost.StorageDeletedRestored:
		gas += rules.WarmReadGas
		refund = int64(rules.SstoreSetGas) - int64(rules.WarmReadGas)
	case evmhost.StorageModifiedRestored:
		gas += rules.WarmReadGas
		refund = int64(rules.SstoreResetGas) - int64(rules.WarmReadGas)
	case evmhost.StorageAddedDeleted:
		gas += rules.WarmReadGas
	default:
		gas += rules.WarmReadGas
	}
	return gas, refund
}

// CapRefund applies the EIP-3529 refund cap (gas_used/RefundCapDivisor).
// RefundCapDivisor == 0 means no cap (pre-London: full refund allowed).
func CapRefund(rules GasPricingRules, gasUsed uint64, refund int64) uint64 {
	if refund < 0 {
		return 0
	}
	r := uint64(refund)
	if rules.RefundCapDivisor == 0 {
		return r
	}
	if cap := gasUsed / rules.RefundCapDivisor; r > cap {
		return cap
	}
	return r
}
