package evmhost

import (
	"github.com/holiman/uint256"

	"github.com/monadexec/execore/crypto"
	"github.com/monadexec/execore/rlp"
	"github.com/monadexec/execore/state"
	"github.com/monadexec/execore/types"
)

// Interpreter executes a call target's code and reports the outcome. It is
// the one piece of the host/VM split this package does not own -- bytecode
// execution is an explicit non-goal, so TxHost takes the interpreter as a
// dependency the same way evmc's host implementation holds a reference back
// into whichever VM instance it was built for.
type Interpreter func(msg CallMessage, host Host) CallResult

// TxHost is the Host implementation backing one transaction's execution:
// every callback reads or writes through to the TransactionState it was
// built for.
type TxHost struct {
	tx          *state.TransactionState
	ctx         TxContext
	blockHash   func(number uint64) types.Hash
	interpreter Interpreter
	depth       int
	transient   map[types.Address]map[types.Hash]types.Hash
	nextLogIdx  *uint
}

// New builds a TxHost over tx. blockHash resolves get_block_hash queries
// (see blockhash.Ring); interp is consulted for CALL-family targets that
// carry code and may be nil for hosts that only need value-transfer and
// account bookkeeping semantics (e.g. unit tests).
func New(tx *state.TransactionState, ctx TxContext, blockHash func(uint64) types.Hash, interp Interpreter) *TxHost {
	var idx uint
	return &TxHost{
		tx:          tx,
		ctx:         ctx,
		blockHash:   blockHash,
		interpreter: interp,
		transient:   make(map[types.Address]map[types.Hash]types.Hash),
		nextLogIdx:  &idx,
	}
}

func (h *TxHost) account(addr types.Address) *types.Account {
	acct, err := h.tx.ReadAccount(addr)
	if err != nil || acct == nil {
		return nil
	}
	return acct
}

func (h *TxHost) AccountExists(addr types.Address) bool {
	return h.account(addr) != nil
}

func (h *TxHost) GetStorage(addr types.Address, key types.Hash) types.Hash {
	acct := h.account(addr)
	if acct == nil {
		return types.Hash{}
	}
	val, err := h.tx.ReadStorage(addr, acct.Incarnation, key)
	if err != nil {
		return types.Hash{}
	}
	return val
}

// SetStorage writes value and reports which EIP-2200/3529 case applied, so
// the caller (execution/gas.go's StorageCost) can price and refund it.
func (h *TxHost) SetStorage(addr types.Address, key, value types.Hash) StorageStatus {
	acct := h.account(addr)
	var incarnation types.Incarnation
	if acct != nil {
		incarnation = acct.Incarnation
	}
	original, _ := h.tx.ReadStorageOriginal(addr, incarnation, key)
	current, _ := h.tx.ReadStorage(addr, incarnation, key)
	status := classifyStorageWrite(original, current, value)
	_ = h.tx.WriteStorage(addr, incarnation, key, value)
	return status
}

func classifyStorageWrite(original, current, value types.Hash) StorageStatus {
	if current == value {
		return StorageAssigned
	}
	if original == current {
		if original.IsZero() {
			return StorageAdded
		}
		if value.IsZero() {
			return StorageDeleted
		}
		return StorageModified
	}
	// Dirty slot: current already differs from the transaction-start value.
	switch {
	case original.IsZero():
		if value.IsZero() {
			return StorageAddedDeleted
		}
		return StorageAssigned
	case value == original:
		if current.IsZero() {
			return StorageDeletedRestored
		}
		return StorageModifiedRestored
	case current.IsZero():
		return StorageDeletedAdded
	case value.IsZero():
		return StorageModifiedDeleted
	default:
		return StorageAssigned
	}
}

func (h *TxHost) GetBalance(addr types.Address) *uint256.Int {
	acct := h.account(addr)
	if acct == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(acct.Balance)
}

func (h *TxHost) GetCodeSize(addr types.Address) int {
	acct := h.account(addr)
	if acct == nil {
		return 0
	}
	code, err := h.tx.ReadCode(acct.CodeHash)
	if err != nil {
		return 0
	}
	return len(code)
}

func (h *TxHost) GetCodeHash(addr types.Address) types.Hash {
	acct := h.account(addr)
	if acct == nil {
		return types.Hash{}
	}
	return acct.CodeHash
}

func (h *TxHost) CopyCode(addr types.Address, offset int, bufSize int) []byte {
	acct := h.account(addr)
	if acct == nil {
		return nil
	}
	code, err := h.tx.ReadCode(acct.CodeHash)
	if err != nil || offset >= len(code) {
		return nil
	}
	end := offset + bufSize
	if end > len(code) {
		end = len(code)
	}
	out := make([]byte, end-offset)
	copy(out, code[offset:end])
	return out
}

// SelfDestruct marks addr destructed and transfers its balance to
// beneficiary, per EIP-6780's still-required balance sweep. Under Cancun,
// the account is only fully cleared (code, nonce, storage root) when it
// was created earlier in this same transaction; otherwise it survives
// with just its balance swept, narrowing the pre-Cancun always-clear
// behavior. It reports whether this is the first time addr was marked
// within the transaction.
func (h *TxHost) SelfDestruct(addr, beneficiary types.Address) bool {
	acct := h.account(addr)
	inserted := h.tx.Destruct(addr)
	if acct == nil {
		return inserted
	}

	if addr != beneficiary && !acct.Balance.IsZero() {
		ben := h.account(beneficiary)
		if ben == nil {
			empty := types.EmptyAccount()
			ben = &empty
		}
		benCopy := ben.Copy()
		ben = &benCopy
		ben.Balance.Add(ben.Balance, acct.Balance)
		_ = h.tx.WriteAccount(beneficiary, ben)
	}

	nextCopy := acct.Copy()
	next := &nextCopy
	next.Balance = new(uint256.Int)
	if h.ctx.CancunActive && h.tx.Substate().WasCreated(addr) {
		next.CodeHash = types.EmptyCodeHash
		next.Nonce = 0
		next.Root = types.EmptyRootHash
	}
	_ = h.tx.WriteAccount(addr, next)
	return inserted
}

func (h *TxHost) GetTxContext() TxContext { return h.ctx }

func (h *TxHost) GetBlockHash(number uint64) types.Hash {
	if h.blockHash == nil {
		return types.Hash{}
	}
	return h.blockHash(number)
}

func (h *TxHost) EmitLog(addr types.Address, topics []types.Hash, data []byte) {
	h.tx.Substate().StoreLog(types.Log{
		Address: addr,
		Topics:  append([]types.Hash(nil), topics...),
		Data:    append([]byte(nil), data...),
		Index:   *h.nextLogIdx,
	})
	*h.nextLogIdx++
}

func (h *TxHost) AccessAccount(addr types.Address) AccessStatus {
	if h.tx.Substate().AccessAccount(addr) == state.AccessWarm {
		return AccessWarm
	}
	return AccessCold
}

func (h *TxHost) AccessStorage(addr types.Address, key types.Hash) AccessStatus {
	if h.tx.Substate().AccessStorage(addr, key) == state.AccessWarm {
		return AccessWarm
	}
	return AccessCold
}

func (h *TxHost) GetTransientStorage(addr types.Address, key types.Hash) types.Hash {
	slots, ok := h.transient[addr]
	if !ok {
		return types.Hash{}
	}
	return slots[key]
}

func (h *TxHost) SetTransientStorage(addr types.Address, key, value types.Hash) {
	slots, ok := h.transient[addr]
	if !ok {
		slots = make(map[types.Hash]types.Hash)
		h.transient[addr] = slots
	}
	slots[key] = value
}

// Call dispatches a nested CALL/CREATE family message: it performs the
// value transfer and nonce/account bookkeeping itself (Transaction State's
// job) and, for a target carrying code, hands off to the injected
// Interpreter under its own checkpoint -- accepted on success, rejected on
// revert or failure.
func (h *TxHost) Call(msg CallMessage) CallResult {
	cp := h.tx.PushCheckpoint()

	if msg.Kind == CallKindCreate || msg.Kind == CallKindCreate2 {
		return h.create(msg, cp)
	}

	if msg.Kind == CallKindCall && msg.Value != nil && !msg.Value.IsZero() {
		if !h.transferValue(msg.Sender, msg.Recipient, msg.Value) {
			h.tx.Reject(cp)
			return CallResult{StatusSuccess: false, GasLeft: msg.Gas}
		}
	}

	acct := h.account(msg.Recipient)
	if acct == nil || acct.CodeHash == types.EmptyCodeHash || h.interpreter == nil {
		h.tx.Accept(cp)
		return CallResult{StatusSuccess: true, GasLeft: msg.Gas}
	}

	child := &TxHost{
		tx:          h.tx,
		ctx:         h.ctx,
		blockHash:   h.blockHash,
		interpreter: h.interpreter,
		depth:       h.depth + 1,
		transient:   h.transient,
		nextLogIdx:  h.nextLogIdx,
	}
	msg.Depth = child.depth
	result := h.interpreter(msg, child)
	if result.StatusSuccess {
		h.tx.Accept(cp)
	} else {
		h.tx.Reject(cp)
	}
	return result
}

func (h *TxHost) create(msg CallMessage, cp uint32) CallResult {
	sender := h.account(msg.Sender)
	var nonce uint64
	if sender != nil {
		nonce = sender.Nonce
	}

	var addr types.Address
	if msg.Kind == CallKindCreate2 {
		addr = create2Address(msg.Sender, msg.Salt, crypto.Keccak256(msg.Input))
	} else {
		addr = createAddress(msg.Sender, nonce)
	}

	existing := h.account(addr)
	if existing != nil && !existing.IsEmpty() {
		h.tx.Reject(cp)
		return CallResult{StatusSuccess: false, GasLeft: msg.Gas}
	}

	next := types.EmptyAccount()
	next.Nonce = 1 // EIP-161
	if existing != nil {
		// Recreating a self-destructed address: bump its own prior
		// incarnation so stale storage reads can't leak across lifetimes.
		next.Incarnation = existing.Incarnation.Next(h.ctx.BlockNumber)
	} else {
		next.Incarnation = types.NewIncarnation(h.ctx.BlockNumber, 0)
	}
	if err := h.tx.WriteAccount(addr, &next); err != nil {
		h.tx.Reject(cp)
		return CallResult{StatusSuccess: false, GasLeft: msg.Gas}
	}
	h.tx.MarkCreated(addr)

	if msg.Value != nil && !msg.Value.IsZero() {
		if !h.transferValue(msg.Sender, addr, msg.Value) {
			h.tx.Reject(cp)
			return CallResult{StatusSuccess: false, GasLeft: msg.Gas}
		}
	}

	if h.interpreter == nil {
		h.tx.Accept(cp)
		return CallResult{StatusSuccess: true, GasLeft: msg.Gas, CreateAddress: addr}
	}

	child := &TxHost{
		tx:          h.tx,
		ctx:         h.ctx,
		blockHash:   h.blockHash,
		interpreter: h.interpreter,
		depth:       h.depth + 1,
		transient:   h.transient,
		nextLogIdx:  h.nextLogIdx,
	}
	msg.Recipient = addr
	msg.Depth = child.depth
	result := h.interpreter(msg, child)
	if !result.StatusSuccess {
		h.tx.Reject(cp)
		return result
	}
	deployed := types.Code(result.Output)
	hash := h.tx.WriteCode(deployed)
	acct, err := h.tx.ReadAccount(addr)
	if err != nil {
		h.tx.Reject(cp)
		return CallResult{StatusSuccess: false, GasLeft: result.GasLeft}
	}
	updatedCopy := acct.Copy()
	updated := &updatedCopy
	updated.CodeHash = hash
	_ = h.tx.WriteAccount(addr, updated)
	h.tx.Accept(cp)
	result.CreateAddress = addr
	return result
}

func (h *TxHost) transferValue(from, to types.Address, value *uint256.Int) bool {
	src := h.account(from)
	if src == nil || src.Balance.Lt(value) {
		return false
	}
	srcCopy := src.Copy()
	srcNext := &srcCopy
	srcNext.Balance.Sub(srcNext.Balance, value)
	if err := h.tx.WriteAccount(from, srcNext); err != nil {
		return false
	}

	dst := h.account(to)
	if dst == nil {
		empty := types.EmptyAccount()
		dst = &empty
	}
	dstCopy := dst.Copy()
	dstNext := &dstCopy
	dstNext.Balance.Add(dstNext.Balance, value)
	if err := h.tx.WriteAccount(to, dstNext); err != nil {
		return false
	}
	return true
}

// createAddress computes the CREATE target address: keccak256(rlp([sender,
// nonce]))[12:].
func createAddress(sender types.Address, nonce uint64) types.Address {
	enc, err := rlp.EncodeToBytes([]interface{}{sender.Bytes(), nonce})
	if err != nil {
		return types.Address{}
	}
	hash := crypto.Keccak256(enc)
	var addr types.Address
	copy(addr[:], hash[12:])
	return addr
}

// create2Address computes the CREATE2 target address: keccak256(0xff ++
// sender ++ salt ++ keccak256(init_code))[12:], per EIP-1014.
func create2Address(sender types.Address, salt types.Hash, initCodeHash []byte) types.Address {
	buf := make([]byte, 0, 1+20+32+32)
	buf = append(buf, 0xff)
	buf = append(buf, sender.Bytes()...)
	buf = append(buf, salt.Bytes()...)
	buf = append(buf, initCodeHash...)
	hash := crypto.Keccak256(buf)
	var addr types.Address
	copy(addr[:], hash[12:])
	return addr
}
