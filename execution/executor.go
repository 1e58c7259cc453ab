package execution

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/monadexec/execore/evmhost"
	"github.com/monadexec/execore/fiber"
	"github.com/monadexec/execore/state"
	"github.com/monadexec/execore/telemetry"
	"github.com/monadexec/execore/triedb"
	"github.com/monadexec/execore/types"
	"github.com/monadexec/execore/xlog"
)

// BlockContext carries the per-block values every transaction's host
// needs: chain id, fork traits, gas pricing, and the block-hash oracle
// (see blockhash.Ring).
type BlockContext struct {
	Header    *types.Header
	ChainID   *uint256.Int
	Revision  Revision
	GasRules  GasPricingRules
	BlockHash func(number uint64) types.Hash
}

// BlockExecutionResult holds the outcome of executing a block's
// transactions. Ported from pkg/core/block_executor.go's
// BlockExecutionResult, trimmed to what Block State's read-through commit
// path (triedb.Commit) produces downstream.
type BlockExecutionResult struct {
	Receipts  []*types.Receipt
	GasUsed   uint64
	TxCount   int
	Success   bool
	StateRoot types.Hash
}

// Executor runs a block's transactions against a shared Block State using
// the Fiber Scheduler for concurrency and Block State's CanMerge/Merge for
// optimistic-concurrency conflict detection.
type Executor struct {
	cfg     ExecutorConfig
	sched   *fiber.Scheduler
	log     *xlog.Logger
	metrics *telemetry.ExecutorMetrics
}

// New builds an Executor with its own Fiber Scheduler.
func New(cfg ExecutorConfig, log *xlog.Logger) *Executor {
	if log == nil {
		log = xlog.Default().Module("execution")
	}
	workers := cfg.Workers
	return &Executor{
		cfg:   cfg,
		sched: fiber.New(fiber.DefaultConfig(workers), log.Module("fiber")),
		log:   log,
	}
}

// Instrument attaches a metrics bundle to the Executor and, transitively,
// its Fiber Scheduler. Passing nil disables reporting.
func (e *Executor) Instrument(m *telemetry.ExecutorMetrics, sched *telemetry.SchedulerMetrics) {
	e.metrics = m
	e.sched.SetMetrics(sched)
}

// Start launches the underlying scheduler's worker pool.
func (e *Executor) Start(ctx context.Context) { e.sched.Start(ctx) }

// Stop shuts the scheduler down, waiting for all workers to exit.
func (e *Executor) Stop() error { return e.sched.Stop() }

// txOutcome is one transaction's finalized result, reported back to
// ExecuteBlock by its fiber task.
type txOutcome struct {
	receipt *types.Receipt
	gasUsed uint64
	err     error
}

// ExecuteBlock runs every transaction in txs against bs, honoring the
// retry-on-conflict protocol: each transaction executes speculatively
// against the current Block State, then -- after waiting its turn behind
// every lower-indexed transaction -- attempts to merge; a failed
// CanMerge re-reads inputs and re-executes, up to cfg.MaxRetries.
// interp backs every transaction's top-level EVM dispatch (see
// evmhost.Interpreter); a nil interp treats every transaction as a plain
// value transfer, useful for exercising the retry/commit machinery in
// isolation.
func (e *Executor) ExecuteBlock(ctx context.Context, bs *state.BlockState, bc BlockContext, txs []*types.SignedTransaction, interp evmhost.Interpreter) (*BlockExecutionResult, error) {
	if bc.Header == nil {
		return nil, ErrNilHeader
	}
	if len(txs) == 0 {
		root, err := bs.Commit(triedb.CommitInput{BlockID: bc.Header.Number, Header: bc.Header})
		if err != nil {
			return nil, fmt.Errorf("commit block %d: %w", bc.Header.Number, err)
		}
		return &BlockExecutionResult{Success: true, StateRoot: root}, nil
	}

	if e.metrics != nil {
		timer := telemetry.NewTimer(e.metrics.BlockTime)
		defer timer.Stop()
	}

	gasLimit := bc.Header.GasLimit
	if e.cfg.MaxGasPerBlock > 0 && e.cfg.MaxGasPerBlock < gasLimit {
		gasLimit = e.cfg.MaxGasPerBlock
	}

	outcomes := make([]txOutcome, len(txs))
	done := make([]chan struct{}, len(txs)+1)
	for i := range done {
		done[i] = make(chan struct{})
	}
	close(done[0])

	resultCh := make(chan int, len(txs))

	for i, stx := range txs {
		i, stx := i, stx
		e.sched.Submit(&fiber.Task{
			Priority: uint64(len(txs) - i), // earlier transactions finalize sooner
			Run: func(fctx *fiber.Context) {
				outcomes[i] = e.runWithRetry(bs, bc, stx, gasLimit, interp, done[i], done[i+1])
				resultCh <- i
			},
		})
	}

	for range txs {
		<-resultCh
	}

	result := &BlockExecutionResult{Success: true}
	var cumulative uint64
	for i, o := range outcomes {
		if o.err != nil {
			return nil, fmt.Errorf("tx %d: %w", i, o.err)
		}
		cumulative += o.gasUsed
		o.receipt.CumulativeGasUsed = cumulative
		o.receipt.TransactionIndex = uint(i)
		result.Receipts = append(result.Receipts, o.receipt)
	}
	result.GasUsed = cumulative
	result.TxCount = len(txs)

	txPtrs := make([]*types.Transaction, len(txs))
	for i, stx := range txs {
		txPtrs[i] = &stx.Transaction
	}
	root, err := bs.Commit(triedb.CommitInput{
		BlockID:      bc.Header.Number,
		Header:       bc.Header,
		Receipts:     result.Receipts,
		Transactions: txPtrs,
	})
	if err != nil {
		return nil, fmt.Errorf("commit block %d: %w", bc.Header.Number, err)
	}
	result.StateRoot = root
	return result, nil
}

// runWithRetry executes stx against bs, blocking on prevDone before every
// CanMerge attempt (Block State's commit phase is strictly ordered by
// transaction index even though execution itself is not), and closes
// myDone once this transaction is finalized (merged or permanently
// failed) so the next transaction may proceed.
func (e *Executor) runWithRetry(bs *state.BlockState, bc BlockContext, stx *types.SignedTransaction, gasLimit uint64, interp evmhost.Interpreter, prevDone, myDone chan struct{}) txOutcome {
	defer close(myDone)

	attempts := e.cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var last txOutcome
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && e.metrics != nil {
			e.metrics.TxRetried.Inc()
		}
		tx := state.NewTransactionState(bs)
		receipt, gasUsed, err := e.executeOne(tx, bc, stx, gasLimit, interp)
		if err != nil {
			last = txOutcome{err: err}
			continue
		}

		<-prevDone
		if !bs.CanMerge(tx) {
			last = txOutcome{err: fmt.Errorf("conflict detected on attempt %d", attempt)}
			continue
		}
		bs.Merge(tx)
		if e.metrics != nil {
			e.metrics.TxExecuted.Inc()
			e.metrics.GasUsed.Observe(float64(gasUsed))
		}
		return txOutcome{receipt: receipt, gasUsed: gasUsed}
	}
	if e.metrics != nil {
		e.metrics.TxFailed.Inc()
	}
	return txOutcome{err: fmt.Errorf("%w: %v", ErrRetryBudgetSpent, last.err)}
}

// executeOne validates and runs a single transaction to completion against
// tx: validate, charge up-front gas, warm access-list entries, dispatch
// through the host, cap the refund, settle the sender's unused gas and
// the coinbase tip, and build the receipt.
func (e *Executor) executeOne(tx *state.TransactionState, bc BlockContext, stx *types.SignedTransaction, gasLimit uint64, interp evmhost.Interpreter) (*types.Receipt, uint64, error) {
	if err := StaticValidate(&stx.Transaction, bc.Header, bc.ChainID, bc.Revision); err != nil {
		return nil, 0, err
	}

	senderAcct, err := tx.ReadAccount(stx.Sender)
	if err != nil {
		return nil, 0, err
	}
	view := AccountView{Balance: new(uint256.Int), CodeHash: types.EmptyCodeHash}
	if senderAcct != nil {
		view = AccountView{Nonce: senderAcct.Nonce, Balance: senderAcct.Balance, CodeHash: senderAcct.CodeHash}
	}
	if err := StatefulValidate(&stx.Transaction, view, bc.Revision); err != nil {
		return nil, 0, err
	}

	effectivePrice := EffectiveGasPrice(&stx.Transaction, bc.Header.BaseFee)
	upfront := new(uint256.Int).Mul(effectivePrice, new(uint256.Int).SetUint64(stx.Gas))
	if senderAcct != nil {
		next := senderAcct.Copy()
		next.Balance.Sub(next.Balance, upfront)
		next.Nonce++
		if err := tx.WriteAccount(stx.Sender, &next); err != nil {
			return nil, 0, err
		}
	}

	warmSenderAndRecipient(tx, stx)

	txCtx := evmhost.TxContext{
		GasPrice:    effectivePrice,
		Origin:      stx.Sender,
		Coinbase:    bc.Header.Coinbase,
		BlockNumber: bc.Header.Number,
		BlockTime:   bc.Header.Time,
		GasLimit:    gasLimit,
		BaseFee:     bc.Header.BaseFee,
		ChainID:     bc.ChainID,

		CancunActive: bc.Revision.Cancun,
	}
	host := evmhost.New(tx, txCtx, bc.BlockHash, interp)

	recipient := types.Address{}
	kind := evmhost.CallKindCall
	if stx.To != nil {
		recipient = *stx.To
	} else {
		kind = evmhost.CallKindCreate
	}

	intrinsic := IntrinsicGas(&stx.Transaction)
	gasAvailable := int64(stx.Gas) - int64(intrinsic)
	if gasAvailable < 0 {
		gasAvailable = 0
	}

	result := host.Call(evmhost.CallMessage{
		Kind:      kind,
		Gas:       gasAvailable,
		Sender:    stx.Sender,
		Recipient: recipient,
		Value:     stx.Value,
		Input:     stx.Data,
	})

	gasUsed := stx.Gas
	if result.GasLeft >= 0 && uint64(result.GasLeft) <= stx.Gas {
		gasUsed = stx.Gas - uint64(result.GasLeft)
	}
	refund := CapRefund(bc.GasRules, gasUsed, tx.Refund()+result.GasRefund)
	if refund > gasUsed {
		refund = gasUsed
	}
	gasUsed -= refund

	status := types.ReceiptStatusFailed
	if result.StatusSuccess {
		status = types.ReceiptStatusSuccessful
	}

	unused := new(uint256.Int).Mul(effectivePrice, new(uint256.Int).SetUint64(stx.Gas-gasUsed))
	if senderAcct != nil {
		cur, err := tx.ReadAccount(stx.Sender)
		if err == nil && cur != nil {
			next := cur.Copy()
			next.Balance.Add(next.Balance, unused)
			_ = tx.WriteAccount(stx.Sender, &next)
		}
	}
	creditCoinbase(tx, bc.Header.Coinbase, effectivePrice, bc.Header.BaseFee, gasUsed)

	receipt := &types.Receipt{
		Type:    stx.Type,
		Status:  status,
		GasUsed: gasUsed,
		Logs:    logPointers(tx.Substate().Logs()),
	}
	return receipt, gasUsed, nil
}

func warmSenderAndRecipient(tx *state.TransactionState, stx *types.SignedTransaction) {
	tx.Substate().AccessAccount(stx.Sender)
	if stx.To != nil {
		tx.Substate().AccessAccount(*stx.To)
	}
	for _, tuple := range stx.AccessList {
		tx.Substate().AccessAccount(tuple.Address)
		for _, slot := range tuple.StorageKeys {
			tx.Substate().AccessStorage(tuple.Address, slot)
		}
	}
}

func creditCoinbase(tx *state.TransactionState, coinbase types.Address, effectivePrice, baseFee *uint256.Int, gasUsed uint64) {
	tip := new(uint256.Int).Set(effectivePrice)
	if baseFee != nil {
		if tip.Gt(baseFee) {
			tip = new(uint256.Int).Sub(tip, baseFee)
		} else {
			tip = new(uint256.Int)
		}
	}
	amount := new(uint256.Int).Mul(tip, new(uint256.Int).SetUint64(gasUsed))
	if amount.IsZero() {
		return
	}
	acct, err := tx.ReadAccount(coinbase)
	if err != nil {
		return
	}
	var next types.Account
	if acct != nil {
		next = acct.Copy()
	} else {
		next = types.EmptyAccount()
	}
	next.Balance.Add(next.Balance, amount)
	_ = tx.WriteAccount(coinbase, &next)
}

func logPointers(logs []types.Log) []*types.Log {
	out := make([]*types.Log, len(logs))
	for i := range logs {
		out[i] = &logs[i]
	}
	return out
}
