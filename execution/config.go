package execution

import "errors"

// Executor errors, ported from pkg/core/block_executor.go's sentinel set.
var (
	ErrNilHeader        = errors.New("execution: nil header")
	ErrNoTransactions   = errors.New("execution: no transactions")
	ErrRetryBudgetSpent = errors.New("execution: transaction retry budget exhausted")
)

// ExecutorConfig configures the block Executor. Ported from
// pkg/core/block_executor.go's ExecutorConfig, trimmed to the fields a
// fiber-scheduled, optimistic-concurrency executor needs.
type ExecutorConfig struct {
	// MaxGasPerBlock caps the block gas limit the executor will honor
	// (0 = use the header's own GasLimit unmodified).
	MaxGasPerBlock uint64
	// MaxRetries bounds the total number of execution attempts (the first
	// run included) a single transaction gets before it is marked failed;
	// 0 or less means a single attempt.
	MaxRetries int
	// Workers is the fiber scheduler worker count (0 = fiber.DefaultConfig's
	// own GOMAXPROCS-based default).
	Workers int
}

// DefaultExecutorConfig returns sensible defaults for the executor.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxGasPerBlock: 30_000_000,
		MaxRetries:     8,
		Workers:        4,
	}
}
