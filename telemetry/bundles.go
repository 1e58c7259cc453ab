package telemetry

// SchedulerMetrics is the set of metrics a fiber.Scheduler reports
// through, if instrumented.
type SchedulerMetrics struct {
	TasksSubmitted *Counter
	TasksCompleted *Counter
	TasksPanicked  *Counter
	QueueDepth     *Gauge
}

// NewSchedulerMetrics registers a SchedulerMetrics bundle under the
// "fiber" subsystem.
func NewSchedulerMetrics(r *Registry) *SchedulerMetrics {
	return &SchedulerMetrics{
		TasksSubmitted: r.NewCounter("fiber", "tasks_submitted_total", "tasks submitted to the scheduler"),
		TasksCompleted: r.NewCounter("fiber", "tasks_completed_total", "tasks that ran to completion"),
		TasksPanicked:  r.NewCounter("fiber", "tasks_panicked_total", "tasks whose Run func panicked"),
		QueueDepth:     r.NewGauge("fiber", "queue_depth", "tasks currently waiting in the shared priority queue"),
	}
}

// HistoryMetrics is the set of metrics a history.Ring reports through.
type HistoryMetrics struct {
	Pushes  *Counter
	Evicted *Counter
	Depth   *Gauge
}

// NewHistoryMetrics registers a HistoryMetrics bundle under the
// "history" subsystem.
func NewHistoryMetrics(r *Registry) *HistoryMetrics {
	return &HistoryMetrics{
		Pushes:  r.NewCounter("history", "roots_pushed_total", "state roots pushed onto the history window"),
		Evicted: r.NewCounter("history", "roots_evicted_total", "state roots evicted from the history window"),
		Depth:   r.NewGauge("history", "window_depth", "number of roots currently retained"),
	}
}

// ExecutorMetrics is the set of metrics an execution.Executor reports
// through.
type ExecutorMetrics struct {
	TxExecuted *Counter
	TxRetried  *Counter
	TxFailed   *Counter
	GasUsed    *Histogram
	BlockTime  *Histogram
}

// NewExecutorMetrics registers an ExecutorMetrics bundle under the
// "execution" subsystem.
func NewExecutorMetrics(r *Registry) *ExecutorMetrics {
	return &ExecutorMetrics{
		TxExecuted: r.NewCounter("execution", "tx_executed_total", "transactions successfully merged into block state"),
		TxRetried:  r.NewCounter("execution", "tx_retried_total", "transaction execution attempts that lost a merge race and retried"),
		TxFailed:   r.NewCounter("execution", "tx_failed_total", "transactions that exhausted their retry budget"),
		GasUsed:    r.NewHistogram("execution", "tx_gas_used", "gas used per transaction", []float64{21000, 50000, 100000, 250000, 500000, 1000000, 5000000}),
		BlockTime:  r.NewHistogram("execution", "block_exec_ms", "wall-clock time to execute a block", nil),
	}
}
