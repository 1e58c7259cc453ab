package telemetry

import "testing"

func TestCounterIncAndAdd(t *testing.T) {
	r := NewRegistry("execoretest")
	c := r.NewCounter("unit", "widgets_total", "widgets made")
	c.Inc()
	c.Add(4)
	c.Add(-10) // negative adds are ignored, counters only go up
	if got := c.Value(); got != 5 {
		t.Fatalf("Value() = %v, want 5", got)
	}
}

func TestGaugeSetIncDec(t *testing.T) {
	r := NewRegistry("execoretest")
	g := r.NewGauge("unit", "queue_depth", "items waiting")
	g.Set(10)
	g.Inc()
	g.Dec()
	g.Dec()
	if got := g.Value(); got != 9 {
		t.Fatalf("Value() = %v, want 9", got)
	}
}

func TestHistogramObserveTracksMinMaxMean(t *testing.T) {
	r := NewRegistry("execoretest")
	h := r.NewHistogram("unit", "latency_ms", "op latency", nil)
	if h.Count() != 0 || h.Mean() != 0 || h.Min() != 0 || h.Max() != 0 {
		t.Fatalf("empty histogram should report zero values")
	}
	for _, v := range []float64{10, 20, 30} {
		h.Observe(v)
	}
	if h.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", h.Count())
	}
	if h.Mean() != 20 {
		t.Fatalf("Mean() = %v, want 20", h.Mean())
	}
	if h.Min() != 10 {
		t.Fatalf("Min() = %v, want 10", h.Min())
	}
	if h.Max() != 30 {
		t.Fatalf("Max() = %v, want 30", h.Max())
	}
}

func TestTimerStopRecordsIntoHistogram(t *testing.T) {
	r := NewRegistry("execoretest")
	h := r.NewHistogram("unit", "timed_ms", "timed op", nil)
	timer := NewTimer(h)
	timer.Stop()
	if h.Count() != 1 {
		t.Fatalf("Count() = %d, want 1 after Stop", h.Count())
	}
}

func TestSchedulerMetricsBundleRegistersDistinctNames(t *testing.T) {
	r := NewRegistry("execoretest")
	m := NewSchedulerMetrics(r)
	m.TasksSubmitted.Inc()
	m.TasksCompleted.Inc()
	m.TasksPanicked.Inc()
	m.QueueDepth.Set(3)
	if m.TasksSubmitted.Value() != 1 {
		t.Fatalf("TasksSubmitted = %v, want 1", m.TasksSubmitted.Value())
	}
	if m.QueueDepth.Value() != 3 {
		t.Fatalf("QueueDepth = %v, want 3", m.QueueDepth.Value())
	}
}

func TestHistoryMetricsBundle(t *testing.T) {
	r := NewRegistry("execoretest")
	m := NewHistoryMetrics(r)
	m.Pushes.Inc()
	m.Evicted.Inc()
	m.Depth.Set(16)
	if m.Pushes.Value() != 1 || m.Evicted.Value() != 1 || m.Depth.Value() != 16 {
		t.Fatalf("unexpected bundle values: pushes=%v evicted=%v depth=%v",
			m.Pushes.Value(), m.Evicted.Value(), m.Depth.Value())
	}
}

func TestExecutorMetricsBundle(t *testing.T) {
	r := NewRegistry("execoretest")
	m := NewExecutorMetrics(r)
	m.TxExecuted.Inc()
	m.TxRetried.Inc()
	m.TxFailed.Inc()
	m.GasUsed.Observe(21000)
	m.BlockTime.Observe(1.5)
	if m.TxExecuted.Value() != 1 || m.TxRetried.Value() != 1 || m.TxFailed.Value() != 1 {
		t.Fatalf("unexpected counter values")
	}
	if m.GasUsed.Count() != 1 || m.GasUsed.Mean() != 21000 {
		t.Fatalf("unexpected GasUsed histogram state")
	}
}
