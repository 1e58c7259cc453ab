package history

import (
	"testing"

	"github.com/monadexec/execore/telemetry"
	"github.com/monadexec/execore/types"
)

func TestRingPushWithinDepth(t *testing.T) {
	r := NewRing(3)
	r1 := types.HexToHash("1")
	if _, evicted := r.Push(r1, 1); evicted {
		t.Fatalf("unexpected eviction on first push")
	}
	if got := r.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}
	latest, ok := r.Latest()
	if !ok || latest.Root != r1 {
		t.Fatalf("Latest = %v, %v, want %v, true", latest, ok, r1)
	}
}

func TestRingEvictsOldestPastDepth(t *testing.T) {
	r := NewRing(2)
	a := types.HexToHash("a")
	b := types.HexToHash("b")
	c := types.HexToHash("c")

	r.Push(a, 1)
	r.Push(b, 2)
	evicted, ok := r.Push(c, 3)
	if !ok {
		t.Fatalf("expected eviction on third push into depth-2 ring")
	}
	if evicted.Root != a {
		t.Fatalf("evicted = %v, want %v", evicted.Root, a)
	}

	window := r.Window()
	if len(window) != 2 {
		t.Fatalf("Window len = %d, want 2", len(window))
	}
	if window[0].Root != b || window[1].Root != c {
		t.Fatalf("Window = %v, want [b, c]", window)
	}
}

func TestRingInstrumentReportsPushesAndEvictions(t *testing.T) {
	r := NewRing(2)
	m := telemetry.NewHistoryMetrics(telemetry.NewRegistry("execoretest"))
	r.Instrument(m)

	r.Push(types.HexToHash("a"), 1)
	r.Push(types.HexToHash("b"), 2)
	r.Push(types.HexToHash("c"), 3)

	if got := m.Pushes.Value(); got != 3 {
		t.Fatalf("Pushes = %v, want 3", got)
	}
	if got := m.Evicted.Value(); got != 1 {
		t.Fatalf("Evicted = %v, want 1", got)
	}
	if got := m.Depth.Value(); got != 2 {
		t.Fatalf("Depth = %v, want 2", got)
	}
}

func TestNewRingClampsDepth(t *testing.T) {
	r := NewRing(0)
	r.Push(types.HexToHash("1"), 1)
	r.Push(types.HexToHash("2"), 2)
	if got := r.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1 for depth clamped to 1", got)
	}
}
