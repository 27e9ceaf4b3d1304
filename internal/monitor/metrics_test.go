package monitor

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndGauges(t *testing.T) {
	m := NewMetrics()

	m.IncSignal(SignalReceived)
	m.IncSignal(SignalReceived)
	m.IncSignal(SignalDeflected)
	m.IncGateRejection("spread")
	m.IncOrder("kraken", "BUY", OrderPlaced)
	m.IncStop("placed")
	m.SetKillSwitch(true)
	m.SetQueueDepth(7)
	m.SetRateLimitLevel(12.5)

	if got := testutil.ToFloat64(m.signalsTotal.WithLabelValues(SignalReceived)); got != 2 {
		t.Errorf("signals received = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.signalsTotal.WithLabelValues(SignalDeflected)); got != 1 {
		t.Errorf("signals deflected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.gateRejections.WithLabelValues("spread")); got != 1 {
		t.Errorf("gate rejections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ordersTotal.WithLabelValues("kraken", "BUY", OrderPlaced)); got != 1 {
		t.Errorf("orders placed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.killSwitch); got != 1 {
		t.Errorf("kill switch = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.queueDepth); got != 7 {
		t.Errorf("queue depth = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.rateLimitLevel); got != 12.5 {
		t.Errorf("rate limit level = %v, want 12.5", got)
	}

	m.SetKillSwitch(false)
	if got := testutil.ToFloat64(m.killSwitch); got != 0 {
		t.Errorf("kill switch after reset = %v, want 0", got)
	}
}

func TestMetricNamesExposition(t *testing.T) {
	m := NewMetrics()
	m.IncSignal(SignalReceived)

	expected := `
# HELP pipeline_signals_total Signals by intake outcome (received|invalid|duplicate|deflected).
# TYPE pipeline_signals_total counter
pipeline_signals_total{result="received"} 1
`
	if err := testutil.GatherAndCompare(m.registry, strings.NewReader(expected), "pipeline_signals_total"); err != nil {
		t.Errorf("exposition mismatch: %v", err)
	}
}

func TestInstancesAreIsolated(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.IncTick()

	if got := testutil.ToFloat64(b.ticksTotal); got != 0 {
		t.Errorf("second instance ticks = %v, want 0", got)
	}
}

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(100)
	for i := 1; i <= 100; i++ {
		h.Record(float64(i))
	}
	s := h.Stats()
	if s.Count != 100 {
		t.Fatalf("Count = %d, want 100", s.Count)
	}
	if s.Min != 1 || s.Max != 100 {
		t.Errorf("min/max = %v/%v", s.Min, s.Max)
	}
	if s.P50 != 51 {
		t.Errorf("P50 = %v, want 51", s.P50)
	}
	if s.P95 != 96 {
		t.Errorf("P95 = %v, want 96", s.P95)
	}
	if s.Avg != 50.5 {
		t.Errorf("Avg = %v, want 50.5", s.Avg)
	}
}

func TestLatencyHistogramSlidesWindow(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{10, 20, 30, 40} {
		h.Record(v)
	}
	s := h.Stats()
	if s.Count != 3 || s.Min != 20 || s.Max != 40 {
		t.Errorf("stats after slide = %+v", s)
	}
}

func TestLatencyHistogramCachesUntilDirty(t *testing.T) {
	h := NewLatencyHistogram(10)
	h.Record(5)
	first := h.Stats()
	second := h.Stats()
	if first != second {
		t.Errorf("cached stats differ: %+v vs %+v", first, second)
	}
	h.Record(15)
	third := h.Stats()
	if third.Max != 15 || third.Count != 2 {
		t.Errorf("stats not recomputed: %+v", third)
	}
}

func TestObserveExecutionFeedsBothSinks(t *testing.T) {
	m := NewMetrics()
	m.ObserveExecution(20 * time.Millisecond)

	if got := m.ExecLatency.Stats().Count; got != 1 {
		t.Errorf("window samples = %d, want 1", got)
	}
	if got := testutil.CollectAndCount(m.execSeconds); got != 1 {
		t.Errorf("prometheus series = %d, want 1", got)
	}
}

func TestTimerRecords(t *testing.T) {
	h := NewLatencyHistogram(10)
	timer := NewTimer(h)
	time.Sleep(2 * time.Millisecond)
	if elapsed := timer.Stop(); elapsed <= 0 {
		t.Errorf("elapsed = %v", elapsed)
	}
	if h.Stats().Count != 1 {
		t.Errorf("sample not recorded")
	}
}
