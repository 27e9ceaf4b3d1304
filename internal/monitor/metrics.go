// Package monitor exposes pipeline metrics: prometheus collectors for
// scraping plus a sliding-window latency histogram for the status API.
package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Signal outcome labels for the signals counter.
const (
	SignalReceived  = "received"
	SignalInvalid   = "invalid"
	SignalDuplicate = "duplicate"
	SignalDeflected = "deflected"
)

// Order outcome labels for the orders counter.
const (
	OrderPlaced  = "placed"
	OrderFailed  = "failed"
	OrderAborted = "aborted"
)

// Metrics holds the pipeline's collectors. All are registered against
// the instance's own registry so tests can run side by side.
type Metrics struct {
	registry *prometheus.Registry

	signalsTotal   *prometheus.CounterVec
	gateRejections *prometheus.CounterVec
	ordersTotal    *prometheus.CounterVec
	stopsTotal     *prometheus.CounterVec
	ticksTotal     prometheus.Counter
	killSwitch     prometheus.Gauge
	queueDepth     prometheus.Gauge
	rateLimitLevel prometheus.Gauge
	equity         prometheus.Gauge
	dailyPnL       prometheus.Gauge
	reconcileDiffs prometheus.Gauge
	execSeconds    prometheus.Histogram

	// ExecLatency feeds the status API's percentile snapshot.
	ExecLatency *LatencyHistogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		signalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_signals_total",
			Help: "Signals by intake outcome (received|invalid|duplicate|deflected).",
		}, []string{"result"}),
		gateRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_gate_rejections_total",
			Help: "Signals rejected, split by the gate that stopped them.",
		}, []string{"gate"}),
		ordersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_orders_total",
			Help: "Order submissions by venue, side and outcome.",
		}, []string{"venue", "side", "status"}),
		stopsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_stops_total",
			Help: "Protective stop submissions by outcome (placed|failed).",
		}, []string{"status"}),
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_ticks_total",
			Help: "Market data ticks consumed.",
		}),
		killSwitch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_kill_switch",
			Help: "1 when the daily kill switch has tripped.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Signals buffered in the execution queue.",
		}),
		rateLimitLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_rate_limit_level",
			Help: "Current decaying-bucket counter level.",
		}),
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_equity",
			Help: "Account equity in the cash currency.",
		}),
		dailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_daily_pnl",
			Help: "Realized PnL for the current session.",
		}),
		reconcileDiffs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_reconcile_discrepancies",
			Help: "Orphan plus zombie orders found by the last sweep.",
		}),
		execSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_execution_seconds",
			Help:    "Signal dequeue-to-submission latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		ExecLatency: NewLatencyHistogram(1000),
	}
	m.registry.MustRegister(
		m.signalsTotal, m.gateRejections, m.ordersTotal, m.stopsTotal,
		m.ticksTotal, m.killSwitch, m.queueDepth, m.rateLimitLevel,
		m.equity, m.dailyPnL, m.reconcileDiffs, m.execSeconds,
	)
	return m
}

// Registry returns the instance registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) IncSignal(result string) {
	m.signalsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncGateRejection(gate string) {
	m.gateRejections.WithLabelValues(gate).Inc()
}

func (m *Metrics) IncOrder(venue, side, status string) {
	m.ordersTotal.WithLabelValues(venue, side, status).Inc()
}

func (m *Metrics) IncStop(status string) {
	m.stopsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) IncTick() {
	m.ticksTotal.Inc()
}

func (m *Metrics) SetKillSwitch(on bool) {
	if on {
		m.killSwitch.Set(1)
	} else {
		m.killSwitch.Set(0)
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) SetRateLimitLevel(v float64) {
	m.rateLimitLevel.Set(v)
}

func (m *Metrics) SetEquity(v float64) {
	m.equity.Set(v)
}

func (m *Metrics) SetDailyPnL(v float64) {
	m.dailyPnL.Set(v)
}

func (m *Metrics) SetReconcileDiscrepancies(n int) {
	m.reconcileDiffs.Set(float64(n))
}

// ObserveExecution records one signal's processing latency in both the
// prometheus histogram and the status window.
func (m *Metrics) ObserveExecution(d time.Duration) {
	m.execSeconds.Observe(d.Seconds())
	m.ExecLatency.RecordDuration(d)
}
