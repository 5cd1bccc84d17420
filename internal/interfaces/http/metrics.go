package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptorisk/internal/application/tick"
)

// MetricsRegistry holds all Prometheus metrics for the risk core
type MetricsRegistry struct {
	gatherer prometheus.Gatherer

	// Tick metrics
	Ticks        prometheus.Counter
	TickDuration prometheus.Histogram

	// Decision metrics
	Entries           *prometheus.CounterVec
	Exits             *prometheus.CounterVec
	Skipped           *prometheus.CounterVec
	ExecutionFailures *prometheus.CounterVec

	// Portfolio risk metrics
	RiskScore     prometheus.Gauge
	CanTrade      prometheus.Gauge
	VaR           prometheus.Gauge
	OpenPositions prometheus.Gauge
	Equity        prometheus.Gauge
}

// NewMetricsRegistry creates the cryptorisk metrics on a fresh registry.
func NewMetricsRegistry() *MetricsRegistry {
	reg := prometheus.NewRegistry()
	m := newMetrics(reg)
	m.gatherer = reg
	return m
}

func newMetrics(reg prometheus.Registerer) *MetricsRegistry {
	m := &MetricsRegistry{
		Ticks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cryptorisk_ticks_total",
				Help: "Total number of evaluation ticks completed",
			},
		),

		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cryptorisk_tick_duration_seconds",
				Help:    "Duration of each evaluation tick in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
		),

		Entries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptorisk_entries_total",
				Help: "Entry decisions by result (opened or skip reason)",
			},
			[]string{"result"},
		),

		Exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptorisk_exits_total",
				Help: "Confirmed exit fills by reason",
			},
			[]string{"reason"},
		),

		Skipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptorisk_skipped_assets_total",
				Help: "Assets left out of a tick by cause",
			},
			[]string{"cause"},
		),

		ExecutionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptorisk_execution_failures_total",
				Help: "Failed tick steps by stage",
			},
			[]string{"stage"},
		),

		RiskScore: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cryptorisk_risk_score",
				Help: "Current portfolio risk score (0.0 to 1.0)",
			},
		),

		CanTrade: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cryptorisk_can_trade",
				Help: "1 when the risk gate allows new entries",
			},
		),

		VaR: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cryptorisk_var",
				Help: "Current portfolio value at risk as a return",
			},
		),

		OpenPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cryptorisk_open_positions",
				Help: "Number of open positions",
			},
		),

		Equity: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cryptorisk_equity",
				Help: "Cash plus marked value of open positions",
			},
		),
	}

	reg.MustRegister(
		m.Ticks,
		m.TickDuration,
		m.Entries,
		m.Exits,
		m.Skipped,
		m.ExecutionFailures,
		m.RiskScore,
		m.CanTrade,
		m.VaR,
		m.OpenPositions,
		m.Equity,
	)
	return m
}

// ObserveTick records a completed tick report
func (m *MetricsRegistry) ObserveTick(r tick.TickReport) {
	m.Ticks.Inc()
	m.TickDuration.Observe(r.Duration.Seconds())

	for result, n := range r.Counts() {
		if n > 0 {
			m.Entries.WithLabelValues(result).Add(float64(n))
		}
	}
	for _, e := range r.Exits {
		m.Exits.WithLabelValues(e.Instruction.Reason.String()).Inc()
	}
	for _, s := range r.Skipped {
		m.Skipped.WithLabelValues(s.Cause).Inc()
	}
	for _, f := range r.Failures {
		m.ExecutionFailures.WithLabelValues(f.Stage).Inc()
	}

	m.RiskScore.Set(r.Risk.RiskScore)
	if r.Risk.CanTrade {
		m.CanTrade.Set(1)
	} else {
		m.CanTrade.Set(0)
	}
	m.VaR.Set(r.Risk.VaR)
	m.OpenPositions.Set(float64(r.OpenPositions))
	m.Equity.Set(r.Equity)

	if len(r.Failures) > 0 {
		log.Warn().
			Int("failures", len(r.Failures)).
			Msg("Tick failures recorded")
	}
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func (m *MetricsRegistry) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
