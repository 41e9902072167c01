// Package metrics exposes prometheus counters, gauges, and histograms for
// every subsystem in the engine: Greeks, bias, entry, exit, risk, adaptive,
// and the per-underlying orchestrator loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the custom prometheus registry for optionscalp metrics.
var Registry = prometheus.NewRegistry()

var (
	// ============================================
	// Greeks engine (§4.1)
	// ============================================

	GreeksComputeDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "optionscalp",
			Subsystem: "greeks",
			Name:      "compute_duration_seconds",
			Help:      "Time to recompute Greeks for one chain update",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
		[]string{"underlying"},
	)

	GreeksIVFallbackTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "optionscalp",
			Subsystem: "greeks",
			Name:      "iv_fallback_total",
			Help:      "Number of legs resolved by each IV source in the fallback chain",
		},
		[]string{"underlying", "source"},
	)

	GreeksHealth = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "optionscalp",
			Subsystem: "greeks",
			Name:      "health",
			Help:      "Chain health status as an enum gauge (1=set, labeled by status)",
		},
		[]string{"underlying", "status"},
	)

	GreeksFakeMoveLocksActive = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "optionscalp",
			Subsystem: "greeks",
			Name:      "fake_move_locks_active",
			Help:      "Number of instruments currently fake-move locked",
		},
		[]string{"underlying"},
	)

	// ============================================
	// Bias engine (§4.2)
	// ============================================

	BiasDirection = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "optionscalp",
			Subsystem: "bias",
			Name:      "direction",
			Help:      "Current bias direction as an enum gauge (1=set, labeled by direction)",
		},
		[]string{"underlying", "direction"},
	)

	BiasStrength = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "optionscalp",
			Subsystem: "bias",
			Name:      "strength",
			Help:      "Current bias strength in [0,1]",
		},
		[]string{"underlying"},
	)

	BiasFlipsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "optionscalp",
			Subsystem: "bias",
			Name:      "flips_total",
			Help:      "Number of times the confirmed bias direction changed",
		},
		[]string{"underlying"},
	)

	// ============================================
	// Entry engine (§4.3)
	// ============================================

	EntryGateRejectionsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "optionscalp",
			Subsystem: "entry",
			Name:      "gate_rejections_total",
			Help:      "Entry candidates rejected, broken down by which gate rejected them",
		},
		[]string{"underlying", "reason"},
	)

	EntryQualityScore = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "optionscalp",
			Subsystem: "entry",
			Name:      "quality_score",
			Help:      "Quality score distribution of all candidates that reached the final gate",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"underlying"},
	)

	EntriesTakenTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "optionscalp",
			Subsystem: "entry",
			Name:      "taken_total",
			Help:      "Entries actually placed",
		},
		[]string{"underlying", "side"},
	)

	// ============================================
	// Exit orchestrator (§4.4)
	// ============================================

	ExitSignalsFiredTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "optionscalp",
			Subsystem: "exit",
			Name:      "signals_fired_total",
			Help:      "Detector signals fired, by kind, whether or not they won arbitration",
		},
		[]string{"underlying", "kind"},
	)

	ExitArbitrationWinnerTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "optionscalp",
			Subsystem: "exit",
			Name:      "arbitration_winner_total",
			Help:      "The detector kind that won arbitration and was executed",
		},
		[]string{"underlying", "kind"},
	)

	ExitEscalationsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "optionscalp",
			Subsystem: "exit",
			Name:      "escalations_total",
			Help:      "Exits that required escalation to a forced market order",
		},
		[]string{"underlying"},
	)

	ExitNakedRiskTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "optionscalp",
			Subsystem: "exit",
			Name:      "naked_risk_total",
			Help:      "Exits where even the escalated market order failed, leaving a naked position",
		},
		[]string{"underlying"},
	)

	// ============================================
	// Risk & safety layer (§4.5)
	// ============================================

	RiskDailyPnL = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "optionscalp",
			Subsystem: "risk",
			Name:      "daily_pnl",
			Help:      "Realized P&L so far in the current trading day",
		},
	)

	RiskConsecutiveLosses = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "optionscalp",
			Subsystem: "risk",
			Name:      "consecutive_losses",
			Help:      "Current consecutive-loss streak per underlying",
		},
		[]string{"underlying"},
	)

	RiskOpenPositions = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "optionscalp",
			Subsystem: "risk",
			Name:      "open_positions",
			Help:      "Open positions per underlying",
		},
		[]string{"underlying"},
	)

	RiskKillSwitchEngaged = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "optionscalp",
			Subsystem: "risk",
			Name:      "kill_switch_engaged",
			Help:      "1 if the kill switch is engaged, 0 otherwise",
		},
	)

	RiskFlashCrashPausesTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "optionscalp",
			Subsystem: "risk",
			Name:      "flash_crash_pauses_total",
			Help:      "Number of times flash-crash detection paused new entries",
		},
	)

	RiskBrokerFailureStreak = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "optionscalp",
			Subsystem: "risk",
			Name:      "broker_failure_streak",
			Help:      "Current consecutive broker-call failure count",
		},
	)

	// ============================================
	// Adaptive controller (§4.6)
	// ============================================

	AdaptiveBucketWeight = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "optionscalp",
			Subsystem: "adaptive",
			Name:      "bucket_weight",
			Help:      "Learned size multiplier for a feature bucket",
		},
		[]string{"time_of_day", "bias_strength", "greeks_regime", "oi_conviction", "volatility"},
	)

	AdaptiveBucketBlocked = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "optionscalp",
			Subsystem: "adaptive",
			Name:      "bucket_blocked",
			Help:      "1 if a feature bucket is currently blocked from new entries",
		},
		[]string{"time_of_day", "bias_strength", "greeks_regime", "oi_conviction", "volatility"},
	)

	AdaptiveEODLearningRunsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "optionscalp",
			Subsystem: "adaptive",
			Name:      "eod_learning_runs_total",
			Help:      "Number of end-of-day learning passes applied",
		},
	)

	AdaptiveEmergencyResetsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "optionscalp",
			Subsystem: "adaptive",
			Name:      "emergency_resets_total",
			Help:      "Number of times the adaptive controller's learned state was emergency-reset",
		},
	)

	// ============================================
	// Orchestrator & journal (§4.7)
	// ============================================

	OrchestratorCycleDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "optionscalp",
			Subsystem: "orchestrator",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one pull->greeks->bias->entry_or_exit->persist cycle",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"underlying"},
	)

	OrchestratorRunning = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "optionscalp",
			Subsystem: "orchestrator",
			Name:      "running",
			Help:      "Whether an underlying's loop is running (1) or stopped (0)",
		},
		[]string{"underlying"},
	)

	JournalTradeQualityScore = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "optionscalp",
			Subsystem: "journal",
			Name:      "trade_quality_score",
			Help:      "Distribution of 0-100 trade quality scores at close",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
		[]string{"underlying"},
	)

	JournalPersistFailuresTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "optionscalp",
			Subsystem: "journal",
			Name:      "persist_failures_total",
			Help:      "Failed writes to the persistence sink",
		},
		[]string{"underlying", "stage"},
	)

	// ============================================
	// Feed (§6.1)
	// ============================================

	FeedReconnectsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "optionscalp",
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Number of websocket feed reconnect attempts",
		},
	)

	FeedStale = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "optionscalp",
			Subsystem: "feed",
			Name:      "stale",
			Help:      "1 if the feed is judged stale/disconnected, 0 otherwise",
		},
	)
)

// Init registers the standard Go process collectors alongside the metrics
// above.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}

// SetGreeksHealth records the current chain health as an enum gauge: the
// active status reads 1, every other known status for that underlying
// reads 0.
func SetGreeksHealth(underlying string, status string, allStatuses []string) {
	for _, s := range allStatuses {
		v := 0.0
		if s == status {
			v = 1.0
		}
		GreeksHealth.WithLabelValues(underlying, s).Set(v)
	}
}

// SetBiasDirection records the current bias direction as an enum gauge,
// zeroing the other two directions for the same underlying.
func SetBiasDirection(underlying string, direction string, allDirections []string) {
	for _, d := range allDirections {
		v := 0.0
		if d == direction {
			v = 1.0
		}
		BiasDirection.WithLabelValues(underlying, d).Set(v)
	}
}

// SetKillSwitch records the kill switch's engaged/released state.
func SetKillSwitch(engaged bool) {
	v := 0.0
	if engaged {
		v = 1.0
	}
	RiskKillSwitchEngaged.Set(v)
}
