// Package config defines the tunable schema the core consumes. Loading this
// schema from a file/env/flags is an external collaborator's job (out of
// scope per spec.md §1); this package only specifies defaults and shape, in
// the same JSON-tagged-struct-with-toggles idiom the teacher uses for its
// StrategyConfig/RiskControlConfig.
package config

import (
	"time"

	"optionscalp/clock"
	"optionscalp/domain"
)

// SessionConfig carries the IST session-window constants consumed by entry
// gating and the TIME_FORCED exit detector (§6.3).
type SessionConfig struct {
	MarketOpen       string `json:"market_open"`        // "09:15"
	MarketClose      string `json:"market_close"`        // "15:30"
	LunchStart       string `json:"lunch_start"`         // "11:30"
	LunchEnd         string `json:"lunch_end"`            // "13:00"
	ForcedFlatCutoff string `json:"forced_flat_cutoff"`  // "15:15"
	NoNewEntriesAfter string `json:"no_new_entries_after"` // "15:00"
}

// DefaultSessionConfig matches the constants named in §6.3.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MarketOpen:        "09:15",
		MarketClose:       "15:30",
		LunchStart:        "11:30",
		LunchEnd:          "13:00",
		ForcedFlatCutoff:  "15:15",
		NoNewEntriesAfter: "15:00",
	}
}

// GreeksConfig tunes the Black-Scholes/IV pipeline (§4.1).
type GreeksConfig struct {
	RiskFreeRate       float64       `json:"risk_free_rate"`          // default 0.06
	TradingMinutesYear float64       `json:"trading_minutes_year"`    // 6.25h * 60 * 252
	BrokerIVMinAge     time.Duration `json:"broker_iv_max_age"`       // 2s
	BrokerIVMin        float64       `json:"broker_iv_min"`           // 0.05
	BrokerIVMax        float64       `json:"broker_iv_max"`           // 2.5
	InversionTolerance float64       `json:"inversion_tolerance"`     // 0.05
	InversionMaxIter   int           `json:"inversion_max_iter"`      // 64
	DefaultIV          float64       `json:"default_iv"`              // 0.25
	SnapshotRingSize   int           `json:"snapshot_ring_size"`       // 128
	MinSnapshotGap     time.Duration `json:"min_snapshot_gap"`        // 250ms
	FakeMoveDeltaThresh float64      `json:"fake_move_delta_thresh"`  // 0.02
	FakeMoveLockDur    time.Duration `json:"fake_move_lock_duration"` // 60s
	ThetaTrapPct       float64       `json:"theta_trap_pct"`          // 0.20
	ThetaTrapWindow    time.Duration `json:"theta_trap_window"`       // 60s
	ZoneATMWindow      int           `json:"zone_atm_window"`         // 5
	DominanceDeadband  float64       `json:"dominance_deadband"`      // 0.05
}

func DefaultGreeksConfig() GreeksConfig {
	return GreeksConfig{
		RiskFreeRate:        0.06,
		TradingMinutesYear:  6.25 * 60 * 252,
		BrokerIVMinAge:      2 * time.Second,
		BrokerIVMin:         0.05,
		BrokerIVMax:         2.5,
		InversionTolerance:  0.05,
		InversionMaxIter:    64,
		DefaultIV:           0.25,
		SnapshotRingSize:    128,
		MinSnapshotGap:      250 * time.Millisecond,
		FakeMoveDeltaThresh: 0.02,
		FakeMoveLockDur:     60 * time.Second,
		ThetaTrapPct:        0.20,
		ThetaTrapWindow:     60 * time.Second,
		ZoneATMWindow:       5,
		DominanceDeadband:   0.05,
	}
}

// BiasConfig tunes the chain normalization and bias blend (§4.2).
type BiasConfig struct {
	ATMWindow          int                `json:"atm_window"`           // default 5
	MaxSpreadPct       float64            `json:"max_spread_pct"`       // 0.20
	Weights            domain.BiasWeights `json:"weights"`
	BullishThreshold   float64            `json:"bullish_threshold"`    // 0.55
	BearishThreshold   float64            `json:"bearish_threshold"`    // 0.45
	WeakBand           float64            `json:"weak_band"`            // 0.1
	MediumBand         float64            `json:"medium_band"`          // 0.2
	HysteresisToLeaveNeutral int          `json:"hysteresis_leave_neutral"` // 2
	HysteresisToFlip   int                `json:"hysteresis_flip"`      // 3
	OIWindowSnapshots  int                `json:"oi_window_snapshots"`  // 3
	PriceActionReturns int                `json:"price_action_returns"` // N returns examined
}

func DefaultBiasConfig() BiasConfig {
	return BiasConfig{
		ATMWindow:                5,
		MaxSpreadPct:             0.20,
		Weights:                  domain.DefaultBiasWeights(),
		BullishThreshold:         0.55,
		BearishThreshold:         0.45,
		WeakBand:                 0.1,
		MediumBand:               0.2,
		HysteresisToLeaveNeutral: 2,
		HysteresisToFlip:         3,
		OIWindowSnapshots:        3,
		PriceActionReturns:       5,
	}
}

// EntryConfig tunes the entry quality gates (§4.3).
type EntryConfig struct {
	MaxTickAge          time.Duration `json:"max_tick_age"`           // 10s
	StrikeWindow         int          `json:"strike_window"`          // ATM+-3
	DeltaMin             float64      `json:"delta_min"`              // 0.2
	DeltaMax             float64      `json:"delta_max"`              // 0.7
	IVFitCenterLow       float64      `json:"iv_fit_center_low"`      // 0.20
	IVFitCenterHigh      float64      `json:"iv_fit_center_high"`     // 0.30
	QualityThreshold     float64      `json:"quality_threshold"`      // default 0.6
	MaxCandidateSpreadPct float64     `json:"max_candidate_spread_pct"` // structural gate
}

func DefaultEntryConfig() EntryConfig {
	return EntryConfig{
		MaxTickAge:            10 * time.Second,
		StrikeWindow:          3,
		DeltaMin:              0.2,
		DeltaMax:              0.7,
		IVFitCenterLow:        0.20,
		IVFitCenterHigh:       0.30,
		QualityThreshold:      0.6,
		MaxCandidateSpreadPct: 0.20,
	}
}

// ExitConfig tunes the eight exit detectors (§4.4).
type ExitConfig struct {
	MaxHoldSeconds        int           `json:"max_hold_seconds"`         // 600
	ThetaAccelPerMinute   float64       `json:"theta_accel_per_minute"`   // -0.05
	IVCrushPercent        float64       `json:"iv_crush_percent"`         // 0.10
	ThetaTimeCapSeconds   int           `json:"theta_time_cap_seconds"`   // 600
	ReversalOIUnwindPct   float64       `json:"reversal_oi_unwind_pct"`   // 0.05
	ReversalWeightedMin   float64       `json:"reversal_weighted_min"`    // 0.7
	GammaCollapsePct      float64       `json:"gamma_collapse_pct"`       // 0.60
	VolumeClimaxMultiple  float64       `json:"volume_climax_multiple"`   // 2.0
	DeltaDivergenceDelta  float64       `json:"delta_divergence_delta"`   // 0.1
	DeltaDivergencePoints float64       `json:"delta_divergence_points"`  // 2
	PartialProfitThreshold float64     `json:"partial_profit_threshold"` // 0.008 (0.8%)
	PartialExitPct        float64       `json:"partial_exit_pct"`         // 0.60 (locked default ladder)
	TrailActivation       float64       `json:"trail_activation"`         // 0.005 (0.5%)
	HardSLPct             float64       `json:"hard_sl_pct"`              // 0.02
	OrderRetryWindow      time.Duration `json:"order_retry_window"`       // 2s
}

func DefaultExitConfig() ExitConfig {
	return ExitConfig{
		MaxHoldSeconds:         600,
		ThetaAccelPerMinute:    -0.05,
		IVCrushPercent:         0.10,
		ThetaTimeCapSeconds:    600,
		ReversalOIUnwindPct:    0.05,
		ReversalWeightedMin:    0.7,
		GammaCollapsePct:       0.60,
		VolumeClimaxMultiple:   2.0,
		DeltaDivergenceDelta:   0.1,
		DeltaDivergencePoints:  2,
		PartialProfitThreshold: 0.008,
		PartialExitPct:         0.60,
		TrailActivation:        0.005,
		HardSLPct:              0.02,
		OrderRetryWindow:       2 * time.Second,
	}
}

// RiskConfig tunes the risk & safety layer (§4.5).
type RiskConfig struct {
	DailyLossLimit        float64       `json:"daily_loss_limit"`
	MaxConsecutiveLosses  int           `json:"max_consecutive_losses"`  // 5
	MaxConcurrent         int           `json:"max_concurrent"`          // 1
	BaseQty               float64       `json:"base_qty"`
	MinQty                float64       `json:"min_qty"`
	MaxQty                float64       `json:"max_qty"`
	UseKellySizing        bool          `json:"use_kelly_sizing"`
	KellyFraction         float64       `json:"kelly_fraction"`          // 0.25
	KellyMaxF             float64       `json:"kelly_max_f"`             // 0.2
	LossCooldown          time.Duration `json:"loss_cooldown"`           // 60s
	WinCooldown           time.Duration `json:"win_cooldown"`            // 15s
	ExtendedCooldown      time.Duration `json:"extended_cooldown"`       // 180s
	HighVolCooldownMult   float64       `json:"high_vol_cooldown_mult"`  // 1.5
	MaxStaleness          time.Duration `json:"max_staleness"`           // 10s
	ForceFlatAfterStale   time.Duration `json:"force_flat_after_stale"`  // 30s
	FlashCrashPct         float64       `json:"flash_crash_pct"`         // 0.05
	FlashCrashWindow      time.Duration `json:"flash_crash_window"`      // 60s
	FlashCrashPause       time.Duration `json:"flash_crash_pause"`       // 15m
	APIFailureStreak      int           `json:"api_failure_streak"`      // 3
	APIFailurePause       time.Duration `json:"api_failure_pause"`       // 5m
	BrokerCallDeadline    time.Duration `json:"broker_call_deadline"`    // 2s
	BrokerRetryMax        int           `json:"broker_retry_max"`        // 3
	BrokerRetryCap        time.Duration `json:"broker_retry_cap"`        // 4s
}

func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		DailyLossLimit:       2000,
		MaxConsecutiveLosses: 5,
		MaxConcurrent:        1,
		BaseQty:              50,
		MinQty:               25,
		MaxQty:               150,
		UseKellySizing:       false,
		KellyFraction:        0.25,
		KellyMaxF:            0.2,
		LossCooldown:         60 * time.Second,
		WinCooldown:          15 * time.Second,
		ExtendedCooldown:     180 * time.Second,
		HighVolCooldownMult:  1.5,
		MaxStaleness:         10 * time.Second,
		ForceFlatAfterStale:  30 * time.Second,
		FlashCrashPct:        0.05,
		FlashCrashWindow:     60 * time.Second,
		FlashCrashPause:      15 * time.Minute,
		APIFailureStreak:     3,
		APIFailurePause:      5 * time.Minute,
		BrokerCallDeadline:   2 * time.Second,
		BrokerRetryMax:       3,
		BrokerRetryCap:       4 * time.Second,
	}
}

// AdaptiveConfig tunes the learning loop and safety guard (§4.6).
type AdaptiveConfig struct {
	MinSampleSize        int           `json:"min_sample_size"`          // 20
	AmplifyWinRate       float64       `json:"amplify_win_rate"`         // 0.65
	RestrictWinRate      float64       `json:"restrict_win_rate"`        // 0.40
	BlockMinLosses       int           `json:"block_min_losses"`         // 6
	BlockHighHours       time.Duration `json:"block_high_hours"`         // 72h
	BlockCriticalHours   time.Duration `json:"block_critical_hours"`     // 168h
	WeightMin            float64       `json:"weight_min"`               // 0
	WeightMax            float64       `json:"weight_max"`               // 1.3
	WeightMaxDeltaPerProposal float64  `json:"weight_max_delta"`         // 0.5
	MaxAppliedPerDay     int           `json:"max_applied_per_day"`      // 5
	MinHoursBetweenApply time.Duration `json:"min_hours_between_apply"`  // 24h
}

func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		MinSampleSize:             20,
		AmplifyWinRate:            0.65,
		RestrictWinRate:           0.40,
		BlockMinLosses:            6,
		BlockHighHours:            72 * time.Hour,
		BlockCriticalHours:        168 * time.Hour,
		WeightMin:                 0,
		WeightMax:                 1.3,
		WeightMaxDeltaPerProposal: 0.5,
		MaxAppliedPerDay:          5,
		MinHoursBetweenApply:      24 * time.Hour,
	}
}

// HolidayCalendar is injected NSE holiday data; the core never guesses at a
// trading calendar (see SPEC_FULL.md's Open Question resolution).
type HolidayCalendar struct {
	Holidays []time.Time
}

// IsHoliday reports whether t's date (in IST) is a configured holiday.
func (h HolidayCalendar) IsHoliday(t time.Time) bool {
	y, m, d := t.In(clock.IST).Date()
	for _, hol := range h.Holidays {
		hy, hm, hd := hol.Date()
		if y == hy && m == hm && d == hd {
			return true
		}
	}
	return false
}

// Config aggregates every tunable subsystem config plus the holiday
// calendar. Loading it from disk/env is out of scope; callers construct one
// via Default() and override fields explicitly.
type Config struct {
	Session  SessionConfig
	Greeks   GreeksConfig
	Bias     BiasConfig
	Entry    EntryConfig
	Exit     ExitConfig
	Risk     RiskConfig
	Adaptive AdaptiveConfig
	Holidays HolidayCalendar
}

// Default returns the full default configuration.
func Default() Config {
	return Config{
		Session:  DefaultSessionConfig(),
		Greeks:   DefaultGreeksConfig(),
		Bias:     DefaultBiasConfig(),
		Entry:    DefaultEntryConfig(),
		Exit:     DefaultExitConfig(),
		Risk:     DefaultRiskConfig(),
		Adaptive: DefaultAdaptiveConfig(),
	}
}
