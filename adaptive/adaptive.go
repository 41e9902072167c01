// Package adaptive is the end-of-day-only learning loop of §4.6: it
// indexes closed trades by domain.FeatureBucket, proposes weight/block
// insights once a bucket has enough samples, and gates same-day
// re-application through a safety guard. It is a single-writer actor
// reached by a command channel, mirroring the risk package and grounded in
// other_examples/.../adaptive_engine.go's RWMutex-guarded
// AdaptiveDecisionEngine (translated here from a per-call mutex into one
// goroutine owning all state, per §5).
package adaptive

import (
	"time"

	"optionscalp/clock"
	"optionscalp/config"
	"optionscalp/domain"
	"optionscalp/logger"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// InsightAction is the verdict RunEODLearning proposes for one bucket.
type InsightAction string

const (
	ActionAmplify InsightAction = "AMPLIFY"
	ActionRestrict InsightAction = "RESTRICT"
	ActionBlock   InsightAction = "BLOCK"
	ActionHold    InsightAction = "HOLD" // below min_sample_size, no change proposed
)

// Insight is one bucket-scoped learning proposal.
type Insight struct {
	Bucket         domain.FeatureBucket
	Action         InsightAction
	Confidence     float64
	ProposedWeight float64
	Reason         string
	Applied        bool
}

// ConfidenceLevel buckets a blended confidence score into the discrete
// tiers §4.6 maps to size multipliers.
type ConfidenceLevel string

const (
	ConfidenceVeryLow  ConfidenceLevel = "VERY_LOW"
	ConfidenceLow      ConfidenceLevel = "LOW"
	ConfidenceMedium   ConfidenceLevel = "MEDIUM"
	ConfidenceHigh     ConfidenceLevel = "HIGH"
	ConfidenceVeryHigh ConfidenceLevel = "VERY_HIGH"
)

// LevelFor buckets a blended [0,1] confidence score.
func LevelFor(score float64) ConfidenceLevel {
	switch {
	case score < 0.2:
		return ConfidenceVeryLow
	case score < 0.45:
		return ConfidenceLow
	case score < 0.65:
		return ConfidenceMedium
	case score < 0.85:
		return ConfidenceHigh
	default:
		return ConfidenceVeryHigh
	}
}

// SizeMultiplierFor maps a confidence level to a position-size multiplier.
func SizeMultiplierFor(l ConfidenceLevel) float64 {
	switch l {
	case ConfidenceVeryLow:
		return 0
	case ConfidenceLow:
		return 0.5
	case ConfidenceMedium:
		return 0.8
	case ConfidenceHigh:
		return 1.0
	case ConfidenceVeryHigh:
		return 1.2
	default:
		return 0.8
	}
}

type command func(s *state)

// Controller is the public handle; all mutable state lives inside run().
type Controller struct {
	cfg  config.AdaptiveConfig
	clk  clock.Clock
	cmds chan command
	log  *zerolog.Logger
}

type state struct {
	buckets map[domain.FeatureBucket]*domain.BucketPerformance
	weights map[domain.FeatureBucket]float64
	blocked map[domain.FeatureBucket]time.Time // until
	streaks map[domain.FeatureBucket]int       // current consecutive-loss count, resets on any win

	regime domain.MarketRegime

	appliedToday      int
	lastAppliedDay    int
	lastApplyAt       time.Time
	lastEODRun        time.Time
}

// NewController starts the actor goroutine.
func NewController(cfg config.AdaptiveConfig, clk clock.Clock) *Controller {
	c := &Controller{cfg: cfg, clk: clk, cmds: make(chan command, 64), log: logger.L()}
	s := &state{
		buckets: make(map[domain.FeatureBucket]*domain.BucketPerformance),
		weights: make(map[domain.FeatureBucket]float64),
		blocked: make(map[domain.FeatureBucket]time.Time),
		streaks: make(map[domain.FeatureBucket]int),
		regime:  domain.RegimeNormal,
	}
	go c.run(s)
	return c
}

func (c *Controller) run(s *state) {
	for cmd := range c.cmds {
		cmd(s)
	}
}

func (c *Controller) call(fn func(s *state)) {
	done := make(chan struct{})
	c.cmds <- func(s *state) {
		fn(s)
		close(done)
	}
	<-done
}

func weightOf(s *state, b domain.FeatureBucket) float64 {
	if w, ok := s.weights[b]; ok {
		return w
	}
	return 1.0
}

// RecordTrade folds one closed trade's pnl into its bucket's running
// performance. Learning itself only happens in RunEODLearning (§4.6 "no
// intraday mutation").
func (c *Controller) RecordTrade(b domain.FeatureBucket, pnl float64, at time.Time) {
	c.call(func(s *state) {
		bp, ok := s.buckets[b]
		if !ok {
			bp = &domain.BucketPerformance{}
			s.buckets[b] = bp
		}
		bp.Record(decimal.NewFromFloat(pnl), at)
		if pnl < 0 {
			s.streaks[b]++
		} else {
			s.streaks[b] = 0
		}
	})
}

// SetRegime commits a regime read supplied by the caller. Nothing in this
// module computes a regime from IV mean / ATR% / trend or calls SetRegime,
// so the regime stays RegimeNormal unless a caller sets it. risk.Manager
// reads this via the read-only regimeFn callback; adaptive never reads back
// from risk.
func (c *Controller) SetRegime(r domain.MarketRegime) {
	c.call(func(s *state) { s.regime = r })
}

// Regime returns the last-committed regime snapshot.
func (c *Controller) Regime() domain.MarketRegime {
	var r domain.MarketRegime
	c.call(func(s *state) { r = s.regime })
	return r
}

// Allow implements entry.AdaptiveGate: blocked buckets reject outright,
// otherwise the bucket's learned weight becomes the size multiplier.
func (c *Controller) Allow(underlying string, bucket domain.FeatureBucket) (allow bool, reason string, sizeMultiplier float64) {
	c.call(func(s *state) {
		if until, blocked := s.blocked[bucket]; blocked && c.clk.Now().Before(until) {
			allow, reason, sizeMultiplier = false, "pattern_block", 0
			return
		}
		allow, reason, sizeMultiplier = true, "", weightOf(s, bucket)
	})
	return allow, reason, sizeMultiplier
}

// RunEODLearning generates one insight per bucket with enough samples and
// auto-applies it subject to the safety guard (auto-reject low confidence,
// <=5 applied/day, and the whole apply phase gated to run at most once
// every 24h). No separate shadow test of a proposal against historical
// trades is run before it is applied. Call once per trading day after the
// session closes.
func (c *Controller) RunEODLearning(now time.Time) []Insight {
	var out []Insight
	c.call(func(s *state) {
		today := now.YearDay()
		if s.lastAppliedDay != today {
			s.appliedToday = 0
			s.lastAppliedDay = today
		}
		s.lastEODRun = now

		// Evaluated once per run: gates the whole apply phase, not each
		// insight individually, so a single EOD run can still commit up to
		// MaxAppliedPerDay insights.
		phaseGateOpen := s.lastApplyAt.IsZero() || now.Sub(s.lastApplyAt) >= c.cfg.MinHoursBetweenApply

		for bucket, bp := range s.buckets {
			insight := c.proposeInsight(s, bucket, bp)
			if insight.Action != ActionHold && phaseGateOpen && c.safetyGuardAllows(s, insight) {
				c.apply(s, now, &insight)
			}
			out = append(out, insight)
		}
	})
	return out
}

// proposeInsight implements the §4.6 thresholding: win-rate bands decide
// AMPLIFY/RESTRICT, and a standalone consecutive-loss streak decides BLOCK
// ahead of the win-rate bands (a recurring loss pattern overrides a
// high-water-mark win rate computed over the same noisy sample).
func (c *Controller) proposeInsight(s *state, bucket domain.FeatureBucket, bp *domain.BucketPerformance) Insight {
	if bp.Count < c.cfg.MinSampleSize {
		return Insight{Bucket: bucket, Action: ActionHold, Reason: "below_min_sample_size"}
	}

	streak := s.streaks[bucket]
	if streak >= c.cfg.BlockMinLosses {
		severity := "high_loss_pattern"
		if streak >= c.cfg.BlockMinLosses*2 {
			severity = "critical_loss_pattern"
		}
		return Insight{Bucket: bucket, Action: ActionBlock, Confidence: confidenceFor(bp, s.regime), Reason: severity}
	}

	switch {
	case bp.WinRate >= c.cfg.AmplifyWinRate:
		target := clampWeight(weightOf(s, bucket)+0.2, c.cfg)
		return Insight{Bucket: bucket, Action: ActionAmplify, Confidence: confidenceFor(bp, s.regime), ProposedWeight: target, Reason: "win_rate_above_amplify_threshold"}
	case bp.WinRate <= c.cfg.RestrictWinRate:
		target := clampWeight(weightOf(s, bucket)-0.2, c.cfg)
		return Insight{Bucket: bucket, Action: ActionRestrict, Confidence: confidenceFor(bp, s.regime), ProposedWeight: target, Reason: "win_rate_below_restrict_threshold"}
	default:
		return Insight{Bucket: bucket, Action: ActionHold, Reason: "win_rate_within_neutral_band"}
	}
}

// confidenceFor blends historical bucket success (0.4), regime match
// (0.25), recent performance (0.2), and sample adequacy (0.15) per §4.6.
func confidenceFor(bp *domain.BucketPerformance, regime domain.MarketRegime) float64 {
	successComponent := bp.WinRate
	regimeMatch := 0.5
	if regime == domain.RegimeTrendingBull || regime == domain.RegimeTrendingBear {
		regimeMatch = 0.8
	} else if regime == domain.RegimeHighVol || regime == domain.RegimeEventDriven {
		regimeMatch = 0.3
	}
	recentPerf := 0.5
	if bp.TotalPnL.IsPositive() {
		recentPerf = 0.7
	} else if bp.TotalPnL.IsNegative() {
		recentPerf = 0.3
	}
	sampleAdequacy := float64(bp.Count) / float64(bp.Count+20) // asymptotes to 1 as count grows
	return 0.4*successComponent + 0.25*regimeMatch + 0.2*recentPerf + 0.15*sampleAdequacy
}

func clampWeight(w float64, cfg config.AdaptiveConfig) float64 {
	if w < cfg.WeightMin {
		return cfg.WeightMin
	}
	if w > cfg.WeightMax {
		return cfg.WeightMax
	}
	return w
}

// safetyGuardAllows enforces the per-insight half of §4.6's guard: <=5
// applied per day, and auto-reject of low-confidence proposals (below LOW
// tier never auto-applies). The min-24h-between-apply-phases half is
// evaluated once per RunEODLearning call by the caller (phaseGateOpen),
// not per insight.
func (c *Controller) safetyGuardAllows(s *state, insight Insight) bool {
	if LevelFor(insight.Confidence) == ConfidenceVeryLow {
		return false
	}
	if s.appliedToday >= c.cfg.MaxAppliedPerDay {
		return false
	}
	return true
}

// apply commits an insight's effect to weights/blocks and advances the
// per-day application budget.
func (c *Controller) apply(s *state, now time.Time, insight *Insight) {
	switch insight.Action {
	case ActionAmplify, ActionRestrict:
		current := weightOf(s, insight.Bucket)
		delta := insight.ProposedWeight - current
		if delta > c.cfg.WeightMaxDeltaPerProposal {
			delta = c.cfg.WeightMaxDeltaPerProposal
		} else if delta < -c.cfg.WeightMaxDeltaPerProposal {
			delta = -c.cfg.WeightMaxDeltaPerProposal
		}
		s.weights[insight.Bucket] = clampWeight(current+delta, c.cfg)
	case ActionBlock:
		blockFor := c.cfg.BlockHighHours
		if s.streaks[insight.Bucket] >= c.cfg.BlockMinLosses*2 {
			blockFor = c.cfg.BlockCriticalHours
		}
		s.blocked[insight.Bucket] = now.Add(blockFor)
	}
	insight.Applied = true
	s.appliedToday++
	s.lastApplyAt = now
	c.log.Info().Str("bucket_action", string(insight.Action)).Float64("confidence", insight.Confidence).Msg("adaptive: insight applied")
}

// EmergencyReset clears every learned weight, block, bucket record and loss
// streak back to baseline (§4.6 "emergency reset to baseline"), used by the
// §6.5 control surface.
func (c *Controller) EmergencyReset() {
	c.call(func(s *state) {
		s.buckets = make(map[domain.FeatureBucket]*domain.BucketPerformance)
		s.weights = make(map[domain.FeatureBucket]float64)
		s.blocked = make(map[domain.FeatureBucket]time.Time)
		s.streaks = make(map[domain.FeatureBucket]int)
		s.appliedToday = 0
		c.log.Warn().Msg("adaptive: emergency reset to baseline")
	})
}

// Status is a read-only snapshot for the §6.5 control surface.
type Status struct {
	Regime          domain.MarketRegime
	AppliedToday    int
	BucketsTracked  int
	BlockedBuckets  int
	LastEODRun      time.Time
}

func (c *Controller) Status() Status {
	var out Status
	c.call(func(s *state) {
		out = Status{
			Regime:         s.regime,
			AppliedToday:   s.appliedToday,
			BucketsTracked: len(s.buckets),
			BlockedBuckets: len(s.blocked),
			LastEODRun:     s.lastEODRun,
		}
	})
	return out
}

// Close stops the actor goroutine.
func (c *Controller) Close() { close(c.cmds) }
