// Package risk is the capital-protection gate of §4.5: a single-writer
// actor reached by a command channel, exactly as §5 requires for
// cross-cutting state (no mutex on the hot path; state lives in one
// goroutine). Grounded on other_examples/.../risk-gate.go's ordered
// hard-blocks -> size-adjust -> risk-score CanEnter shape, adapted from a
// multi-asset crypto position book down to per-underlying options capacity
// and Indian-market cooldown/circuit-breaker rules.
package risk

import (
	"time"

	"optionscalp/clock"
	"optionscalp/config"
	"optionscalp/domain"
	"optionscalp/logger"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// EntryApproval is the verdict for a proposed entry.
type EntryApproval struct {
	Approved bool
	Reason   string
	Qty      decimal.Decimal
	RiskScore float64
}

// Stats is the read-only snapshot returned by GetStats, mirrored into the
// §6.5 control-surface /status payload.
type Stats struct {
	DailyPnL              decimal.Decimal
	DailyLossLimit        decimal.Decimal
	ConsecutiveLosses     int
	CircuitTripped        bool
	KillSwitchEngaged     bool
	OpenPositions         map[string]int
	LastFlashCrashAt      time.Time
	APIFailurePausedUntil time.Time
}

// command is one request dispatched to the single run() goroutine; call()
// wraps it so the caller blocks on a done channel the command closes.
type command func(s *state)

// Manager is the public, concurrency-safe handle callers use; all mutable
// state lives inside the run() goroutine, never touched by caller
// goroutines directly.
type Manager struct {
	cfg   config.RiskConfig
	clk   clock.Clock
	cmds  chan command
	log   *zerolog.Logger
	regime func() domain.MarketRegime // read-only cross-package dependency on adaptive's last-committed regime, never a write-back
}

// state is private to the run() goroutine.
type state struct {
	dailyPnL          decimal.Decimal
	dailyStartEquity  decimal.Decimal
	consecutiveLosses int
	circuitTripped    bool
	circuitTrippedAt  time.Time
	killSwitch        bool
	lastResetDay      int

	openPositions map[string]int
	lastExitAt    map[string]time.Time

	lastFeedAt            time.Time
	apiFailureStreak      int
	apiFailurePausedUntil time.Time

	flashCrashWindowStart time.Time
	flashCrashRefPrice    decimal.Decimal
	flashCrashPausedUntil time.Time
}

// NewManager starts the single-writer actor goroutine and returns a handle.
// regimeFn reads adaptive's last-committed regime snapshot (§4.5 "HIGH_VOL
// regime multiplies all cooldowns x1.5"); it must never block.
func NewManager(cfg config.RiskConfig, clk clock.Clock, startEquity decimal.Decimal, regimeFn func() domain.MarketRegime) *Manager {
	if regimeFn == nil {
		regimeFn = func() domain.MarketRegime { return domain.RegimeNormal }
	}
	m := &Manager{
		cfg:    cfg,
		clk:    clk,
		cmds:   make(chan command, 64),
		log:    logger.L(),
		regime: regimeFn,
	}
	s := &state{
		dailyStartEquity: startEquity,
		openPositions:    make(map[string]int),
		lastExitAt:       make(map[string]time.Time),
		lastFeedAt:       clk.Now(),
		lastResetDay:     clk.Now().YearDay(),
	}
	go m.run(s)
	return m
}

func (m *Manager) run(s *state) {
	for cmd := range m.cmds {
		cmd(s)
	}
}

// call dispatches cmd and blocks for its side effect to complete, giving
// callers a synchronous API over the actor without ever sharing state.
func (m *Manager) call(fn func(s *state)) {
	done := make(chan struct{})
	m.cmds <- func(s *state) {
		fn(s)
		close(done)
	}
	<-done
}

func (m *Manager) checkDayReset(s *state, equity decimal.Decimal) {
	today := m.clk.Now().YearDay()
	if s.lastResetDay != today {
		s.dailyPnL = decimal.Zero
		s.dailyStartEquity = equity
		s.consecutiveLosses = 0
		s.circuitTripped = false
		s.lastResetDay = today
		m.log.Info().Msg("risk: daily stats reset")
	}
}

// HasCapacity implements entry.RiskGate: hard-block ordering per §4.5 —
// kill switch, circuit breaker, API-failure pause, daily loss limit, data
// staleness, flash-crash pause, concurrent-position cap, then cooldown.
func (m *Manager) HasCapacity(underlying string) (ok bool, reason string) {
	m.call(func(s *state) {
		m.checkDayReset(s, s.dailyStartEquity.Add(s.dailyPnL))

		if s.killSwitch {
			ok, reason = false, "kill_switch"
			return
		}
		if s.circuitTripped {
			ok, reason = false, "circuit_breaker"
			return
		}
		if m.clk.Now().Before(s.apiFailurePausedUntil) {
			ok, reason = false, "api_failure_pause"
			return
		}
		if s.dailyPnL.LessThanOrEqual(decimal.NewFromFloat(-m.cfg.DailyLossLimit)) {
			ok, reason = false, "daily_loss_limit"
			return
		}
		if age := m.clk.Now().Sub(s.lastFeedAt); age > m.cfg.ForceFlatAfterStale {
			ok, reason = false, "data_stale_force_flat"
			return
		}
		if m.clk.Now().Before(s.flashCrashPausedUntil) {
			ok, reason = false, "flash_crash_pause"
			return
		}
		if s.openPositions[underlying] >= m.cfg.MaxConcurrent {
			ok, reason = false, "max_concurrent"
			return
		}
		if cd := m.cooldownRemaining(s, underlying); cd > 0 {
			ok, reason = false, "cooldown"
			return
		}
		ok, reason = true, ""
	})
	return ok, reason
}

// cooldownRemaining returns the time left in the per-underlying cooldown,
// scaled x1.5 under the adaptive-reported HIGH_VOL regime.
func (m *Manager) cooldownRemaining(s *state, underlying string) time.Duration {
	last, ok := s.lastExitAt[underlying]
	if !ok {
		return 0
	}
	cooldown := m.cfg.WinCooldown
	if s.consecutiveLosses > 0 {
		cooldown = m.cfg.LossCooldown
		if s.consecutiveLosses >= m.cfg.MaxConsecutiveLosses-1 {
			cooldown = m.cfg.ExtendedCooldown
		}
	}
	if m.regime() == domain.RegimeHighVol {
		cooldown = time.Duration(float64(cooldown) * m.cfg.HighVolCooldownMult)
	}
	elapsed := m.clk.Now().Sub(last)
	if elapsed >= cooldown {
		return 0
	}
	return cooldown - elapsed
}

// Size implements entry.RiskGate, producing a volatility-adjusted size
// clamped to [MinQty, MaxQty]. It does not read UseKellySizing and never
// returns a Kelly-fraction size; see KellySize.
func (m *Manager) Size(underlying string, iv float64) decimal.Decimal {
	qty := m.cfg.BaseQty
	if iv > 0 {
		// higher IV -> smaller clips, same notional risk budget
		adj := 0.20 / iv
		if adj > 1.5 {
			adj = 1.5
		}
		if adj < 0.5 {
			adj = 0.5
		}
		qty *= adj
	}
	if qty < m.cfg.MinQty {
		qty = m.cfg.MinQty
	}
	if qty > m.cfg.MaxQty {
		qty = m.cfg.MaxQty
	}
	return decimal.NewFromFloat(qty).Round(0)
}

// KellySize computes the Kelly-fraction size from trailing win rate p and
// average win/loss ratio b, f=KellyFraction*(p*b-q)/b clamped to
// [0, KellyMaxF] (§4.5). Nothing in this module calls it, and setting
// UseKellySizing does not switch entries from Size to KellySize.
func (m *Manager) KellySize(p, b float64, equity decimal.Decimal) decimal.Decimal {
	if b <= 0 {
		return decimal.NewFromFloat(m.cfg.MinQty)
	}
	q := 1 - p
	f := m.cfg.KellyFraction * (p*b - q) / b
	if f < 0 {
		f = 0
	}
	if f > m.cfg.KellyMaxF {
		f = m.cfg.KellyMaxF
	}
	qty, _ := equity.Mul(decimal.NewFromFloat(f)).Float64()
	if qty < m.cfg.MinQty {
		qty = m.cfg.MinQty
	}
	if qty > m.cfg.MaxQty {
		qty = m.cfg.MaxQty
	}
	return decimal.NewFromFloat(qty).Round(0)
}

// MarkEntered records an open position for capacity accounting.
func (m *Manager) MarkEntered(underlying string) {
	m.call(func(s *state) { s.openPositions[underlying]++ })
}

// RecordExit applies a realized pnl to daily/consecutive-loss state,
// releases the position slot, starts the per-underlying cooldown, and
// trips the circuit breaker on MaxConsecutiveLosses (§4.5).
func (m *Manager) RecordExit(underlying string, pnl decimal.Decimal) {
	m.call(func(s *state) {
		s.dailyPnL = s.dailyPnL.Add(pnl)
		if s.openPositions[underlying] > 0 {
			s.openPositions[underlying]--
		}
		s.lastExitAt[underlying] = m.clk.Now()

		if pnl.IsNegative() {
			s.consecutiveLosses++
			if s.consecutiveLosses >= m.cfg.MaxConsecutiveLosses {
				s.circuitTripped = true
				s.circuitTrippedAt = m.clk.Now()
				m.log.Warn().Int("consecutive_losses", s.consecutiveLosses).Msg("risk: circuit breaker tripped")
			}
		} else {
			s.consecutiveLosses = 0
		}
	})
}

// RecordFeedTick marks the feed as alive, resetting the staleness
// fail-safe clock (§4.5 "data-freshness fail-safe").
func (m *Manager) RecordFeedTick(at time.Time, price decimal.Decimal) {
	m.call(func(s *state) {
		s.lastFeedAt = at
		m.checkFlashCrash(s, at, price)
	})
}

// checkFlashCrash pauses entries for FlashCrashPause when price moves more
// than FlashCrashPct within FlashCrashWindow (§4.5).
func (m *Manager) checkFlashCrash(s *state, at time.Time, price decimal.Decimal) {
	if price.IsZero() {
		return
	}
	if s.flashCrashWindowStart.IsZero() || at.Sub(s.flashCrashWindowStart) > m.cfg.FlashCrashWindow {
		s.flashCrashWindowStart = at
		s.flashCrashRefPrice = price
		return
	}
	if s.flashCrashRefPrice.IsZero() {
		return
	}
	moveF, _ := price.Sub(s.flashCrashRefPrice).Div(s.flashCrashRefPrice).Float64()
	if moveF < 0 {
		moveF = -moveF
	}
	if moveF >= m.cfg.FlashCrashPct {
		s.flashCrashPausedUntil = at.Add(m.cfg.FlashCrashPause)
		m.log.Warn().Float64("move_pct", moveF).Msg("risk: flash-crash pause engaged")
	}
}

// RecordBrokerFailure tracks consecutive broker API failures, pausing new
// entries for APIFailurePause once the streak reaches APIFailureStreak
// (§4.5). Unlike the kill switch, this pause clears itself: a handful of
// transient broker blips shouldn't require a human to clear /kill-switch.
func (m *Manager) RecordBrokerFailure(failed bool) {
	m.call(func(s *state) {
		if !failed {
			s.apiFailureStreak = 0
			return
		}
		s.apiFailureStreak++
		if s.apiFailureStreak >= m.cfg.APIFailureStreak {
			s.apiFailurePausedUntil = m.clk.Now().Add(m.cfg.APIFailurePause)
			m.log.Error().Int("streak", s.apiFailureStreak).Time("until", s.apiFailurePausedUntil).Msg("risk: api failure pause engaged after broker failure streak")
		}
	})
}

// EngageKillSwitch / ReleaseKillSwitch back the §6.5 control-surface
// POST/DELETE /kill-switch endpoints.
func (m *Manager) EngageKillSwitch() { m.call(func(s *state) { s.killSwitch = true }) }
func (m *Manager) ReleaseKillSwitch() {
	m.call(func(s *state) {
		s.killSwitch = false
		s.circuitTripped = false
		s.consecutiveLosses = 0
	})
}

// GetStats returns a read-only snapshot for journaling/the control surface.
func (m *Manager) GetStats() Stats {
	var out Stats
	m.call(func(s *state) {
		positions := make(map[string]int, len(s.openPositions))
		for k, v := range s.openPositions {
			positions[k] = v
		}
		out = Stats{
			DailyPnL:              s.dailyPnL,
			DailyLossLimit:        decimal.NewFromFloat(m.cfg.DailyLossLimit),
			ConsecutiveLosses:     s.consecutiveLosses,
			CircuitTripped:        s.circuitTripped,
			KillSwitchEngaged:     s.killSwitch,
			OpenPositions:         positions,
			LastFlashCrashAt:      s.flashCrashWindowStart,
			APIFailurePausedUntil: s.apiFailurePausedUntil,
		}
	})
	return out
}

// Close stops the actor goroutine; callers must not invoke any other
// method afterward.
func (m *Manager) Close() { close(m.cmds) }
