package orchestrator

import (
	"context"
	"fmt"
	"time"

	"optionscalp/adaptive"
	"optionscalp/bias"
	"optionscalp/broker"
	"optionscalp/clock"
	"optionscalp/config"
	"optionscalp/domain"
	"optionscalp/entry"
	"optionscalp/exit"
	"optionscalp/feed"
	"optionscalp/greeks"
	"optionscalp/journal"
	"optionscalp/logger"
	"optionscalp/metrics"
	"optionscalp/risk"
	"optionscalp/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// positionTracking holds the per-open-trade state the exit detectors need
// that isn't carried on domain.Trade itself: rolling peaks and the
// at-entry readings everything else is measured against.
type positionTracking struct {
	entryGreeks      domain.GreeksSnapshot
	gammaPeak        float64
	dominanceAtEntry float64
	oiAtEntrySide    int64 // OI on the trade's own side at entry, for unwind%
	oiAtEntryOpp     int64 // OI on the opposite side at entry, for build%
	volumeHistory    []int64
}

func newPositionTracking(g domain.GreeksSnapshot, dominance float64, oiSide, oiOpp int64) *positionTracking {
	return &positionTracking{entryGreeks: g, gammaPeak: g.Gamma, dominanceAtEntry: dominance, oiAtEntrySide: oiSide, oiAtEntryOpp: oiOpp}
}

func (p *positionTracking) observe(g domain.GreeksSnapshot, volume int64) {
	if g.Gamma > p.gammaPeak {
		p.gammaPeak = g.Gamma
	}
	p.volumeHistory = append(p.volumeHistory, volume)
	if len(p.volumeHistory) > 20 {
		p.volumeHistory = p.volumeHistory[len(p.volumeHistory)-20:]
	}
}

func (p *positionTracking) volumeRollingMean() float64 {
	if len(p.volumeHistory) == 0 {
		return 0
	}
	var sum int64
	for _, v := range p.volumeHistory {
		sum += v
	}
	return float64(sum) / float64(len(p.volumeHistory))
}

// Loop is one underlying's single-writer event loop: pull (feed channels)
// -> update_greeks -> update_bias -> try_entry|evaluate_exits -> persist ->
// sleep, exactly the stage order of §4.7, grounded in the teacher's
// AutoTrader.Run()'s ticker-select loop generalized from a fixed scan
// interval to feed-event-driven scheduling plus a housekeeping ticker for
// time-only triggers (TIME_FORCED can fire with no new tick).
type Loop struct {
	underlying string
	cfg        config.Config
	clk        clock.Clock

	feed     feed.Feed
	broker   broker.Broker
	greeks   *greeks.Engine
	bias     *bias.Tracker
	risk     *risk.Manager
	adaptive *adaptive.Controller
	journal  *journal.Journal
	sink     store.PersistenceSink

	housekeep time.Duration

	lastChain  domain.Chain
	lastTickAt time.Time
	haveChain  bool

	openTrade *domain.Trade
	track     *positionTracking

	stop chan struct{}
	done chan struct{}
}

// Deps bundles the collaborators one Loop wires together.
type Deps struct {
	Underlying string
	Cfg        config.Config
	Clock      clock.Clock
	Feed       feed.Feed
	Broker     broker.Broker
	Greeks     *greeks.Engine
	Bias       *bias.Tracker
	Risk       *risk.Manager
	Adaptive   *adaptive.Controller
	Journal    *journal.Journal
	Sink       store.PersistenceSink
	Housekeep  time.Duration // ticker period for time-only exit re-evaluation; default 1s
}

// NewLoop constructs a Loop ready to Run.
func NewLoop(d Deps) *Loop {
	hk := d.Housekeep
	if hk <= 0 {
		hk = time.Second
	}
	return &Loop{
		underlying: d.Underlying,
		cfg:        d.Cfg,
		clk:        d.Clock,
		feed:       d.Feed,
		broker:     d.Broker,
		greeks:     d.Greeks,
		bias:       d.Bias,
		risk:       d.Risk,
		adaptive:   d.Adaptive,
		journal:    d.Journal,
		sink:       d.Sink,
		housekeep:  hk,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run drives the loop until ctx is cancelled or the feed channels close.
// On cancellation it flattens any open position before returning, mirroring
// the teacher's Stop() shutdown shape generalized to cancel-pending ->
// flat-open -> persist -> exit (§5).
func (l *Loop) Run(ctx context.Context) error {
	metrics.OrchestratorRunning.WithLabelValues(l.underlying).Set(1)
	defer metrics.OrchestratorRunning.WithLabelValues(l.underlying).Set(0)
	defer close(l.done)
	ticker := time.NewTicker(l.housekeep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.flattenOnShutdown(context.Background())
			return ctx.Err()
		case <-l.stop:
			l.flattenOnShutdown(context.Background())
			return nil
		case cu, ok := <-l.feed.Chains():
			if !ok {
				return nil
			}
			l.onChainUpdate(ctx, cu.Chain)
		case tick, ok := <-l.feed.Ticks():
			if !ok {
				return nil
			}
			l.onTick(tick)
		case <-ticker.C:
			l.onHousekeep(ctx)
		}
	}
}

// Stop requests a graceful shutdown without requiring a context.
func (l *Loop) Stop() {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
	<-l.done
}

func (l *Loop) onTick(t domain.Tick) {
	l.lastTickAt = l.clk.Now()
	l.risk.RecordFeedTick(t.Wall, t.LTP)
}

// onChainUpdate runs the pull->update_greeks->update_bias stages, persists
// the cycle's ATM CE Greeks and bias observations, then dispatches to
// try_entry or evaluate_exits depending on whether a trade is already open.
func (l *Loop) onChainUpdate(ctx context.Context, c domain.Chain) {
	start := l.clk.Now()
	defer func() {
		metrics.OrchestratorCycleDuration.WithLabelValues(l.underlying).Observe(l.clk.Now().Sub(start).Seconds())
	}()

	now := l.clk.Now()
	updated, agg, err := l.greeks.UpdateChain(c, now)
	if err != nil {
		logger.L().Warn().Err(err).Str("underlying", l.underlying).Msg("orchestrator: chain validation failed, skipping cycle")
		return
	}
	l.lastChain = updated
	l.haveChain = true
	l.lastTickAt = now

	biasState := l.bias.Update(updated, agg.DirectionBias)

	if l.sink != nil {
		atmIdx := updated.ATMIndex()
		if atmIdx >= 0 {
			row := updated.Rows[atmIdx]
			if row.CE != nil {
				_ = l.sink.SaveGreeksSnapshot(ctx, fmt.Sprintf("%s|CE|%d", l.underlying, row.Strike), row.CE.Greeks)
			}
		}
		_ = l.sink.SaveBiasState(ctx, l.underlying, biasState, now)
	}

	if l.openTrade == nil {
		l.tryEntry(ctx, now, agg.Health, biasState, updated)
	} else {
		l.evaluateExits(ctx, now, updated)
	}
}

// onHousekeep re-evaluates exits on wall-clock cadence alone, so TIME_FORCED
// (lunch lockout, forced-flat cutoff, max hold) and the DATA_STALE
// fail-safe still fire between chain updates — including when the feed has
// stopped delivering chain updates at all.
func (l *Loop) onHousekeep(ctx context.Context) {
	if l.openTrade != nil && l.haveChain {
		l.evaluateExits(ctx, l.clk.Now(), l.lastChain)
	}
}

func (l *Loop) tryEntry(ctx context.Context, now time.Time, health domain.HealthStatus, biasState domain.BiasState, chain domain.Chain) {
	session, err := EvaluateSession(now, l.cfg.Session)
	if err != nil {
		logger.L().Error().Err(err).Msg("orchestrator: session evaluation failed")
		return
	}

	bucket := bucketFor(now, l.cfg.Session, biasState, chain)
	entryCtx := entry.Context{
		Now:        now,
		Underlying: l.underlying,
		LastTickAt: l.lastTickAt,
		Health:     health,
		Bias:       biasState,
		Chain:      chain,
		FakeMoveLocked: func(key string) bool {
			return l.greeks.IsLocked(key, now)
		},
		Bucket:    bucket,
		SessionOK: session.SessionOK(),
	}

	decision := entry.Decide(entryCtx, l.cfg.Entry, l.adaptive, l.risk)
	if decision.Intent == nil {
		if decision.Reason != entry.ReasonNone {
			metrics.EntryGateRejectionsTotal.WithLabelValues(l.underlying, string(decision.Reason)).Inc()
		}
		return
	}
	intent := decision.Intent
	metrics.EntryQualityScore.WithLabelValues(l.underlying).Observe(intent.QualityScore)

	callCtx, cancel := context.WithTimeout(ctx, l.cfg.Risk.BrokerCallDeadline)
	defer cancel()
	req := broker.OrderRequest{Instrument: intent.Instrument, Side: intent.Side, Qty: intent.SuggestedQty}
	orderID, err := l.broker.PlaceOrder(callCtx, req)
	if err != nil {
		l.risk.RecordBrokerFailure(true)
		logger.L().Warn().Err(err).Str("instrument", intent.Instrument.Key()).Msg("orchestrator: entry order failed")
		return
	}
	l.risk.RecordBrokerFailure(false)

	leg, _ := chain.RowAt(intent.Instrument.Strike)
	var ltp, bid, ask decimal.Decimal
	var oiSelf, oiOpp int64
	dominance := greeks.DetectZones(chain, l.cfg.Greeks).Dominance
	if intent.Instrument.Type == domain.CE && leg.CE != nil {
		ltp, bid, ask = leg.CE.Tick.LTP, leg.CE.Tick.BidPrice, leg.CE.Tick.AskPrice
		oiSelf, oiOpp = leg.CE.Tick.OI, oiIfPresent(leg.PE)
	} else if leg.PE != nil {
		ltp, bid, ask = leg.PE.Tick.LTP, leg.PE.Tick.BidPrice, leg.PE.Tick.AskPrice
		oiSelf, oiOpp = leg.PE.Tick.OI, oiIfPresent(leg.CE)
	}

	entryGreeks := greeksFor(leg, intent.Instrument.Type)
	trade := domain.Trade{
		ID:         uuid.New(),
		Instrument: intent.Instrument,
		Side:       intent.Side,
		Qty:        domain.TradeQty{Total: intent.SuggestedQty, Remaining: intent.SuggestedQty},
		Entry: domain.EntryContext{
			At: now, Price: ltp, Greeks: entryGreeks, OI: oiSelf, BidPrice: bid, AskPrice: ask,
		},
		Protective: domain.ProtectiveLevels{
			InitialSL: ltp.Mul(decimal.NewFromFloat(1 - l.cfg.Exit.HardSLPct)),
		},
		State:    domain.StatePending,
		OpenedAt: now,
	}
	_ = trade.Apply(domain.StateOpen)

	l.risk.MarkEntered(l.underlying)
	l.track = newPositionTracking(entryGreeks, dominance, oiSelf, oiOpp)
	l.openTrade = &trade
	metrics.EntriesTakenTotal.WithLabelValues(l.underlying, string(intent.Side)).Inc()

	if l.journal != nil {
		if err := l.journal.RecordOpen(ctx, trade); err != nil {
			logger.L().Error().Err(err).Msg("orchestrator: failed to journal trade open")
		}
	}
	logger.L().Info().Str("order_id", string(orderID)).Str("instrument", trade.Instrument.Key()).Msg("orchestrator: entry placed")
}

func oiIfPresent(leg *domain.Leg) int64 {
	if leg == nil {
		return 0
	}
	return leg.Tick.OI
}

func greeksFor(row domain.OptionRow, typ domain.OptionType) domain.GreeksSnapshot {
	if typ == domain.CE && row.CE != nil {
		return row.CE.Greeks
	}
	if typ == domain.PE && row.PE != nil {
		return row.PE.Greeks
	}
	return domain.GreeksSnapshot{}
}

func (l *Loop) evaluateExits(ctx context.Context, now time.Time, chain domain.Chain) {
	trade := l.openTrade
	row, ok := chain.RowAt(trade.Instrument.Strike)
	if !ok {
		return
	}
	curGreeks := greeksFor(row, trade.Instrument.Type)
	var curPrice decimal.Decimal
	var volumeNow int64
	var oiSelf, oiOpp int64
	if trade.Instrument.Type == domain.CE && row.CE != nil {
		curPrice, volumeNow, oiSelf = row.CE.Tick.LTP, row.CE.Tick.Volume, row.CE.Tick.OI
		oiOpp = oiIfPresent(row.PE)
	} else if row.PE != nil {
		curPrice, volumeNow, oiSelf = row.PE.Tick.LTP, row.PE.Tick.Volume, row.PE.Tick.OI
		oiOpp = oiIfPresent(row.CE)
	}

	l.track.observe(curGreeks, volumeNow)
	zones := greeks.DetectZones(chain, l.cfg.Greeks)

	session, err := EvaluateSession(now, l.cfg.Session)
	if err != nil {
		logger.L().Error().Err(err).Msg("orchestrator: session evaluation failed")
		return
	}

	var oiUnwindPct, oppositeBuildPct float64
	if l.track.oiAtEntrySide > 0 {
		oiUnwindPct = 1 - float64(oiSelf)/float64(l.track.oiAtEntrySide)
	}
	if l.track.oiAtEntryOpp > 0 {
		oppositeBuildPct = float64(oiOpp)/float64(l.track.oiAtEntryOpp) - 1
	}
	dominanceFlipped := (l.track.dominanceAtEntry > 0) != (zones.Dominance > 0) && zones.Dominance != 0 && l.track.dominanceAtEntry != 0

	in := exit.Inputs{
		Now:                    now,
		Trade:                  *trade,
		CurrentPrice:           curPrice,
		Greeks:                 curGreeks,
		PrevGreeks:             l.track.entryGreeks,
		GammaPeakSinceEntry:    l.track.gammaPeak,
		VolumeNow:              volumeNow,
		VolumeRollingMean:      l.track.volumeRollingMean(),
		OIUnwindPct:            oiUnwindPct,
		DominanceFlipped:       dominanceFlipped,
		OppositeSideOIBuildPct: oppositeBuildPct,
		IVAtEntry:              l.track.entryGreeks.IV,
		HoldDuration:           now.Sub(trade.OpenedAt),
		Session: exit.SessionInfo{
			ApproachingLunchLockout: session.ApproachingLunchLockout,
			PastForcedFlatCutoff:    session.PastForcedFlatCutoff,
		},
		DataStale: now.Sub(l.lastTickAt) > l.cfg.Risk.ForceFlatAfterStale,
	}

	signals := exit.Evaluate(in, l.cfg.Exit)
	for _, s := range signals {
		metrics.ExitSignalsFiredTotal.WithLabelValues(l.underlying, string(s.Kind)).Inc()
	}
	winner := exit.Arbitrate(signals)
	if winner.Kind == domain.ExitNoAction {
		return
	}
	metrics.ExitArbitrationWinnerTotal.WithLabelValues(l.underlying, string(winner.Kind)).Inc()

	l.executeExit(ctx, now, winner, curPrice)
}

// executeExit places the close order (escalating on broker failure per
// §4.4), folds the result into the Trade FSM, and on a full close releases
// the risk slot and feeds the adaptive controller's learning loop.
func (l *Loop) executeExit(ctx context.Context, now time.Time, sig exit.Signal, curPrice decimal.Decimal) {
	trade := l.openTrade
	qty := sig.Qty
	if qty.IsZero() {
		qty = trade.Qty.Remaining
	}
	isFull := qty.GreaterThanOrEqual(trade.Qty.Remaining)

	closeSide := domain.Short
	if trade.Side == domain.Short {
		closeSide = domain.Long
	}
	req := broker.OrderRequest{Instrument: trade.Instrument, Side: closeSide, Qty: qty, Price: curPrice}
	res := broker.CloseWithEscalation(ctx, l.broker, req, l.cfg.Exit.OrderRetryWindow)
	if res.Escalated {
		metrics.ExitEscalationsTotal.WithLabelValues(l.underlying).Inc()
	}
	if res.NakedRisk {
		trade.NakedRisk = true
		metrics.ExitNakedRiskTotal.WithLabelValues(l.underlying).Inc()
		logger.L().Error().Str("instrument", trade.Instrument.Key()).Msg("orchestrator: exit failed, position left naked")
	}

	ev := domain.ExitEvent{
		ID: uuid.New(), At: now, Kind: sig.Kind, Confidence: sig.Confidence, Qty: qty, Price: curPrice, Reason: sig.Reason,
	}
	trade.AddExit(ev)

	pnl := qty.Mul(curPrice.Sub(trade.Entry.Price))
	trade.RealizedPnL = trade.RealizedPnL.Add(pnl)

	if !isFull {
		_ = trade.Apply(domain.StatePartialExitPending)
		_ = trade.Apply(domain.StatePartialExitDone)
		trade.PartialDone = true
		if l.journal != nil {
			_ = l.journal.RecordExit(ctx, *trade, ev)
		}
		return
	}

	_ = trade.Apply(domain.StateClosePending)
	_ = trade.Apply(domain.StateClosed)
	trade.ClosedAt = now

	l.risk.RecordExit(l.underlying, trade.RealizedPnL)
	if l.adaptive != nil {
		l.adaptive.RecordTrade(bucketFromTrade(*trade, now, l.cfg.Session), floatPnL(trade.RealizedPnL), now)
	}
	if l.journal != nil {
		score, err := l.journal.RecordClose(ctx, *trade)
		if err != nil {
			logger.L().Error().Err(err).Msg("orchestrator: failed to journal trade close")
		} else {
			metrics.JournalTradeQualityScore.WithLabelValues(l.underlying).Observe(score)
		}
	}

	stats := l.risk.GetStats()
	dailyPnL, _ := stats.DailyPnL.Float64()
	metrics.RiskDailyPnL.Set(dailyPnL)
	metrics.RiskConsecutiveLosses.WithLabelValues(l.underlying).Set(float64(stats.ConsecutiveLosses))
	metrics.RiskOpenPositions.WithLabelValues(l.underlying).Set(float64(stats.OpenPositions[l.underlying]))

	l.openTrade = nil
	l.track = nil
}

func floatPnL(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// flattenOnShutdown implements §5's cancel-pending -> flat-open -> persist
// -> exit shutdown sequence: any open trade is closed at the last known
// price rather than left to the next restart.
func (l *Loop) flattenOnShutdown(ctx context.Context) {
	if l.openTrade == nil {
		return
	}
	price := l.openTrade.Entry.Price
	if row, ok := l.lastChain.RowAt(l.openTrade.Instrument.Strike); ok {
		if l.openTrade.Instrument.Type == domain.CE && row.CE != nil {
			price = row.CE.Tick.LTP
		} else if row.PE != nil {
			price = row.PE.Tick.LTP
		}
	}
	l.executeExit(ctx, l.clk.Now(), exit.Signal{Kind: domain.ExitForcedFlat, Priority: 1, Confidence: 1, Reason: "shutdown"}, price)
}
