package greeks

import (
	"math"
	"sync"
	"time"

	"optionscalp/config"
	"optionscalp/domain"
)

// Engine is the single writer of the Greeks cache for one underlying/expiry
// chain. It is not safe for concurrent writers (by design — §5: "Greeks
// cache: single-writer"); readers should call Aggregate() for a
// copy-on-write snapshot.
type Engine struct {
	cfg     config.GreeksConfig
	history map[string]*History // by Instrument.Key()
	locks   *LockRegistry

	mu         sync.RWMutex // guards agg and lastFresh, so concurrent readers never block the writer for long
	agg        domain.AggregateSignals
	lastFresh  time.Time
	prevThetas map[string]float64
	prevOI     map[string]int64
}

// NewEngine constructs a Greeks engine with its own per-instrument history
// and fake-move lock registry.
func NewEngine(cfg config.GreeksConfig) *Engine {
	return &Engine{
		cfg:        cfg,
		history:    make(map[string]*History),
		locks:      NewLockRegistry(),
		prevThetas: make(map[string]float64),
		prevOI:     make(map[string]int64),
	}
}

func (e *Engine) historyFor(key string) *History {
	h, ok := e.history[key]
	if !ok {
		h = NewHistory(e.cfg.SnapshotRingSize)
		e.history[key] = h
	}
	return h
}

// IsLocked reports whether instrument is currently fake-move locked.
func (e *Engine) IsLocked(instrumentKey string, now time.Time) bool {
	return e.locks.Locked(instrumentKey, now)
}

// UpdateChain recomputes Greeks for every leg in the chain, updates change
// tracking/zone detection/fake-move locks/health, and returns the
// Greeks-populated chain plus the new aggregate signals. It never returns
// an error for math failures (those degrade the snapshot source instead,
// per §4.1's failure semantics) — the error return is reserved for
// structural chain problems (see domain.Chain.Validate).
func (e *Engine) UpdateChain(c domain.Chain, now time.Time) (domain.Chain, domain.AggregateSignals, error) {
	if err := c.Validate(); err != nil {
		return c, e.Aggregate(), err
	}

	t := YearsFromTradingMinutes(c.TimeToExpiry.Minutes(), e.cfg.TradingMinutesYear)
	spot, _ := c.Spot.Float64()

	var maxIVSpike float64
	var staleTimes []time.Time
	validStrikes := 0

	for i := range c.Rows {
		row := &c.Rows[i]
		if row.CE != nil {
			e.updateLeg(row.CE, domain.CE, row.Strike, spot, t, now, &maxIVSpike)
		}
		if row.PE != nil {
			e.updateLeg(row.PE, domain.PE, row.Strike, spot, t, now, &maxIVSpike)
		}
		if row.CE != nil && row.PE != nil && !row.CE.Degraded && !row.PE.Degraded {
			validStrikes++
		}
		if row.CE != nil {
			staleTimes = append(staleTimes, row.CE.Greeks.ComputedAt)
		}
		if row.PE != nil {
			staleTimes = append(staleTimes, row.PE.Greeks.ComputedAt)
		}
	}

	zones := DetectZones(c, e.cfg)

	health := EvaluateHealth(HealthInputs{
		FractionStale:        StaleFraction(staleTimes, now, 60*time.Second),
		FractionFrozen:       e.averageFrozenFraction(c),
		MaxIVSpikeAbs:        maxIVSpike,
		InversionFailureRate: e.averageInversionFailureRate(c),
		ValidStrikeCount:     validStrikes,
	})

	agg := e.computeAggregate(c, zones, health, now)
	e.mu.Lock()
	e.agg = agg
	e.lastFresh = now
	e.mu.Unlock()

	return c, agg, nil
}

func (e *Engine) updateLeg(leg *domain.Leg, typ domain.OptionType, strike int, spot, t float64, now time.Time, maxIVSpike *float64) {
	key := legKey(typ, strike)
	h := e.historyFor(key)

	marketPrice, _ := leg.Tick.LTP.Float64()
	r := e.cfg.RiskFreeRate

	lastGood, hasLastGood := h.LastGoodIV()
	brokerIVAge := math.Inf(1)
	if !leg.Tick.BrokerIVAt.IsZero() {
		brokerIVAge = now.Sub(leg.Tick.BrokerIVAt).Seconds()
	}
	iv, source := ChooseIV(leg.Tick.BrokerIV, brokerIVAge, marketPrice, spot, float64(strike), t, r, typ, lastGood, hasLastGood, e.cfg)

	_, converged := InvertIV(marketPrice, spot, float64(strike), t, r, typ, e.cfg)
	h.RecordInversionAttempt(converged)

	res := BSGreeks(spot, float64(strike), t, r, iv, typ)

	snap := domain.GreeksSnapshot{
		Delta:      clampDelta(res.Delta, typ),
		Gamma:      math.Max(res.Gamma, 0),
		Theta:      math.Min(res.Theta, 0),
		Vega:       math.Max(res.Vega, 0),
		IV:         clampIV(iv),
		Source:     source,
		ComputedAt: now,
	}

	if prev, ok := h.Latest(); ok {
		if now.Sub(prev.ComputedAt) >= e.cfg.MinSnapshotGap {
			if spike := math.Abs(snap.IV - prev.IV); spike > *maxIVSpike {
				*maxIVSpike = spike
			}
			delta := domain.Diff(prev, snap)
			deltaOI := leg.Tick.OI - e.prevOI[key]
			result := Classify(delta, deltaOI, prev.Theta, snap.Theta, e.cfg)
			if result.Quality == FakeMove {
				e.locks.Lock(key, now, e.cfg.FakeMoveLockDur)
			}
		}
	}

	e.prevOI[key] = leg.Tick.OI
	e.prevThetas[key] = snap.Theta
	h.Append(snap)
	leg.Greeks = snap
}

func legKey(typ domain.OptionType, strike int) string {
	if typ == domain.CE {
		return "CE:" + itoa(strike)
	}
	return "PE:" + itoa(strike)
}

func itoa(i int) string {
	neg := i < 0
	if i == 0 {
		return "0"
	}
	if neg {
		i = -i
	}
	var buf [12]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func clampDelta(d float64, typ domain.OptionType) float64 {
	if d > 1 {
		d = 1
	}
	if typ == domain.PE && d < -1 {
		d = -1
	}
	if typ == domain.CE && d < 0 {
		d = 0
	}
	return d
}

func (e *Engine) averageFrozenFraction(c domain.Chain) float64 {
	if len(c.Rows) == 0 {
		return 0
	}
	var sum float64
	var n int
	for _, row := range c.Rows {
		if row.CE != nil {
			sum += e.historyFor(legKey(domain.CE, row.Strike)).FractionIdentical()
			n++
		}
		if row.PE != nil {
			sum += e.historyFor(legKey(domain.PE, row.Strike)).FractionIdentical()
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (e *Engine) averageInversionFailureRate(c domain.Chain) float64 {
	if len(c.Rows) == 0 {
		return 0
	}
	var sum float64
	var n int
	for _, row := range c.Rows {
		if row.CE != nil {
			sum += e.historyFor(legKey(domain.CE, row.Strike)).InversionFailureRate()
			n++
		}
		if row.PE != nil {
			sum += e.historyFor(legKey(domain.PE, row.Strike)).InversionFailureRate()
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (e *Engine) computeAggregate(c domain.Chain, zones domain.ZoneSnapshot, health domain.HealthStatus, now time.Time) domain.AggregateSignals {
	atmIdx := c.ATMIndex()
	directionBias := 0.5
	if atmIdx >= 0 {
		lo, hi := windowBounds(atmIdx, 2, len(c.Rows))
		var spread float64
		var n int
		for i := lo; i <= hi; i++ {
			if c.Rows[i].CE != nil {
				spread += c.Rows[i].CE.Greeks.Delta
				n++
			}
			if c.Rows[i].PE != nil {
				spread += c.Rows[i].PE.Greeks.Delta
				n++
			}
		}
		if n > 0 {
			norm := spread / float64(n)
			directionBias = (norm + 1) / 2 // map [-1,1] -> [0,1]
		}
	}

	var acceleration float64
	if row, ok := c.RowAt(zones.GammaPeakStrike); ok {
		g, _ := rowGamma(row)
		acceleration = math.Min(g*10, 1) // Gamma rarely exceeds ~0.1 near ATM; scale to [0,1]
	}

	var thetaPressure float64
	if row, ok := c.RowAt(zones.ThetaKillStrike); ok {
		th, _ := rowMaxAbsTheta(row)
		meanTheta := e.meanAbsTheta(c)
		if meanTheta > 0 {
			thetaPressure = math.Min(th/meanTheta/3, 1)
		}
	}

	atmIV := 0.25
	if atmIdx >= 0 {
		row := c.Rows[atmIdx]
		if row.CE != nil {
			atmIV = row.CE.Greeks.IV
		} else if row.PE != nil {
			atmIV = row.PE.Greeks.IV
		}
	}

	lockedAnyATM := atmIdx >= 0 && e.IsLocked(legKey(domain.CE, c.ATMStrike), now)

	return domain.AggregateSignals{
		DirectionBias:   directionBias,
		Acceleration:    acceleration,
		ThetaPressure:   thetaPressure,
		VolatilityState: bucketVol(atmIV),
		IsTradeable:     health.Tradeable() && !lockedAnyATM,
		Health:          health,
		Stale:           health == domain.HealthStale,
		ComputedAt:      now,
	}
}

func (e *Engine) meanAbsTheta(c domain.Chain) float64 {
	var sum float64
	var n int
	for _, row := range c.Rows {
		if th, ok := rowMaxAbsTheta(row); ok {
			sum += th
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func windowBounds(center, radius, length int) (int, int) {
	lo := center - radius
	if lo < 0 {
		lo = 0
	}
	hi := center + radius
	if hi >= length {
		hi = length - 1
	}
	return lo, hi
}

func bucketVol(iv float64) domain.VolBucket {
	switch {
	case iv < 0.12:
		return domain.VolCrush
	case iv < 0.18:
		return domain.VolLow
	case iv < 0.28:
		return domain.VolMid
	case iv < 0.40:
		return domain.VolHigh
	default:
		return domain.VolSurge
	}
}

// Aggregate returns the last-committed aggregate signals (copy-on-read).
func (e *Engine) Aggregate() domain.AggregateSignals {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.agg
}

// LastFreshDataAt returns the monotonic moment of the last successful
// UpdateChain call, feeding the risk layer's data-freshness fail-safe.
func (e *Engine) LastFreshDataAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastFresh
}
