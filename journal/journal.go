// Package journal is the append-only trade record of §4.7: every open,
// partial, and close event is written through store.PersistenceSink plus a
// logrus-backed audit trail. The adaptive controller does not read this
// journal or its quality score: the orchestrator hands each closed trade's
// bucket and realized P&L to adaptive.RecordTrade directly. Grounded in
// the teacher's decision-record persistence shape (saveDecision in
// trader/auto_trader.go) generalized from AI-decision logging to
// trade-lifecycle logging.
package journal

import (
	"context"
	"io"
	"os"
	"time"

	"optionscalp/domain"
	"optionscalp/store"

	"github.com/sirupsen/logrus"
)

// Journal wraps a store.PersistenceSink with a structured audit trail. The
// audit logger is intentionally separate from the operational zerolog
// logger (package logger): it is a compliance/replay record, one JSON line
// per lifecycle event, not a debugging aid.
type Journal struct {
	sink  store.PersistenceSink
	audit *logrus.Logger
}

// New wires a Journal around sink, writing its audit trail to w (typically
// an append-mode file opened by cmd/optionscalp).
func New(sink store.PersistenceSink, w io.Writer) *Journal {
	audit := logrus.New()
	audit.SetFormatter(&logrus.JSONFormatter{})
	if w == nil {
		w = os.Stdout
	}
	audit.SetOutput(w)
	return &Journal{sink: sink, audit: audit}
}

// RecordOpen persists a newly opened Trade.
func (j *Journal) RecordOpen(ctx context.Context, t domain.Trade) error {
	if err := j.sink.SaveTrade(ctx, t); err != nil {
		return err
	}
	j.audit.WithFields(logrus.Fields{
		"trade_id":   t.ID,
		"underlying": t.Instrument.Underlying,
		"instrument": t.Instrument.Key(),
		"side":       t.Side,
		"qty":        t.Qty.Total.String(),
		"entry_price": t.Entry.Price.String(),
	}).Info("trade_opened")
	return nil
}

// RecordExit persists one exit event (partial or final) and the Trade's
// updated state.
func (j *Journal) RecordExit(ctx context.Context, t domain.Trade, ev domain.ExitEvent) error {
	if err := j.sink.SaveExitEvent(ctx, t.ID, ev); err != nil {
		return err
	}
	if err := j.sink.SaveTrade(ctx, t); err != nil {
		return err
	}
	j.audit.WithFields(logrus.Fields{
		"trade_id":   t.ID,
		"exit_kind":  ev.Kind,
		"confidence": ev.Confidence,
		"qty":        ev.Qty.String(),
		"price":      ev.Price.String(),
		"reason":     ev.Reason,
	}).Info("trade_exit")
	return nil
}

// RecordClose finalizes a Closed Trade: persists it, flushes the sink
// (§6.4 fsync-on-close), computes its quality score, and writes the audit
// record. The score is returned to the caller and logged; it is not passed
// to the adaptive controller.
func (j *Journal) RecordClose(ctx context.Context, t domain.Trade) (float64, error) {
	if err := j.sink.SaveTrade(ctx, t); err != nil {
		return 0, err
	}
	if err := j.sink.Flush(ctx); err != nil {
		return 0, err
	}
	score := QualityScore(t)
	j.audit.WithFields(logrus.Fields{
		"trade_id":      t.ID,
		"underlying":    t.Instrument.Underlying,
		"realized_pnl":  t.RealizedPnL.String(),
		"quality_score": score,
		"naked_risk":    t.NakedRisk,
		"held_for":      t.ClosedAt.Sub(t.OpenedAt).String(),
	}).Info("trade_closed")
	return score, nil
}

// lastExitKind returns the Kind of the final recorded exit, or ExitNoAction
// if the Trade has no exits (should not happen for a Closed trade).
func lastExitKind(t domain.Trade) domain.ExitKind {
	if len(t.Exits) == 0 {
		return domain.ExitNoAction
	}
	return t.Exits[len(t.Exits)-1].Kind
}

// holdDuration is ClosedAt-OpenedAt, floored at zero to stay well-defined
// against zero-valued timestamps in tests.
func holdDuration(t domain.Trade) time.Duration {
	if t.ClosedAt.Before(t.OpenedAt) {
		return 0
	}
	return t.ClosedAt.Sub(t.OpenedAt)
}
