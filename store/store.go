// Package store is the persistence layer of §6.4: an append-only
// PersistenceSink over Trades, ExitEvents, Greeks history, bias history, and
// adaptive snapshots, plus a modernc.org/sqlite-backed concrete
// implementation. Grounded in the teacher's store/strategy.go
// *sql.DB-wrapped struct and its initTables/CREATE-TABLE-IF-NOT-EXISTS
// migration pattern, generalized from strategy-config rows to the trading
// core's journal tables.
package store

import (
	"context"
	"time"

	"optionscalp/domain"

	"github.com/google/uuid"
)

// PersistenceSink is every write the orchestrator and journal issue against
// durable storage; SaveAdaptiveSnapshot has no caller in this module.
// At-least-once append-only; implementations
// must fsync on Trade close and at end of day (§6.4).
type PersistenceSink interface {
	SaveTrade(ctx context.Context, t domain.Trade) error
	SaveExitEvent(ctx context.Context, tradeID uuid.UUID, ev domain.ExitEvent) error
	SaveGreeksSnapshot(ctx context.Context, instrumentKey string, g domain.GreeksSnapshot) error
	SaveBiasState(ctx context.Context, underlying string, b domain.BiasState, at time.Time) error
	SaveAdaptiveSnapshot(ctx context.Context, snap AdaptiveSnapshot) error
	Flush(ctx context.Context) error
	Close() error
}

// AdaptiveSnapshot is one bucket's learned state at the moment of an EOD
// apply phase, journaled so a restart can reconstruct the adaptive
// controller's weights/blocks without replaying every trade.
type AdaptiveSnapshot struct {
	Bucket     domain.FeatureBucket
	Weight     float64
	Blocked    bool
	BlockUntil time.Time
	Perf       domain.BucketPerformance
	At         time.Time
}
