// Package feed is the market-data contract of §6: tick and chain-update
// channels plus feed-down/feed-up notification, decoupling the orchestrator
// from any one broker's wire protocol (out of scope per spec.md Non-goals).
package feed

import "optionscalp/domain"

// Feed is everything the orchestrator consumes from market data. Brokers'
// actual wire formats are out of scope; this is the shape any concrete feed
// adapts to.
type Feed interface {
	// Ticks streams per-instrument quote/trade updates.
	Ticks() <-chan domain.Tick
	// Chains streams normalized option-chain snapshots.
	Chains() <-chan domain.ChainUpdate
	// OnFeedDown registers a callback fired when the feed is judged stale
	// or disconnected (risk.Manager's data-freshness fail-safe consumes
	// this transitively via RecordFeedTick no longer being called).
	OnFeedDown(func())
	// OnFeedUp registers a callback fired on (re)connection.
	OnFeedUp(func())
	// Close tears down the feed and its background goroutines.
	Close() error
}
