// Package broker is the order-placement contract of §6: an interface over
// an Indian broker's RMS/order API, deliberately without a concrete
// exchange implementation (spec.md Non-goals — the dropped crypto-exchange
// SDKs the teacher and pack carry would not serve NFO order semantics
// regardless of effort spent adapting them).
package broker

import (
	"context"
	"time"

	"optionscalp/domain"

	"github.com/shopspring/decimal"
)

// OrderID is the broker-assigned identifier for a placed order.
type OrderID string

// ProductType is the Indian-broker margin/carry classification. The field
// stays explicit rather than hardcoded since brokers default differently
// when omitted.
type ProductType string

const (
	ProductMIS        ProductType = "MIS"        // intraday, auto-squared-off
	ProductCarryForward ProductType = "NRML"      // carryforward
)

// OrderRequest is broker-agnostic; concrete Broker implementations
// serialize Qty/Price to the numeric-as-string form most Indian broker REST
// APIs require (e.g. "50" not 50) and default Exchange to "NFO" and Product
// to ProductCarryForward when the caller leaves them zero.
type OrderRequest struct {
	Instrument domain.Instrument
	Side       domain.Side
	Qty        decimal.Decimal
	Price      decimal.Decimal // zero means market order
	Exchange   string          // defaults to "NFO"
	Product    ProductType     // defaults to ProductCarryForward
}

// Position is one broker-reported open position.
type Position struct {
	Instrument  domain.Instrument
	Qty         decimal.Decimal
	AvgPrice    decimal.Decimal
	LTP         decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// RMSLimits is the broker's risk-management-system view of available
// margin, used only as a sanity cross-check against risk.Manager's own
// sizing (the core never defers sizing decisions to the broker).
type RMSLimits struct {
	AvailableMargin decimal.Decimal
	UsedMargin      decimal.Decimal
	AsOf            time.Time
}

// Broker is the full order/position surface the orchestrator needs.
// Contract only; a concrete implementation is a separate, broker-specific
// integration outside this module's scope.
type Broker interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderID, error)
	ModifyOrder(ctx context.Context, id OrderID, newPrice decimal.Decimal) error
	CancelOrder(ctx context.Context, id OrderID) error
	GetLTP(ctx context.Context, inst domain.Instrument) (decimal.Decimal, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetRMSLimits(ctx context.Context) (RMSLimits, error)
}
