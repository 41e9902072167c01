package main

import (
	"context"
	"sync"

	"optionscalp/broker"
	"optionscalp/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// paperBroker is a simulated fill broker for local/dry-run operation:
// every order fills immediately at its requested price (or the last known
// LTP for a market order), recorded in memory. cmd/optionscalp is the only
// place a concrete Broker is wired, since broker.Broker deliberately ships
// without a production implementation (§1 Non-goals put a real Indian
// broker's wire protocol out of scope).
type paperBroker struct {
	mu        sync.Mutex
	lastLTP   map[string]decimal.Decimal
	positions map[string]broker.Position
	margin    decimal.Decimal
}

func newPaperBroker(startMargin decimal.Decimal) *paperBroker {
	return &paperBroker{
		lastLTP:   make(map[string]decimal.Decimal),
		positions: make(map[string]broker.Position),
		margin:    startMargin,
	}
}

func (b *paperBroker) setLTP(inst domain.Instrument, ltp decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastLTP[inst.Key()] = ltp
}

func (b *paperBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fillPrice := req.Price
	if fillPrice.IsZero() {
		fillPrice = b.lastLTP[req.Instrument.Key()]
	}

	key := req.Instrument.Key()
	pos := b.positions[key]
	pos.Instrument = req.Instrument
	pos.LTP = fillPrice
	switch req.Side {
	case domain.Long:
		pos.Qty = pos.Qty.Add(req.Qty)
	case domain.Short:
		pos.Qty = pos.Qty.Sub(req.Qty)
	}
	if pos.AvgPrice.IsZero() {
		pos.AvgPrice = fillPrice
	}
	b.positions[key] = pos

	return broker.OrderID(uuid.New().String()), nil
}

func (b *paperBroker) ModifyOrder(ctx context.Context, id broker.OrderID, newPrice decimal.Decimal) error {
	return nil
}

func (b *paperBroker) CancelOrder(ctx context.Context, id broker.OrderID) error { return nil }

func (b *paperBroker) GetLTP(ctx context.Context, inst domain.Instrument) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastLTP[inst.Key()], nil
}

func (b *paperBroker) GetPositions(ctx context.Context) ([]broker.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.Position, 0, len(b.positions))
	for _, p := range b.positions {
		if !p.Qty.IsZero() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (b *paperBroker) GetRMSLimits(ctx context.Context) (broker.RMSLimits, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return broker.RMSLimits{AvailableMargin: b.margin, UsedMargin: decimal.Zero}, nil
}
