package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/speedfox3/Space-Explorer/internal/market"
)

var two = decimal.NewFromInt(2)

// MatchEvent is one matched segment between a buy and a sell order. Buy and
// Sell are snapshots carrying the pre-event fill counts, which makes the
// event id reproducible if the same book is matched again after a crash.
type MatchEvent struct {
	Buy      market.Order
	Sell     market.Order
	Quantity int64
	Price    decimal.Decimal
}

// EventID is stable for a given segment: the same two orders at the same
// pre-event buy fill always produce the same id, so settlement can detect a
// replayed event.
func (e MatchEvent) EventID() string {
	return fmt.Sprintf("settle:%s:%s:%d", e.Buy.ID, e.Sell.ID, e.Buy.Filled)
}

// MatchOrders walks the two price-time ordered views with a cursor per side
// and emits match events until the best bid no longer meets the best ask.
// Both inputs must be open orders with positive remaining quantity: buys
// sorted price descending, sells price ascending, submission order breaking
// ties. The execution price is the midpoint of the two limit prices, so
// neither side captures the other's full surplus regardless of which order
// rested first.
//
// Fill bookkeeping happens on local copies; callers persist fills through
// settlement, one event at a time.
func MatchOrders(buys, sells []market.Order) []MatchEvent {
	events := []MatchEvent{}

	bi, si := 0, 0
	for bi < len(buys) && si < len(sells) {
		buy := &buys[bi]
		sell := &sells[si]

		if buy.Price.LessThan(sell.Price) {
			// best bid below best ask: nothing further can cross
			break
		}

		quantity := buy.Remaining()
		if sell.Remaining() < quantity {
			quantity = sell.Remaining()
		}
		price := buy.Price.Add(sell.Price).Div(two)

		events = append(events, MatchEvent{
			Buy:      *buy,
			Sell:     *sell,
			Quantity: quantity,
			Price:    price,
		})

		buy.Filled += quantity
		sell.Filled += quantity
		if buy.Remaining() == 0 {
			bi++
		}
		if sell.Remaining() == 0 {
			si++
		}
	}

	return events
}
