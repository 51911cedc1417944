// Package domain defines the core data model for the market-making research
// platform: orderbook snapshots, public trades, calibrated model parameters,
// quotes, and the store/cache/blob interfaces the rest of the system is wired
// through.
package domain

import "github.com/shopspring/decimal"

// PriceLevel is a single price+quantity entry in an orderbook side.
type PriceLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// OrderbookSnapshot is a depth snapshot for one market. Levels are sorted
// best-first: bids descending, asks ascending.
type OrderbookSnapshot struct {
	TsMs   int64
	Seq    int64
	Market string
	Bids   []PriceLevel
	Asks   []PriceLevel
}

// BestBid returns the top bid price, or zero when the side is empty.
func (s *OrderbookSnapshot) BestBid() decimal.Decimal {
	if len(s.Bids) == 0 {
		return decimal.Zero
	}
	return s.Bids[0].Price
}

// BestAsk returns the top ask price, or zero when the side is empty.
func (s *OrderbookSnapshot) BestAsk() decimal.Decimal {
	if len(s.Asks) == 0 {
		return decimal.Zero
	}
	return s.Asks[0].Price
}

// Mid returns (best_bid + best_ask) / 2, or zero if either side is empty.
func (s *OrderbookSnapshot) Mid() decimal.Decimal {
	bb, ba := s.BestBid(), s.BestAsk()
	if bb.IsZero() || ba.IsZero() {
		return decimal.Zero
	}
	return bb.Add(ba).Div(two)
}

var two = decimal.NewFromInt(2)

// Trade is a public trade print. IsBuyerMaker follows the exchange feed
// convention: true means an aggressive sell hit a resting bid, false means an
// aggressive buy lifted a resting ask.
type Trade struct {
	TsMs         int64
	Market       string
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	IsBuyerMaker bool
}

// Event is a single element of the merged chronological stream: exactly one
// of Snapshot or Trade is non-nil.
type Event struct {
	Snapshot *OrderbookSnapshot
	Trade    *Trade
}

// TsMs returns the event timestamp in epoch milliseconds.
func (e Event) TsMs() int64 {
	if e.Trade != nil {
		return e.Trade.TsMs
	}
	if e.Snapshot != nil {
		return e.Snapshot.TsMs
	}
	return 0
}
