package domain

import "github.com/shopspring/decimal"

// Quote is a two-sided quote produced by the spread model for one snapshot.
// Bid and Ask are tick-rounded; Reservation and the half-spreads are derived
// from the rounded prices for reporting. Provisional quotes were computed
// with default (unfit) parameters and are excluded from fill simulation.
type Quote struct {
	TsMs         int64
	Bid          decimal.Decimal
	Ask          decimal.Decimal
	Reservation  decimal.Decimal
	BidHalf      decimal.Decimal
	AskHalf      decimal.Decimal
	ValidUntilMs int64
	Provisional  bool
}

// Crossed reports whether the quote is degenerate (bid >= ask).
func (q Quote) Crossed() bool {
	return q.Bid.GreaterThanOrEqual(q.Ask)
}
