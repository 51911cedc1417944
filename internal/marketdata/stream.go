// Package marketdata merges the historical store's snapshot and trade
// iterators into a single chronological event stream for the backtest engine.
package marketdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/mmlab/internal/domain"
)

// Stream yields snapshots and trades in non-decreasing timestamp order.
// Trades sort before snapshots at the same millisecond: a trade is an
// observed-in-the-past execution while the snapshot is the book state after
// it. A Stream is single-use; build a fresh one from the store to restart.
type Stream struct {
	snaps  domain.SnapshotIterator
	trades domain.TradeIterator

	nextSnap  *domain.OrderbookSnapshot
	nextTrade *domain.Trade

	lastSnapTs  int64
	lastTradeTs int64
}

// Open builds a Stream over one market from the given history store.
func Open(ctx context.Context, store domain.HistoryStore, market string) (*Stream, error) {
	snaps, err := store.Snapshots(ctx, market)
	if err != nil {
		return nil, fmt.Errorf("marketdata: open snapshots for %s: %w", market, errors.Join(domain.ErrStore, err))
	}
	trades, err := store.Trades(ctx, market)
	if err != nil {
		_ = snaps.Close()
		return nil, fmt.Errorf("marketdata: open trades for %s: %w", market, errors.Join(domain.ErrStore, err))
	}
	return &Stream{snaps: snaps, trades: trades, lastSnapTs: -1, lastTradeTs: -1}, nil
}

// Next returns the next event in merged order. At end of stream it returns a
// zero Event and false. A record arriving out of order from either underlying
// iterator fails the stream with domain.ErrInputOrder.
func (s *Stream) Next() (domain.Event, bool, error) {
	if err := s.fill(); err != nil {
		return domain.Event{}, false, err
	}

	switch {
	case s.nextTrade == nil && s.nextSnap == nil:
		return domain.Event{}, false, nil
	case s.nextSnap == nil:
		return s.takeTrade(), true, nil
	case s.nextTrade == nil:
		return s.takeSnap(), true, nil
	case s.nextTrade.TsMs <= s.nextSnap.TsMs:
		// Ties go to the trade.
		return s.takeTrade(), true, nil
	default:
		return s.takeSnap(), true, nil
	}
}

// Close releases both underlying iterators.
func (s *Stream) Close() error {
	errSnap := s.snaps.Close()
	errTrade := s.trades.Close()
	if errSnap != nil {
		return errSnap
	}
	return errTrade
}

// fill buffers the head record of each iterator, verifying per-source
// chronological order as records arrive.
func (s *Stream) fill() error {
	if s.nextSnap == nil {
		snap, err := s.snaps.Next()
		if err != nil {
			return fmt.Errorf("marketdata: read snapshot: %w", errors.Join(domain.ErrStore, err))
		}
		if snap != nil {
			if snap.TsMs < s.lastSnapTs {
				return fmt.Errorf("marketdata: snapshot at %d after %d: %w", snap.TsMs, s.lastSnapTs, domain.ErrInputOrder)
			}
			s.nextSnap = snap
		}
	}
	if s.nextTrade == nil {
		trade, err := s.trades.Next()
		if err != nil {
			return fmt.Errorf("marketdata: read trade: %w", errors.Join(domain.ErrStore, err))
		}
		if trade != nil {
			if trade.TsMs < s.lastTradeTs {
				return fmt.Errorf("marketdata: trade at %d after %d: %w", trade.TsMs, s.lastTradeTs, domain.ErrInputOrder)
			}
			s.nextTrade = trade
		}
	}
	return nil
}

func (s *Stream) takeTrade() domain.Event {
	t := s.nextTrade
	s.nextTrade = nil
	s.lastTradeTs = t.TsMs
	return domain.Event{Trade: t}
}

func (s *Stream) takeSnap() domain.Event {
	snap := s.nextSnap
	s.nextSnap = nil
	s.lastSnapTs = snap.TsMs
	return domain.Event{Snapshot: snap}
}
