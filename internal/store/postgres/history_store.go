package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mmlab/internal/domain"
)

// HistoryStore implements domain.HistoryStore over the market_trades and
// market_snapshots tables. Iterators stream through pgx rows, so a full
// market's history is never held in memory.
type HistoryStore struct {
	pool      *pgxpool.Pool
	maxLevels int
}

// NewHistoryStore creates a HistoryStore. maxLevels caps snapshot depth;
// zero keeps every stored level.
func NewHistoryStore(pool *pgxpool.Pool, maxLevels int) *HistoryStore {
	return &HistoryStore{pool: pool, maxLevels: maxLevels}
}

// Snapshots returns a streaming iterator ordered by (ts_ms, seq).
func (s *HistoryStore) Snapshots(ctx context.Context, market string) (domain.SnapshotIterator, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ts_ms, seq, bids, asks
		FROM market_snapshots
		WHERE market = $1
		ORDER BY ts_ms ASC, seq ASC`, market)
	if err != nil {
		return nil, fmt.Errorf("postgres: query snapshots for %s: %w", market, err)
	}
	return &snapshotRows{rows: rows, market: market, maxLevels: s.maxLevels}, nil
}

// Trades returns a streaming iterator ordered by ts_ms.
func (s *HistoryStore) Trades(ctx context.Context, market string) (domain.TradeIterator, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ts_ms, price, quantity, is_buyer_maker
		FROM market_trades
		WHERE market = $1
		ORDER BY ts_ms ASC`, market)
	if err != nil {
		return nil, fmt.Errorf("postgres: query trades for %s: %w", market, err)
	}
	return &tradeRows{rows: rows, market: market}, nil
}

// InsertSnapshot stores one snapshot; book sides are serialized as JSON
// [price, qty] string pairs so decimals survive exactly.
func (s *HistoryStore) InsertSnapshot(ctx context.Context, snap *domain.OrderbookSnapshot) error {
	bids, err := marshalLevels(snap.Bids)
	if err != nil {
		return fmt.Errorf("postgres: marshal bids: %w", err)
	}
	asks, err := marshalLevels(snap.Asks)
	if err != nil {
		return fmt.Errorf("postgres: marshal asks: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO market_snapshots (market, ts_ms, seq, bids, asks)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (market, ts_ms, seq) DO NOTHING`,
		snap.Market, snap.TsMs, snap.Seq, bids, asks)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot: %w", err)
	}
	return nil
}

// InsertTrades stores a batch of trades, skipping exact duplicates.
func (s *HistoryStore) InsertTrades(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const query = `
		INSERT INTO market_trades (market, ts_ms, price, quantity, is_buyer_maker)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING`
	for _, t := range trades {
		batch.Queue(query, t.Market, t.TsMs, t.Price, t.Quantity, t.IsBuyerMaker)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	return nil
}

type jsonLevel [2]string

func marshalLevels(levels []domain.PriceLevel) ([]byte, error) {
	out := make([]jsonLevel, len(levels))
	for i, l := range levels {
		out[i] = jsonLevel{l.Price.String(), l.Qty.String()}
	}
	return json.Marshal(out)
}

func unmarshalLevels(data []byte, maxLevels int) ([]domain.PriceLevel, error) {
	var raw []jsonLevel
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if maxLevels > 0 && len(raw) > maxLevels {
		raw = raw[:maxLevels]
	}
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, err
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, domain.PriceLevel{Price: price, Qty: qty})
	}
	return levels, nil
}

type snapshotRows struct {
	rows      pgx.Rows
	market    string
	maxLevels int
}

func (it *snapshotRows) Next() (*domain.OrderbookSnapshot, error) {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return nil, fmt.Errorf("postgres: snapshot rows: %w", err)
		}
		return nil, nil
	}
	var (
		snap       domain.OrderbookSnapshot
		bids, asks []byte
	)
	if err := it.rows.Scan(&snap.TsMs, &snap.Seq, &bids, &asks); err != nil {
		return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
	}
	snap.Market = it.market

	var err error
	if snap.Bids, err = unmarshalLevels(bids, it.maxLevels); err != nil {
		return nil, fmt.Errorf("postgres: decode bids: %w", err)
	}
	if snap.Asks, err = unmarshalLevels(asks, it.maxLevels); err != nil {
		return nil, fmt.Errorf("postgres: decode asks: %w", err)
	}
	return &snap, nil
}

func (it *snapshotRows) Close() error {
	it.rows.Close()
	return nil
}

type tradeRows struct {
	rows   pgx.Rows
	market string
}

func (it *tradeRows) Next() (*domain.Trade, error) {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return nil, fmt.Errorf("postgres: trade rows: %w", err)
		}
		return nil, nil
	}
	var t domain.Trade
	if err := it.rows.Scan(&t.TsMs, &t.Price, &t.Quantity, &t.IsBuyerMaker); err != nil {
		return nil, fmt.Errorf("postgres: scan trade: %w", err)
	}
	t.Market = it.market
	return &t, nil
}

func (it *tradeRows) Close() error {
	it.rows.Close()
	return nil
}
