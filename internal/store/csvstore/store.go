// Package csvstore implements the historical store over directories of CSV
// part files, one directory per market. Trades live in trades*.csv with
// columns (timestamp_ms, price, quantity, side); orderbooks in
// orderbook*.csv with (timestamp_ms, then repeating bid_price/bid_qty/
// ask_price/ask_qty groups per depth level). Part files are read in
// lexicographic order, so time-partitioned filenames stream naturally.
package csvstore

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mmlab/internal/domain"
)

// Store reads market history from a data directory.
type Store struct {
	dir       string
	maxLevels int
}

// New creates a Store rooted at dir. maxLevels caps the book depth loaded
// per snapshot; zero means every level present in the file.
func New(dir string, maxLevels int) *Store {
	return &Store{dir: dir, maxLevels: maxLevels}
}

// Snapshots returns a streaming iterator over the market's orderbook files.
func (s *Store) Snapshots(ctx context.Context, market string) (domain.SnapshotIterator, error) {
	files, err := s.partFiles(market, "orderbook")
	if err != nil {
		return nil, err
	}
	return &snapshotIterator{csvCursor: csvCursor{files: files}, market: market, maxLevels: s.maxLevels}, nil
}

// Trades returns a streaming iterator over the market's trade files.
func (s *Store) Trades(ctx context.Context, market string) (domain.TradeIterator, error) {
	files, err := s.partFiles(market, "trades")
	if err != nil {
		return nil, err
	}
	return &tradeIterator{csvCursor: csvCursor{files: files}, market: market}, nil
}

// partFiles lists the market's CSV parts with the given prefix in
// lexicographic order.
func (s *Store) partFiles(market, prefix string) ([]string, error) {
	dir := filepath.Join(s.dir, market)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("csvstore: read dir %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".csv") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("csvstore: no %s*.csv files under %s: %w", prefix, dir, domain.ErrNotFound)
	}
	return files, nil
}

// ---------------------------------------------------------------------------
// Iterators
// ---------------------------------------------------------------------------

// csvCursor walks a list of CSV part files record by record, opening each
// file lazily and skipping its header row.
type csvCursor struct {
	files   []string
	fileIdx int
	file    *os.File
	reader  *csv.Reader
	header  []string
}

// next returns the following record, advancing across part files. It returns
// (nil, nil) after the last record of the last file.
func (c *csvCursor) next() ([]string, error) {
	for {
		if c.reader == nil {
			if c.fileIdx >= len(c.files) {
				return nil, nil
			}
			f, err := os.Open(c.files[c.fileIdx])
			if err != nil {
				return nil, fmt.Errorf("csvstore: open %s: %w", c.files[c.fileIdx], err)
			}
			c.file = f
			c.reader = csv.NewReader(f)
			c.reader.FieldsPerRecord = -1
			header, err := c.reader.Read()
			if err != nil {
				_ = f.Close()
				return nil, fmt.Errorf("csvstore: read header of %s: %w", c.files[c.fileIdx], err)
			}
			c.header = header
		}

		rec, err := c.reader.Read()
		if err == io.EOF {
			_ = c.file.Close()
			c.file, c.reader = nil, nil
			c.fileIdx++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("csvstore: read %s: %w", c.files[c.fileIdx], err)
		}
		return rec, nil
	}
}

func (c *csvCursor) close() error {
	if c.file != nil {
		err := c.file.Close()
		c.file, c.reader = nil, nil
		return err
	}
	return nil
}

type tradeIterator struct {
	csvCursor
	market string
}

func (it *tradeIterator) Next() (*domain.Trade, error) {
	rec, err := it.next()
	if err != nil || rec == nil {
		return nil, err
	}
	if len(rec) < 4 {
		return nil, fmt.Errorf("csvstore: trade record has %d fields, want 4", len(rec))
	}
	ts, err := strconv.ParseInt(rec[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("csvstore: parse trade timestamp %q: %w", rec[0], err)
	}
	price, err := decimal.NewFromString(rec[1])
	if err != nil {
		return nil, fmt.Errorf("csvstore: parse trade price %q: %w", rec[1], err)
	}
	qty, err := decimal.NewFromString(rec[2])
	if err != nil {
		return nil, fmt.Errorf("csvstore: parse trade quantity %q: %w", rec[2], err)
	}
	return &domain.Trade{
		TsMs:         ts,
		Market:       it.market,
		Price:        price,
		Quantity:     qty,
		IsBuyerMaker: strings.EqualFold(rec[3], "sell"),
	}, nil
}

func (it *tradeIterator) Close() error { return it.close() }

type snapshotIterator struct {
	csvCursor
	market    string
	maxLevels int
}

func (it *snapshotIterator) Next() (*domain.OrderbookSnapshot, error) {
	rec, err := it.next()
	if err != nil || rec == nil {
		return nil, err
	}
	if len(rec) < 1 {
		return nil, fmt.Errorf("csvstore: empty orderbook record")
	}
	ts, err := strconv.ParseInt(rec[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("csvstore: parse orderbook timestamp %q: %w", rec[0], err)
	}

	snap := &domain.OrderbookSnapshot{TsMs: ts, Market: it.market}
	// Level groups of four follow the timestamp column.
	for i := 0; ; i++ {
		if it.maxLevels > 0 && i >= it.maxLevels {
			break
		}
		base := 1 + i*4
		if base+3 >= len(rec) {
			break
		}
		bidPx, err := decimal.NewFromString(rec[base])
		if err != nil {
			return nil, fmt.Errorf("csvstore: parse bid price %q: %w", rec[base], err)
		}
		bidQty, err := decimal.NewFromString(rec[base+1])
		if err != nil {
			return nil, fmt.Errorf("csvstore: parse bid qty %q: %w", rec[base+1], err)
		}
		askPx, err := decimal.NewFromString(rec[base+2])
		if err != nil {
			return nil, fmt.Errorf("csvstore: parse ask price %q: %w", rec[base+2], err)
		}
		askQty, err := decimal.NewFromString(rec[base+3])
		if err != nil {
			return nil, fmt.Errorf("csvstore: parse ask qty %q: %w", rec[base+3], err)
		}
		if bidPx.GreaterThan(decimal.Zero) {
			snap.Bids = append(snap.Bids, domain.PriceLevel{Price: bidPx, Qty: bidQty})
		}
		if askPx.GreaterThan(decimal.Zero) {
			snap.Asks = append(snap.Asks, domain.PriceLevel{Price: askPx, Qty: askQty})
		}
	}
	return snap, nil
}

func (it *snapshotIterator) Close() error { return it.close() }
