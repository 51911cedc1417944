package csvstore

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/alanyoungcy/mmlab/internal/domain"
)

// Writer appends collected market data as CSV part files, one file pair per
// writer lifetime. The collector rotates writers to produce time-partitioned
// parts that the Store later streams in order.
type Writer struct {
	dir    string
	market string
	depth  int
	part   string

	tradesFile *os.File
	booksFile  *os.File
	trades     *csv.Writer
	books      *csv.Writer
}

// NewWriter creates a Writer for one market under dir. part names the file
// suffix (e.g. a UTC hour stamp) so parts sort chronologically.
func NewWriter(dir, market, part string, depth int) (*Writer, error) {
	if depth <= 0 {
		depth = 20
	}
	marketDir := filepath.Join(dir, market)
	if err := os.MkdirAll(marketDir, 0o755); err != nil {
		return nil, fmt.Errorf("csvstore: create %s: %w", marketDir, err)
	}

	w := &Writer{dir: dir, market: market, depth: depth, part: part}
	var err error
	if w.tradesFile, err = openPart(marketDir, "trades", part); err != nil {
		return nil, err
	}
	if w.booksFile, err = openPart(marketDir, "orderbook", part); err != nil {
		_ = w.tradesFile.Close()
		return nil, err
	}
	w.trades = csv.NewWriter(w.tradesFile)
	w.books = csv.NewWriter(w.booksFile)

	if err := w.writeHeaders(); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

func openPart(dir, prefix, part string) (*os.File, error) {
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.csv", prefix, part))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("csvstore: create part %s: %w", path, err)
	}
	return f, nil
}

func (w *Writer) writeHeaders() error {
	if err := w.trades.Write([]string{"timestamp_ms", "price", "quantity", "side"}); err != nil {
		return fmt.Errorf("csvstore: write trades header: %w", err)
	}
	header := []string{"timestamp_ms"}
	for i := 0; i < w.depth; i++ {
		n := strconv.Itoa(i)
		header = append(header, "bid_price"+n, "bid_qty"+n, "ask_price"+n, "ask_qty"+n)
	}
	if err := w.books.Write(header); err != nil {
		return fmt.Errorf("csvstore: write orderbook header: %w", err)
	}
	return nil
}

// AppendTrade writes one trade row.
func (w *Writer) AppendTrade(ctx context.Context, t *domain.Trade) error {
	side := "buy"
	if t.IsBuyerMaker {
		side = "sell"
	}
	rec := []string{
		strconv.FormatInt(t.TsMs, 10),
		t.Price.String(),
		t.Quantity.String(),
		side,
	}
	if err := w.trades.Write(rec); err != nil {
		return fmt.Errorf("csvstore: append trade: %w", err)
	}
	return nil
}

// AppendSnapshot writes one orderbook row, zero-padding missing levels so
// every row carries the full configured depth.
func (w *Writer) AppendSnapshot(ctx context.Context, snap *domain.OrderbookSnapshot) error {
	rec := make([]string, 0, 1+w.depth*4)
	rec = append(rec, strconv.FormatInt(snap.TsMs, 10))
	for i := 0; i < w.depth; i++ {
		if i < len(snap.Bids) {
			rec = append(rec, snap.Bids[i].Price.String(), snap.Bids[i].Qty.String())
		} else {
			rec = append(rec, "0", "0")
		}
		if i < len(snap.Asks) {
			rec = append(rec, snap.Asks[i].Price.String(), snap.Asks[i].Qty.String())
		} else {
			rec = append(rec, "0", "0")
		}
	}
	if err := w.books.Write(rec); err != nil {
		return fmt.Errorf("csvstore: append snapshot: %w", err)
	}
	return nil
}

// Flush pushes buffered rows to disk.
func (w *Writer) Flush(ctx context.Context) error {
	w.trades.Flush()
	w.books.Flush()
	if err := w.trades.Error(); err != nil {
		return fmt.Errorf("csvstore: flush trades: %w", err)
	}
	if err := w.books.Error(); err != nil {
		return fmt.Errorf("csvstore: flush orderbooks: %w", err)
	}
	return nil
}

// Close flushes and closes both part files.
func (w *Writer) Close() error {
	_ = w.Flush(context.Background())
	err1 := w.tradesFile.Close()
	err2 := w.booksFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
