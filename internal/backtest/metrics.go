package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/alanyoungcy/mmlab/internal/domain"
)

// Recorder implements domain.MetricsSink, keeping the summary plus a bounded
// ring of the most recent rows for the status API. It never calls back into
// the engine.
type Recorder struct {
	capacity int
	rows     []domain.MetricRow
	next     int
	total    int64
	summary  domain.Summary
	finished bool
}

// NewRecorder creates a Recorder that retains up to capacity recent rows.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Recorder{
		capacity: capacity,
		rows:     make([]domain.MetricRow, 0, capacity),
	}
}

// Push appends a row to the ring.
func (r *Recorder) Push(row domain.MetricRow) error {
	if len(r.rows) < r.capacity {
		r.rows = append(r.rows, row)
	} else {
		r.rows[r.next] = row
		r.next = (r.next + 1) % r.capacity
	}
	r.total++
	return nil
}

// Finish stores the run summary.
func (r *Recorder) Finish(summary domain.Summary) error {
	r.summary = summary
	r.finished = true
	return nil
}

// Summary returns the stored summary and whether the run has finished.
func (r *Recorder) Summary() (domain.Summary, bool) {
	return r.summary, r.finished
}

// Rows returns the retained rows in chronological order.
func (r *Recorder) Rows() []domain.MetricRow {
	if len(r.rows) < r.capacity {
		out := make([]domain.MetricRow, len(r.rows))
		copy(out, r.rows)
		return out
	}
	out := make([]domain.MetricRow, 0, r.capacity)
	out = append(out, r.rows[r.next:]...)
	out = append(out, r.rows[:r.next]...)
	return out
}

// Total returns how many rows were pushed over the run, including rows that
// have rotated out of the ring.
func (r *Recorder) Total() int64 {
	return r.total
}

// csvHeader is the column layout of the per-snapshot result file.
var csvHeader = []string{
	"timestamp", "mid", "bid", "ask", "reservation", "inventory", "cash",
	"pnl", "sigma", "kappa_bid", "kappa_ask", "bid_fills", "ask_fills",
	"volume", "effective_spread_bps", "warmup",
}

// CSVSink implements domain.MetricsSink by streaming rows to a CSV writer.
type CSVSink struct {
	w           *csv.Writer
	wroteHeader bool
}

// NewCSVSink creates a CSVSink over the given writer.
func NewCSVSink(w io.Writer) *CSVSink {
	return &CSVSink{w: csv.NewWriter(w)}
}

// Push writes one row, emitting the header first.
func (c *CSVSink) Push(row domain.MetricRow) error {
	if !c.wroteHeader {
		if err := c.w.Write(csvHeader); err != nil {
			return fmt.Errorf("backtest: write csv header: %w", err)
		}
		c.wroteHeader = true
	}
	rec := []string{
		strconv.FormatInt(row.TsMs, 10),
		row.Mid.String(),
		row.Bid.String(),
		row.Ask.String(),
		row.Reservation.String(),
		row.Inventory.String(),
		row.Cash.String(),
		row.PnL.String(),
		strconv.FormatFloat(row.Sigma, 'g', -1, 64),
		strconv.FormatFloat(row.KappaBid, 'g', -1, 64),
		strconv.FormatFloat(row.KappaAsk, 'g', -1, 64),
		strconv.FormatInt(row.BidFills, 10),
		strconv.FormatInt(row.AskFills, 10),
		row.Volume.String(),
		strconv.FormatFloat(row.EffectiveSpreadBps, 'g', -1, 64),
		strconv.FormatBool(row.Warmup),
	}
	if err := c.w.Write(rec); err != nil {
		return fmt.Errorf("backtest: write csv row: %w", err)
	}
	return nil
}

// Finish flushes buffered rows.
func (c *CSVSink) Finish(domain.Summary) error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("backtest: flush csv: %w", err)
	}
	return nil
}

// Tee fans rows and the summary out to several sinks.
type Tee []domain.MetricsSink

// Push forwards the row to every sink, stopping on the first error.
func (t Tee) Push(row domain.MetricRow) error {
	for _, s := range t {
		if err := s.Push(row); err != nil {
			return err
		}
	}
	return nil
}

// Finish forwards the summary to every sink.
func (t Tee) Finish(summary domain.Summary) error {
	for _, s := range t {
		if err := s.Finish(summary); err != nil {
			return err
		}
	}
	return nil
}
