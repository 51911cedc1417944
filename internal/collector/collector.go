// Package collector subscribes to a Binance-futures-style combined websocket
// stream (partial book depth + aggregated trades), normalizes messages into
// domain events, and appends them to the historical store for later replay.
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mmlab/internal/domain"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 90 * time.Second
	reconnectMin = 2 * time.Second
)

// Config holds collector parameters.
type Config struct {
	// WSURL is the combined-stream endpoint, e.g. "wss://fstream.binance.com/stream".
	WSURL string
	// Markets lists the symbols to subscribe, e.g. ["BTCUSDT"].
	Markets []string
	// DepthLevels selects the partial depth stream (5, 10, or 20).
	DepthLevels int
	// FlushInterval bounds how long collected rows sit in memory.
	FlushInterval time.Duration
}

// Collector runs the websocket subscription loop and writes normalized
// events through per-market history writers.
type Collector struct {
	cfg     Config
	writers map[string]domain.HistoryWriter
	logger  *slog.Logger
}

// New creates a Collector. writers maps market symbol to its history writer.
func New(cfg Config, writers map[string]domain.HistoryWriter, logger *slog.Logger) *Collector {
	if cfg.DepthLevels != 5 && cfg.DepthLevels != 10 && cfg.DepthLevels != 20 {
		cfg.DepthLevels = 20
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	return &Collector{
		cfg:     cfg,
		writers: writers,
		logger:  logger.With(slog.String("component", "collector")),
	}
}

// Run connects and consumes the stream until ctx is cancelled, reconnecting
// with backoff on disconnect.
func (c *Collector) Run(ctx context.Context) error {
	if len(c.cfg.Markets) == 0 {
		c.logger.Info("no markets configured, collector exiting")
		return nil
	}

	url := c.streamURL()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.runConnection(ctx, url)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("stream disconnected, reconnecting",
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectMin):
		}
	}
}

// streamURL builds the combined-stream URL: one depth and one aggTrade
// subscription per market.
func (c *Collector) streamURL() string {
	names := make([]string, 0, len(c.cfg.Markets)*2)
	for _, m := range c.cfg.Markets {
		sym := strings.ToLower(m)
		names = append(names,
			fmt.Sprintf("%s@depth%d@100ms", sym, c.cfg.DepthLevels),
			sym+"@aggTrade",
		)
	}
	return c.cfg.WSURL + "?streams=" + strings.Join(names, "/")
}

func (c *Collector) runConnection(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("collector: dial %s: %w", url, err)
	}
	defer conn.Close()

	c.logger.Info("stream connected",
		slog.Int("markets", len(c.cfg.Markets)),
		slog.Int("depth", c.cfg.DepthLevels),
	)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	// Reader goroutine feeds raw frames; the main loop owns the writers.
	frames := make(chan []byte, 256)
	readErr := make(chan error, 1)
	go func() {
		defer close(frames)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()
	flushTicker := time.NewTicker(c.cfg.FlushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.flushAll(context.Background())
			return ctx.Err()
		case err := <-readErr:
			c.flushAll(context.Background())
			return fmt.Errorf("collector: read: %w", err)
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return fmt.Errorf("collector: ping: %w", err)
			}
		case <-flushTicker.C:
			c.flushAll(ctx)
		case msg, ok := <-frames:
			if !ok {
				c.flushAll(context.Background())
				return fmt.Errorf("collector: reader closed")
			}
			if err := c.handleFrame(ctx, msg); err != nil {
				c.logger.Debug("dropped frame", slog.String("error", err.Error()))
			}
		}
	}
}

func (c *Collector) flushAll(ctx context.Context) {
	for market, w := range c.writers {
		if err := w.Flush(ctx); err != nil {
			c.logger.Warn("flush failed",
				slog.String("market", market),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ---------------------------------------------------------------------------
// Wire formats
// ---------------------------------------------------------------------------

type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type depthPayload struct {
	EventTimeMs int64      `json:"E"`
	Bids        [][]string `json:"b"`
	Asks        [][]string `json:"a"`
}

type aggTradePayload struct {
	TradeTimeMs  int64  `json:"T"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	IsBuyerMaker bool   `json:"m"`
}

func (c *Collector) handleFrame(ctx context.Context, raw []byte) error {
	var frame combinedFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return fmt.Errorf("collector: decode frame: %w", err)
	}

	market, kind, ok := splitStream(frame.Stream)
	if !ok {
		return fmt.Errorf("collector: unknown stream %q", frame.Stream)
	}
	writer, ok := c.writers[market]
	if !ok {
		return fmt.Errorf("collector: no writer for %q", market)
	}

	switch kind {
	case "aggTrade":
		var p aggTradePayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return fmt.Errorf("collector: decode aggTrade: %w", err)
		}
		trade, err := p.toDomain(market)
		if err != nil {
			return err
		}
		return writer.AppendTrade(ctx, trade)
	default: // depth{N}
		var p depthPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return fmt.Errorf("collector: decode depth: %w", err)
		}
		snap, err := p.toDomain(market)
		if err != nil {
			return err
		}
		return writer.AppendSnapshot(ctx, snap)
	}
}

// splitStream parses "btcusdt@depth20@100ms" into its symbol and stream kind.
func splitStream(stream string) (market, kind string, ok bool) {
	parts := strings.Split(stream, "@")
	if len(parts) < 2 {
		return "", "", false
	}
	return strings.ToUpper(parts[0]), parts[1], true
}

func (p *aggTradePayload) toDomain(market string) (*domain.Trade, error) {
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return nil, fmt.Errorf("collector: parse trade price %q: %w", p.Price, err)
	}
	qty, err := decimal.NewFromString(p.Quantity)
	if err != nil {
		return nil, fmt.Errorf("collector: parse trade qty %q: %w", p.Quantity, err)
	}
	return &domain.Trade{
		TsMs:         p.TradeTimeMs,
		Market:       market,
		Price:        price,
		Quantity:     qty,
		IsBuyerMaker: p.IsBuyerMaker,
	}, nil
}

func (p *depthPayload) toDomain(market string) (*domain.OrderbookSnapshot, error) {
	snap := &domain.OrderbookSnapshot{TsMs: p.EventTimeMs, Market: market}
	var err error
	if snap.Bids, err = parseLevels(p.Bids); err != nil {
		return nil, fmt.Errorf("collector: parse bids: %w", err)
	}
	if snap.Asks, err = parseLevels(p.Asks); err != nil {
		return nil, fmt.Errorf("collector: parse asks: %w", err)
	}
	return snap, nil
}

func parseLevels(raw [][]string) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			return nil, fmt.Errorf("level has %d fields, want 2", len(pair))
		}
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("parse level price %q: %w", pair[0], err)
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, fmt.Errorf("parse level qty %q: %w", pair[1], err)
		}
		if price.GreaterThan(decimal.Zero) && qty.GreaterThan(decimal.Zero) {
			levels = append(levels, domain.PriceLevel{Price: price, Qty: qty})
		}
	}
	return levels, nil
}
