package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/Yasser1AITLAZIZ/trading-bot/internal/domain"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/infra"
)

// klineEvent mirrors the Binance kline stream payload.
type klineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime  int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Symbol    string `json:"s"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

// BinanceHandler consumes a single-symbol kline stream.
// Only closed candles are forwarded: an open candle mutates until its
// interval ends and would corrupt the analysis window.
type BinanceHandler struct {
	baseURL   string
	symbol    string
	timeframe string
	onCandle  func(domain.Candle)

	parseErrors uint64
}

// NewBinanceHandler builds a handler for one symbol/timeframe pair.
// baseURL is the raw-stream endpoint, e.g. wss://stream.binance.com:9443/ws.
func NewBinanceHandler(baseURL, symbol, timeframe string, onCandle func(domain.Candle)) *BinanceHandler {
	return &BinanceHandler{
		baseURL:   strings.TrimRight(baseURL, "/"),
		symbol:    strings.ToUpper(symbol),
		timeframe: timeframe,
		onCandle:  onCandle,
	}
}

func (h *BinanceHandler) URL() string {
	return fmt.Sprintf("%s/%s@kline_%s", h.baseURL, strings.ToLower(h.symbol), h.timeframe)
}

func (h *BinanceHandler) ID() string {
	return fmt.Sprintf("BINANCE:%s@%s", h.symbol, h.timeframe)
}

// OnConnect is a no-op: the raw stream endpoint needs no subscribe frame.
func (h *BinanceHandler) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	return nil
}

func (h *BinanceHandler) OnPing(ctx context.Context, conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// OnMessage parses a kline event and forwards closed, valid candles.
// Malformed payloads are logged and skipped; a bad message must never
// take the stream down.
func (h *BinanceHandler) OnMessage(ctx context.Context, msg []byte) {
	var ev klineEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		h.parseErrors++
		slog.Warn("Skipping malformed stream message", slog.String("id", h.ID()), slog.Any("err", err))
		return
	}
	if ev.EventType != "kline" {
		return
	}
	if !ev.Kline.Closed {
		return
	}

	candle, err := h.toCandle(ev)
	if err != nil {
		h.parseErrors++
		slog.Warn("Skipping unparsable candle", slog.String("id", h.ID()), slog.Any("err", err))
		return
	}
	if err := candle.Validate(); err != nil {
		h.parseErrors++
		slog.Warn("Skipping invalid candle", slog.String("id", h.ID()), slog.Any("err", err))
		return
	}

	if h.onCandle != nil {
		h.onCandle(candle)
	}
}

func (h *BinanceHandler) toCandle(ev klineEvent) (domain.Candle, error) {
	open, err := decimal.NewFromString(ev.Kline.Open)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("open: %w", err)
	}
	high, err := decimal.NewFromString(ev.Kline.High)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("high: %w", err)
	}
	low, err := decimal.NewFromString(ev.Kline.Low)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("low: %w", err)
	}
	closePrice, err := decimal.NewFromString(ev.Kline.Close)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("close: %w", err)
	}
	volume, err := decimal.NewFromString(ev.Kline.Volume)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("volume: %w", err)
	}

	return domain.Candle{
		Symbol: ev.Kline.Symbol,
		Time:   time.UnixMilli(ev.Kline.OpenTime).UTC(),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
		Volume: volume,
	}, nil
}

// Ingestor ties a Binance kline handler to the reconnecting worker and
// feeds closed candles into the buffer.
type Ingestor struct {
	worker *Worker
	buffer CandleSink
}

// CandleSink receives parsed candles. *market.Buffer satisfies it.
type CandleSink interface {
	Push(domain.Candle) error
}

// NewIngestor wires a kline stream into sink. onError receives terminal
// stream failures only.
func NewIngestor(cfg *infra.Config, sink CandleSink, onError func(error)) *Ingestor {
	ing := &Ingestor{buffer: sink}

	handler := NewBinanceHandler(
		cfg.Streaming.WSURL,
		cfg.Trading.Symbol,
		cfg.Trading.Timeframe,
		ing.onCandle,
	)

	w := NewWorker(handler, onError)
	w.Backoff = infra.BackoffPolicy{Base: cfg.RetryBase(), Cap: cfg.RetryCap()}
	w.MaxRetries = cfg.Streaming.MaxRetries
	ing.worker = w
	return ing
}

func (i *Ingestor) onCandle(c domain.Candle) {
	if err := i.buffer.Push(c); err != nil {
		slog.Error("Dropping candle rejected by buffer",
			slog.String("symbol", c.Symbol),
			slog.Any("err", err))
	}
}

// Start begins streaming in the background.
func (i *Ingestor) Start(ctx context.Context) {
	i.worker.Start(ctx)
}

// Stop shuts the stream down and waits for the worker to exit.
func (i *Ingestor) Stop() {
	i.worker.Stop()
}

// Connected reports current stream health.
func (i *Ingestor) Connected() bool {
	return i.worker.Connected()
}
