package stream

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/Yasser1AITLAZIZ/trading-bot/internal/domain"
)

func klineMsg(openTimeMs int64, open, high, low, closePrice, volume string, closed bool) []byte {
	x := "false"
	if closed {
		x = "true"
	}
	ot := strconv.FormatInt(openTimeMs, 10)
	ct := strconv.FormatInt(openTimeMs+59999, 10)
	return []byte(`{"e":"kline","E":1700000000000,"s":"BTCUSDT","k":{` +
		`"t":` + ot + `,"T":` + ct + `,"s":"BTCUSDT","i":"1m",` +
		`"o":"` + open + `","c":"` + closePrice + `","h":"` + high + `","l":"` + low + `","v":"` + volume + `","x":` + x + `}}`)
}

func TestBinanceHandler_URL(t *testing.T) {
	h := NewBinanceHandler("wss://stream.binance.com:9443/ws", "BTCUSDT", "1m", nil)
	want := "wss://stream.binance.com:9443/ws/btcusdt@kline_1m"
	if got := h.URL(); got != want {
		t.Errorf("URL() = %s, want %s", got, want)
	}
}

func TestBinanceHandler_ForwardsClosedCandles(t *testing.T) {
	var got []domain.Candle
	h := NewBinanceHandler("wss://example/ws", "BTCUSDT", "1m", func(c domain.Candle) {
		got = append(got, c)
	})

	h.OnMessage(context.Background(), klineMsg(1700000000000, "100.5", "102", "99.5", "101", "12.5", true))

	if len(got) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(got))
	}
	c := got[0]
	if c.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %s", c.Symbol)
	}
	if !c.Time.Equal(time.UnixMilli(1700000000000).UTC()) {
		t.Errorf("time = %s", c.Time)
	}
	if c.Close.String() != "101" {
		t.Errorf("close = %s", c.Close)
	}
	if c.Volume.String() != "12.5" {
		t.Errorf("volume = %s", c.Volume)
	}
}

func TestBinanceHandler_SkipsOpenCandles(t *testing.T) {
	calls := 0
	h := NewBinanceHandler("wss://example/ws", "BTCUSDT", "1m", func(domain.Candle) { calls++ })

	h.OnMessage(context.Background(), klineMsg(1700000000000, "100", "102", "99", "101", "1", false))

	if calls != 0 {
		t.Errorf("open candle must not be forwarded, got %d calls", calls)
	}
}

func TestBinanceHandler_SkipsMalformedAndInvalid(t *testing.T) {
	calls := 0
	h := NewBinanceHandler("wss://example/ws", "BTCUSDT", "1m", func(domain.Candle) { calls++ })
	ctx := context.Background()

	h.OnMessage(ctx, []byte(`not json`))
	h.OnMessage(ctx, []byte(`{"e":"trade"}`))
	// high below low: fails candle validation
	h.OnMessage(ctx, klineMsg(1700000000000, "100", "98", "99", "100", "1", true))
	// unparsable price
	h.OnMessage(ctx, klineMsg(1700000000000, "abc", "102", "99", "101", "1", true))

	if calls != 0 {
		t.Errorf("expected 0 forwarded candles, got %d", calls)
	}
	if h.parseErrors != 3 {
		t.Errorf("expected 3 parse errors counted, got %d", h.parseErrors)
	}
}
