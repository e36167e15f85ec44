package backtest

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Yasser1AITLAZIZ/trading-bot/internal/domain"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/execution"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/infra"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/loop"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/market"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/order"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/risk"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/strategy"
)

func buildBacktestLoop(t *testing.T) (*loop.Orchestrator, *execution.PaperClient) {
	t.Helper()

	cfg := infra.DefaultConfig()
	buf, err := market.NewBuffer(cfg.Streaming.BufferSize)
	if err != nil {
		t.Fatalf("NewBuffer failed: %v", err)
	}

	paper := execution.NewPaperClient("USDT", decimal.NewFromInt(10000))
	provider, err := strategy.NewTechnicalProvider(decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("NewTechnicalProvider failed: %v", err)
	}
	orders := order.NewManager(cfg, paper, risk.NewManager(cfg.Risk))

	orch, err := loop.NewOrchestrator(cfg, loop.Deps{
		Buffer:   buf,
		Provider: provider,
		Orders:   orders,
		Prices:   paper,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	return orch, paper
}

func TestReplayer_UptrendProducesTrades(t *testing.T) {
	orch, paper := buildBacktestLoop(t)
	r := NewReplayer(orch)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]domain.Candle, 30)
	for i := range candles {
		p := decimal.NewFromInt(int64(100 + i))
		candles[i] = domain.Candle{
			Symbol: "BTCUSDT",
			Time:   base.Add(time.Duration(i) * time.Minute),
			Open:   p,
			High:   p.Add(decimal.NewFromInt(1)),
			Low:    p.Sub(decimal.NewFromInt(1)),
			Close:  p,
			Volume: decimal.NewFromInt(10),
		}
	}

	passes, err := r.Run(context.Background(), candles)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if passes != 30 {
		t.Errorf("passes = %d, want 30", passes)
	}

	// A sustained uptrend must have produced at least one buy
	if len(paper.Fills()) == 0 {
		t.Error("expected at least one fill from the uptrend")
	}
}

func TestLoadCandlesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candles.csv")
	lines := []string{
		"timestamp_ms,open,high,low,close,volume",
	}
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ms := base.Add(time.Duration(i) * time.Minute).UnixMilli()
		lines = append(lines, strconv.FormatInt(ms, 10)+",100,101,99,100.5,12")
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	candles, err := LoadCandlesCSV(path, "BTCUSDT")
	if err != nil {
		t.Fatalf("LoadCandlesCSV failed: %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(candles))
	}
	if candles[0].Symbol != "BTCUSDT" {
		t.Errorf("symbol = %s", candles[0].Symbol)
	}
	if !candles[1].Time.Equal(base.Add(time.Minute)) {
		t.Errorf("time = %s", candles[1].Time)
	}
	if !candles[2].Close.Equal(decimal.NewFromFloat(100.5)) {
		t.Errorf("close = %s", candles[2].Close)
	}
}

func TestLoadCandlesCSV_RejectsCorruptRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	// Second row has high below low
	content := "1748736000000,100,101,99,100,10\n1748736060000,100,90,99,100,10\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	if _, err := LoadCandlesCSV(path, "BTCUSDT"); err == nil {
		t.Fatal("expected validation error for corrupt row")
	}
}
