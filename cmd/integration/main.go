// Command integration runs the full trading loop offline against a
// synthetic candle series and prints the resulting decisions and fills.
// It exercises every component except the live stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Yasser1AITLAZIZ/trading-bot/backtest"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/domain"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/execution"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/infra"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/loop"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/market"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/order"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/risk"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/strategy"
)

func main() {
	csvPath := flag.String("csv", "", "optional CSV file (timestamp_ms,open,high,low,close,volume)")
	symbol := flag.String("symbol", "BTCUSDT", "trading symbol")
	n := flag.Int("n", 120, "synthetic candles to generate when no CSV is given")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := run(*csvPath, *symbol, *n); err != nil {
		fmt.Fprintln(os.Stderr, "integration run failed:", err)
		os.Exit(1)
	}
}

func run(csvPath, symbol string, n int) error {
	cfg := infra.DefaultConfig()
	cfg.Trading.Symbol = symbol

	buffer, err := market.NewBuffer(cfg.Streaming.BufferSize)
	if err != nil {
		return err
	}
	paper := execution.NewPaperClient("USDT", decimal.NewFromFloat(cfg.Trading.PaperBalance))
	provider, err := strategy.NewTechnicalProvider(decimal.NewFromFloat(cfg.Trading.OrderQuantity))
	if err != nil {
		return err
	}
	orders := order.NewManager(cfg, paper, risk.NewManager(cfg.Risk))

	orch, err := loop.NewOrchestrator(cfg, loop.Deps{
		Buffer:   buffer,
		Provider: provider,
		Orders:   orders,
		Prices:   paper,
	})
	if err != nil {
		return err
	}

	decisions := 0
	orch.OnDecision = func(d domain.Decision) {
		decisions++
		fmt.Printf("decision %-4s confidence=%.2f risk=%.2f  %s\n",
			d.Action, d.Confidence, d.RiskScore, d.Reasoning)
	}

	var candles []domain.Candle
	if csvPath != "" {
		candles, err = backtest.LoadCandlesCSV(csvPath, symbol)
		if err != nil {
			return err
		}
	} else {
		candles = syntheticSeries(symbol, n)
	}

	passes, err := backtest.NewReplayer(orch).Run(context.Background(), candles)
	if err != nil {
		return err
	}

	balance, _ := paper.GetAccountBalance(context.Background())
	st := orders.Status()
	fmt.Println()
	fmt.Printf("candles:   %d\n", len(candles))
	fmt.Printf("passes:    %d\n", passes)
	fmt.Printf("decisions: %d\n", decisions)
	fmt.Printf("fills:     %d\n", len(paper.Fills()))
	fmt.Printf("orders:    submitted=%d filled=%d rejected=%d success=%.0f%%\n",
		st.Submitted, st.Filled, st.Rejected, st.SuccessRate*100)
	fmt.Printf("balance:   %s USDT\n", balance)
	return nil
}

// syntheticSeries generates a trending sawtooth: three candles up, one
// down, so both trend and pullback paths get exercised.
func syntheticSeries(symbol string, n int) []domain.Candle {
	base := time.Now().UTC().Truncate(time.Minute).Add(-time.Duration(n) * time.Minute)
	price := decimal.NewFromInt(100)
	step := decimal.NewFromFloat(0.8)

	out := make([]domain.Candle, 0, n)
	for i := 0; i < n; i++ {
		if i%4 == 3 {
			price = price.Sub(step)
		} else {
			price = price.Add(step)
		}
		out = append(out, domain.Candle{
			Symbol: symbol,
			Time:   base.Add(time.Duration(i) * time.Minute),
			Open:   price.Sub(decimal.NewFromFloat(0.4)),
			High:   price.Add(decimal.NewFromFloat(0.6)),
			Low:    price.Sub(decimal.NewFromFloat(0.6)),
			Close:  price,
			Volume: decimal.NewFromInt(25),
		})
	}
	return out
}
