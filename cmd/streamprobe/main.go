// Command streamprobe connects to the configured kline stream and
// prints every closed candle it receives. Useful for verifying feed
// connectivity and parsing before running the full bot.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Yasser1AITLAZIZ/trading-bot/internal/domain"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/infra"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/stream"
)

type printSink struct{}

func (printSink) Push(c domain.Candle) error {
	fmt.Printf("%s  %s  O=%s H=%s L=%s C=%s V=%s\n",
		c.Time.Format(time.RFC3339), c.Symbol,
		c.Open, c.High, c.Low, c.Close, c.Volume)
	return nil
}

func main() {
	symbol := flag.String("symbol", "BTCUSDT", "trading symbol")
	timeframe := flag.String("timeframe", "1m", "kline interval")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := infra.DefaultConfig()
	cfg.Trading.Symbol = *symbol
	cfg.Trading.Timeframe = *timeframe

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ing := stream.NewIngestor(cfg, printSink{}, func(err error) {
		slog.Error("Stream failed", slog.Any("err", err))
		stop()
	})

	fmt.Printf("Probing %s@%s (Ctrl+C to exit)\n", *symbol, *timeframe)
	ing.Start(ctx)
	<-ctx.Done()
	ing.Stop()
}
