package backtest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Yasser1AITLAZIZ/trading-bot/internal/domain"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/loop"
)

// Replayer feeds historical candles through a wired trading loop so a
// strategy can be evaluated deterministically, without any network.
// Every candle is pushed and followed by one analysis pass, which is
// the tightest cadence the live scheduler can reach.
type Replayer struct {
	loop *loop.Orchestrator
}

// NewReplayer wraps an orchestrator that was built with a paper
// execution client and no stream.
func NewReplayer(orch *loop.Orchestrator) *Replayer {
	return &Replayer{loop: orch}
}

// Run replays the candles in order. It returns the number of analysis
// passes executed.
func (r *Replayer) Run(ctx context.Context, candles []domain.Candle) (int, error) {
	passes := 0
	for _, c := range candles {
		if err := ctx.Err(); err != nil {
			return passes, err
		}
		if err := r.loop.Push(c); err != nil {
			return passes, fmt.Errorf("backtest: push candle at %s: %w", c.Time, err)
		}
		if err := r.loop.RunAnalysis(ctx); err != nil {
			return passes, fmt.Errorf("backtest: analysis at %s: %w", c.Time, err)
		}
		passes++
	}

	slog.Info("Replay finished",
		slog.Int("candles", len(candles)),
		slog.Int("passes", passes))
	return passes, nil
}

// LoadCandlesCSV reads candles from a CSV file with the columns
// timestamp_ms,open,high,low,close,volume. A header row is skipped if
// the first field is not numeric.
func LoadCandlesCSV(path, symbol string) ([]domain.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 6

	var out []domain.Candle
	line := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("backtest: read %s line %d: %w", path, line+1, err)
		}
		line++

		ms, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			if line == 1 {
				continue // header
			}
			return nil, fmt.Errorf("backtest: bad timestamp on line %d: %w", line, err)
		}

		c, err := parseCandle(symbol, ms, rec)
		if err != nil {
			return nil, fmt.Errorf("backtest: line %d: %w", line, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func parseCandle(symbol string, ms int64, rec []string) (domain.Candle, error) {
	fields := [5]decimal.Decimal{}
	for i, name := range []string{"open", "high", "low", "close", "volume"} {
		d, err := decimal.NewFromString(rec[i+1])
		if err != nil {
			return domain.Candle{}, fmt.Errorf("bad %s %q: %w", name, rec[i+1], err)
		}
		fields[i] = d
	}

	c := domain.Candle{
		Symbol: symbol,
		Time:   time.UnixMilli(ms).UTC(),
		Open:   fields[0],
		High:   fields[1],
		Low:    fields[2],
		Close:  fields[3],
		Volume: fields[4],
	}
	if err := c.Validate(); err != nil {
		return domain.Candle{}, err
	}
	return c, nil
}
