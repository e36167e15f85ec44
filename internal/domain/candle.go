package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV sample for a fixed time bucket.
// Immutable once constructed; produced by the stream ingestor,
// consumed by the market buffer.
type Candle struct {
	Symbol string          `json:"symbol"`
	Time   time.Time       `json:"time"` // UTC, bucket open time
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// Validate checks the OHLCV invariant: low <= {open,close} <= high, low > 0,
// volume >= 0, non-empty symbol. Invalid candles are a hard error for the
// caller, never silently dropped.
func (c Candle) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("candle: symbol cannot be empty")
	}
	if c.Time.IsZero() {
		return fmt.Errorf("candle: timestamp cannot be zero")
	}
	if !c.Low.IsPositive() {
		return fmt.Errorf("candle %s@%s: prices must be positive", c.Symbol, c.Time.Format(time.RFC3339))
	}
	if c.High.LessThan(c.Low) {
		return fmt.Errorf("candle %s@%s: high %s below low %s", c.Symbol, c.Time.Format(time.RFC3339), c.High, c.Low)
	}
	if c.High.LessThan(c.Open) || c.High.LessThan(c.Close) {
		return fmt.Errorf("candle %s@%s: high must be >= open and close", c.Symbol, c.Time.Format(time.RFC3339))
	}
	if c.Low.GreaterThan(c.Open) || c.Low.GreaterThan(c.Close) {
		return fmt.Errorf("candle %s@%s: low must be <= open and close", c.Symbol, c.Time.Format(time.RFC3339))
	}
	if c.Volume.IsNegative() {
		return fmt.Errorf("candle %s@%s: volume cannot be negative", c.Symbol, c.Time.Format(time.RFC3339))
	}
	return nil
}
