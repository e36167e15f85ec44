package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/Yasser1AITLAZIZ/trading-bot/internal/domain"
)

// Default indicator periods.
const (
	smaPeriod        = 20
	emaPeriod        = 20
	rsiPeriod        = 14
	atrPeriod        = 14
	volatilityPeriod = 20
)

// SMA returns the simple moving average of the last period closes, or
// nil when there is not enough data.
func SMA(candles []domain.Candle, period int) *decimal.Decimal {
	if period <= 0 || len(candles) < period {
		return nil
	}

	sum := decimal.Zero
	for _, c := range candles[len(candles)-period:] {
		sum = sum.Add(c.Close)
	}
	avg := sum.Div(decimal.NewFromInt(int64(period)))
	return &avg
}

// EMA returns the exponential moving average of the closes, seeded with
// an SMA over the first period values.
func EMA(candles []domain.Candle, period int) *decimal.Decimal {
	if period <= 0 || len(candles) < period {
		return nil
	}

	seed := decimal.Zero
	for _, c := range candles[:period] {
		seed = seed.Add(c.Close)
	}
	ema := seed.Div(decimal.NewFromInt(int64(period)))

	k := decimal.NewFromFloat(2.0 / float64(period+1))
	one := decimal.NewFromInt(1)
	for _, c := range candles[period:] {
		ema = c.Close.Mul(k).Add(ema.Mul(one.Sub(k)))
	}
	return &ema
}

// RSI returns Wilder's relative strength index over the closes. A
// straight run of gains yields 100, a straight run of losses 0.
func RSI(candles []domain.Candle, period int) *float64 {
	if period <= 0 || len(candles) < period+1 {
		return nil
	}

	var avgGain, avgLoss float64
	closes := candles[len(candles)-period-1:]
	for i := 1; i < len(closes); i++ {
		delta := closes[i].Close.Sub(closes[i-1].Close).InexactFloat64()
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	var rsi float64
	if avgLoss == 0 {
		rsi = 100
	} else {
		rs := avgGain / avgLoss
		rsi = 100 - 100/(1+rs)
	}
	return &rsi
}

// ATR returns the average true range over the last period candles.
func ATR(candles []domain.Candle, period int) *decimal.Decimal {
	if period <= 0 || len(candles) < period+1 {
		return nil
	}

	window := candles[len(candles)-period-1:]
	sum := decimal.Zero
	for i := 1; i < len(window); i++ {
		tr := trueRange(window[i], window[i-1])
		sum = sum.Add(tr)
	}
	atr := sum.Div(decimal.NewFromInt(int64(period)))
	return &atr
}

func trueRange(c, prev domain.Candle) decimal.Decimal {
	hl := c.High.Sub(c.Low)
	hc := c.High.Sub(prev.Close).Abs()
	lc := c.Low.Sub(prev.Close).Abs()

	tr := hl
	if hc.GreaterThan(tr) {
		tr = hc
	}
	if lc.GreaterThan(tr) {
		tr = lc
	}
	return tr
}

// Volatility returns the standard deviation of simple returns over the
// last period candles.
func Volatility(candles []domain.Candle, period int) *float64 {
	if period <= 1 || len(candles) < period+1 {
		return nil
	}

	window := candles[len(candles)-period-1:]
	returns := make([]float64, 0, period)
	for i := 1; i < len(window); i++ {
		prev := window[i-1].Close.InexactFloat64()
		if prev == 0 {
			return nil
		}
		returns = append(returns, window[i].Close.InexactFloat64()/prev-1)
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	sd := math.Sqrt(variance)
	return &sd
}

// ComputeIndicators evaluates the standard indicator set over the
// window. Indicators without enough data come back nil.
func ComputeIndicators(candles []domain.Candle) domain.Indicators {
	return domain.Indicators{
		SMA20:      SMA(candles, smaPeriod),
		EMA20:      EMA(candles, emaPeriod),
		RSI14:      RSI(candles, rsiPeriod),
		ATR14:      ATR(candles, atrPeriod),
		Volatility: Volatility(candles, volatilityPeriod),
	}
}

// ComputeSignals derives directional signals from the indicators.
// Every key is always present so downstream consumers can rely on the
// map shape; values degrade to "neutral"/"flat" on missing data.
func ComputeSignals(candles []domain.Candle, ind domain.Indicators) map[string]string {
	signals := map[string]string{
		"sma_cross": "neutral",
		"trend":     "flat",
		"momentum":  "flat",
		"rsi":       "neutral",
	}
	if len(candles) == 0 {
		return signals
	}
	last := candles[len(candles)-1].Close

	if ind.SMA20 != nil {
		switch {
		case last.GreaterThan(*ind.SMA20):
			signals["sma_cross"] = "bullish"
		case last.LessThan(*ind.SMA20):
			signals["sma_cross"] = "bearish"
		}
	}

	if ind.EMA20 != nil {
		switch {
		case last.GreaterThan(*ind.EMA20):
			signals["trend"] = "up"
		case last.LessThan(*ind.EMA20):
			signals["trend"] = "down"
		}
	}

	if n := len(candles); n >= 4 {
		ref := candles[n-4].Close
		switch {
		case last.GreaterThan(ref):
			signals["momentum"] = "up"
		case last.LessThan(ref):
			signals["momentum"] = "down"
		}
	}

	if ind.RSI14 != nil {
		switch {
		case *ind.RSI14 < 30:
			signals["rsi"] = "oversold"
		case *ind.RSI14 > 70:
			signals["rsi"] = "overbought"
		}
	}

	return signals
}
