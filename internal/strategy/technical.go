package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Yasser1AITLAZIZ/trading-bot/internal/domain"
)

// minWindow is the smallest candle window the provider will act on.
// Below it every call returns HOLD.
const minWindow = 20

// TechnicalProvider is a rule-based DecisionProvider that votes across
// the SMA cross, EMA trend and momentum signals. Two aligned votes
// produce an actionable decision; the RSI and realized volatility only
// feed the risk score, they never flip the direction.
type TechnicalProvider struct {
	baseQty decimal.Decimal
}

// NewTechnicalProvider creates a provider that proposes baseQty units
// per trade. The risk manager clamps the size afterwards.
func NewTechnicalProvider(baseQty decimal.Decimal) (*TechnicalProvider, error) {
	if baseQty.Sign() <= 0 {
		return nil, fmt.Errorf("strategy: base quantity must be positive, got %s", baseQty)
	}
	return &TechnicalProvider{baseQty: baseQty}, nil
}

// Decide produces one decision from the current window. It never errors
// on weak signals; a HOLD with the reasoning attached is the no-trade
// answer.
func (p *TechnicalProvider) Decide(candles []domain.Candle, ind domain.Indicators, signals map[string]string, cfg domain.StrategyConfig) (domain.Decision, error) {
	if len(candles) == 0 {
		return domain.Decision{}, fmt.Errorf("strategy: empty candle window")
	}

	symbol := candles[len(candles)-1].Symbol
	if len(candles) < minWindow {
		return domain.Decision{
			Action:    domain.ActionHold,
			Symbol:    symbol,
			Reasoning: fmt.Sprintf("insufficient data: %d candles, need %d", len(candles), minWindow),
		}, nil
	}

	bulls, bears := countVotes(signals)

	action := domain.ActionHold
	votes := 0
	switch {
	case bulls >= 2 && bulls > bears:
		action = domain.ActionBuy
		votes = bulls
	case bears >= 2 && bears > bulls:
		action = domain.ActionSell
		votes = bears
	}

	if action == domain.ActionHold {
		return domain.Decision{
			Action:    domain.ActionHold,
			Symbol:    symbol,
			RiskScore: riskScore(ind),
			Reasoning: fmt.Sprintf("mixed signals (bulls=%d bears=%d)", bulls, bears),
		}, nil
	}

	last := candles[len(candles)-1].Close
	confidence := 0.5 + 0.2*float64(votes-1)
	if confidence > 0.9 {
		confidence = 0.9
	}

	d := domain.Decision{
		Action:     action,
		Symbol:     symbol,
		Quantity:   p.baseQty,
		Confidence: confidence,
		RiskScore:  riskScore(ind),
		Reasoning: fmt.Sprintf("%s: sma_cross=%s trend=%s momentum=%s rsi=%s",
			action, signals["sma_cross"], signals["trend"], signals["momentum"], signals["rsi"]),
	}

	if cfg.StopLossPct > 0 {
		d.StopLoss = offsetPrice(last, cfg.StopLossPct, action == domain.ActionSell)
	}
	if cfg.TakeProfitPct > 0 {
		d.TakeProfit = offsetPrice(last, cfg.TakeProfitPct, action == domain.ActionBuy)
	}

	return d, nil
}

// countVotes tallies the directional signals.
func countVotes(signals map[string]string) (bulls, bears int) {
	switch signals["sma_cross"] {
	case "bullish":
		bulls++
	case "bearish":
		bears++
	}
	switch signals["trend"] {
	case "up":
		bulls++
	case "down":
		bears++
	}
	switch signals["momentum"] {
	case "up":
		bulls++
	case "down":
		bears++
	}
	return bulls, bears
}

// riskScore grades the current regime in [0,1]: calm markets near the
// base, volatile or RSI-extreme markets higher.
func riskScore(ind domain.Indicators) float64 {
	score := 0.2

	if ind.Volatility != nil {
		v := *ind.Volatility * 20
		if v > 0.5 {
			v = 0.5
		}
		score += v
	}

	if ind.RSI14 != nil && (*ind.RSI14 > 70 || *ind.RSI14 < 30) {
		score += 0.1
	}

	if score > 1 {
		score = 1
	}
	return score
}

// offsetPrice returns price shifted by pct, above when up is true.
func offsetPrice(price decimal.Decimal, pct float64, up bool) *decimal.Decimal {
	offset := decimal.NewFromFloat(pct)
	var out decimal.Decimal
	if up {
		out = price.Mul(decimal.NewFromInt(1).Add(offset))
	} else {
		out = price.Mul(decimal.NewFromInt(1).Sub(offset))
	}
	return &out
}
