package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Action is the trading action a decision proposes.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Decision is one trading decision produced by a DecisionProvider.
// A zero Quantity (or ActionHold) encodes a no-op. Never mutated after
// creation; all consumers receive it by value.
type Decision struct {
	Action     Action           `json:"action"`
	Symbol     string           `json:"symbol"`
	Quantity   decimal.Decimal  `json:"quantity"`
	Price      *decimal.Decimal `json:"price,omitempty"` // nil for market orders
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
	Confidence float64          `json:"confidence"` // [0,1]
	RiskScore  float64          `json:"risk_score"` // [0,1]
	Reasoning  string           `json:"reasoning"`
}

// IsActionable reports whether the decision proposes an order at all.
func (d Decision) IsActionable() bool {
	return d.Action != ActionHold && d.Quantity.IsPositive()
}

// Validate checks field ranges. Quantity zero is allowed (HOLD encoding).
func (d Decision) Validate() error {
	switch d.Action {
	case ActionBuy, ActionSell, ActionHold:
	default:
		return fmt.Errorf("decision: unknown action %q", d.Action)
	}
	if d.Symbol == "" {
		return fmt.Errorf("decision: symbol cannot be empty")
	}
	if d.Quantity.IsNegative() {
		return fmt.Errorf("decision: quantity cannot be negative")
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("decision: confidence %.3f out of [0,1]", d.Confidence)
	}
	if d.RiskScore < 0 || d.RiskScore > 1 {
		return fmt.Errorf("decision: risk score %.3f out of [0,1]", d.RiskScore)
	}
	return nil
}

// Indicators carries the technical indicator values computed for one
// analysis pass. Nil pointers mean "not enough data for this indicator".
type Indicators struct {
	SMA20      *decimal.Decimal `json:"sma_20,omitempty"`
	EMA20      *decimal.Decimal `json:"ema_20,omitempty"`
	RSI14      *float64         `json:"rsi_14,omitempty"`
	ATR14      *decimal.Decimal `json:"atr_14,omitempty"`
	Volatility *float64         `json:"volatility,omitempty"`
}

// StrategyConfig is the per-call configuration handed to a DecisionProvider.
type StrategyConfig struct {
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	MaxRiskPerTrade float64 `json:"max_risk_per_trade"`
	MinConfidence   float64 `json:"min_confidence"`
	StopLossPct     float64 `json:"stop_loss_pct"`
	TakeProfitPct   float64 `json:"take_profit_pct"`
}
