package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DecisionProvider produces one trading decision per analysis pass.
// Implementations may call out to network services but must surface
// failures as errors, never as undefined results.
type DecisionProvider interface {
	Decide(candles []Candle, ind Indicators, signals map[string]string, cfg StrategyConfig) (Decision, error)
}

// ExecutionClient abstracts the exchange REST surface used by the order
// manager. It must be safe for concurrent use from the submit and poll paths.
type ExecutionClient interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	GetOrderStatus(ctx context.Context, symbol, orderID string) (Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) (bool, error)
	GetAccountBalance(ctx context.Context) (decimal.Decimal, error)
}

// DecisionContext is the metadata persisted alongside a decision.
type DecisionContext struct {
	Symbol      string    `json:"symbol"`
	FiredAt     time.Time `json:"fired_at"`
	CandleCount int       `json:"candle_count"`
	Executed    bool      `json:"executed"`
}

// AnalysisRecord summarizes one analysis pass for persistence.
type AnalysisRecord struct {
	Symbol      string            `json:"symbol"`
	FiredAt     time.Time         `json:"fired_at"`
	CandleCount int               `json:"candle_count"`
	Indicators  Indicators        `json:"indicators"`
	Signals     map[string]string `json:"signals"`
}

// PersistenceSink receives fire-and-forget records after each analysis pass.
// Failures here must never abort the trading loop.
type PersistenceSink interface {
	RecordDecision(ctx context.Context, d Decision, dc DecisionContext) error
	RecordAnalysis(ctx context.Context, rec AnalysisRecord) error
}
