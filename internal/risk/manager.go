package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Yasser1AITLAZIZ/trading-bot/internal/domain"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/infra"
)

// Result is the outcome of a pre-trade check. A rejected decision carries
// the first rule that failed; later rules are not evaluated.
type Result struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

func approved() Result              { return Result{Approved: true} }
func rejected(reason string) Result { return Result{Approved: false, Reason: reason} }

// State is a snapshot of the per-day risk accounting.
type State struct {
	Day            string          `json:"day"`
	TradesToday    int             `json:"trades_today"`
	DailyPnL       decimal.Decimal `json:"daily_pnl"`
	TradesRejected uint64          `json:"trades_rejected"`
	LockedOut      bool            `json:"locked_out"`
}

// Manager enforces pre-trade limits: daily trade count, daily loss
// lockout, confidence and risk-score gates, order size bounds, position
// sizing, and per-trade risk. Counters reset at UTC midnight.
type Manager struct {
	cfg infra.RiskConfig

	mu             sync.Mutex
	day            time.Time
	tradesToday    int
	dailyPnL       decimal.Decimal
	tradesRejected uint64

	now func() time.Time
}

// NewManager creates a risk manager with fresh daily counters.
func NewManager(cfg infra.RiskConfig) *Manager {
	m := &Manager{
		cfg:      cfg,
		dailyPnL: decimal.Zero,
		now:      time.Now,
	}
	m.day = m.today()
	return m
}

func (m *Manager) today() time.Time {
	return m.now().UTC().Truncate(24 * time.Hour)
}

// rollDay resets counters when the UTC day has changed. Caller holds mu.
func (m *Manager) rollDay() {
	today := m.today()
	if today.Equal(m.day) {
		return
	}
	slog.Info("Resetting daily risk counters",
		slog.String("previous_day", m.day.Format("2006-01-02")),
		slog.Int("trades", m.tradesToday),
		slog.String("pnl", m.dailyPnL.String()))
	m.day = today
	m.tradesToday = 0
	m.dailyPnL = decimal.Zero
}

// ValidateDecision runs the pre-trade rule chain against a decision.
// refPrice is the price used for notional calculations: the decision's
// limit price when set, otherwise the latest market price. Rules are
// evaluated in a fixed order and the first violation wins.
func (m *Manager) ValidateDecision(d domain.Decision, balance, refPrice decimal.Decimal) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDay()

	res := m.validate(d, balance, refPrice)
	if !res.Approved {
		m.tradesRejected++
		slog.Warn("Decision rejected by risk manager",
			slog.String("symbol", d.Symbol),
			slog.String("action", string(d.Action)),
			slog.String("reason", res.Reason))
	}
	return res
}

func (m *Manager) validate(d domain.Decision, balance, refPrice decimal.Decimal) Result {
	// A HOLD or zero-quantity decision places no order; nothing to limit.
	if d.Action == domain.ActionHold || d.Quantity.Sign() == 0 {
		return approved()
	}

	if m.tradesToday >= m.cfg.MaxDailyTrades {
		return rejected(fmt.Sprintf("daily trade limit reached (%d/%d)", m.tradesToday, m.cfg.MaxDailyTrades))
	}

	lossLimit := balance.Mul(decimal.NewFromFloat(m.cfg.MaxDailyLoss)).Neg()
	if m.dailyPnL.LessThanOrEqual(lossLimit) {
		return rejected(fmt.Sprintf("daily loss limit reached (pnl %s, limit %s)", m.dailyPnL, lossLimit))
	}

	if d.Confidence < m.cfg.MinConfidence {
		return rejected(fmt.Sprintf("confidence %.2f below minimum %.2f", d.Confidence, m.cfg.MinConfidence))
	}

	if d.RiskScore > m.cfg.MaxRiskScore {
		return rejected(fmt.Sprintf("risk score %.2f above maximum %.2f", d.RiskScore, m.cfg.MaxRiskScore))
	}

	if refPrice.Sign() <= 0 {
		return rejected("no reference price available")
	}

	notional := d.Quantity.Mul(refPrice)

	minSize := decimal.NewFromFloat(m.cfg.MinOrderSize)
	maxSize := decimal.NewFromFloat(m.cfg.MaxOrderSize)
	if notional.LessThan(minSize) {
		return rejected(fmt.Sprintf("order notional %s below minimum %s", notional, minSize))
	}
	if notional.GreaterThan(maxSize) {
		return rejected(fmt.Sprintf("order notional %s above maximum %s", notional, maxSize))
	}

	maxPosition := balance.Mul(decimal.NewFromFloat(m.cfg.MaxPositionSize))
	if notional.GreaterThan(maxPosition) {
		return rejected(fmt.Sprintf("order notional %s exceeds position limit %s", notional, maxPosition))
	}

	estRisk := m.estimatedRisk(d, refPrice, notional)
	maxRisk := balance.Mul(decimal.NewFromFloat(m.cfg.MaxRiskPerTrade))
	if estRisk.GreaterThan(maxRisk) {
		return rejected(fmt.Sprintf("estimated risk %s exceeds per-trade limit %s", estRisk, maxRisk))
	}

	return approved()
}

// estimatedRisk is the loss if the trade goes wrong. With a stop loss it
// is the stop distance times quantity; without one a configured fraction
// of notional stands in.
func (m *Manager) estimatedRisk(d domain.Decision, refPrice, notional decimal.Decimal) decimal.Decimal {
	if d.StopLoss != nil && d.StopLoss.Sign() > 0 {
		return refPrice.Sub(*d.StopLoss).Abs().Mul(d.Quantity)
	}
	return notional.Mul(decimal.NewFromFloat(m.cfg.EstimatedRiskPct))
}

// AdjustSize shrinks a decision's quantity to fit the position and risk
// limits. It only ever clamps down; a quantity already within limits is
// returned unchanged.
func (m *Manager) AdjustSize(d domain.Decision, balance, refPrice decimal.Decimal) decimal.Decimal {
	if refPrice.Sign() <= 0 || d.Quantity.Sign() <= 0 {
		return d.Quantity
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	maxNotional := decimal.NewFromFloat(m.cfg.MaxOrderSize)
	positionCap := balance.Mul(decimal.NewFromFloat(m.cfg.MaxPositionSize))
	if positionCap.LessThan(maxNotional) {
		maxNotional = positionCap
	}

	qty := d.Quantity
	if notional := qty.Mul(refPrice); notional.GreaterThan(maxNotional) {
		qty = maxNotional.Div(refPrice)
	}

	// Risk cap: qty such that the estimated loss stays within the
	// per-trade budget.
	maxRisk := balance.Mul(decimal.NewFromFloat(m.cfg.MaxRiskPerTrade))
	riskPerUnit := m.riskPerUnit(d, refPrice)
	if riskPerUnit.Sign() > 0 {
		if qty.Mul(riskPerUnit).GreaterThan(maxRisk) {
			qty = maxRisk.Div(riskPerUnit)
		}
	}

	if qty.GreaterThan(d.Quantity) {
		qty = d.Quantity
	}
	if !qty.Equal(d.Quantity) {
		slog.Info("Adjusted position size",
			slog.String("symbol", d.Symbol),
			slog.String("requested", d.Quantity.String()),
			slog.String("adjusted", qty.String()))
	}
	return qty
}

func (m *Manager) riskPerUnit(d domain.Decision, refPrice decimal.Decimal) decimal.Decimal {
	if d.StopLoss != nil && d.StopLoss.Sign() > 0 {
		return refPrice.Sub(*d.StopLoss).Abs()
	}
	return refPrice.Mul(decimal.NewFromFloat(m.cfg.EstimatedRiskPct))
}

// RecordTrade counts an executed trade and its realized PnL against the
// daily budgets. Pass zero PnL for a trade that is still open.
func (m *Manager) RecordTrade(pnl decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDay()

	m.tradesToday++
	m.dailyPnL = m.dailyPnL.Add(pnl)

	slog.Info("Recorded trade",
		slog.Int("trades_today", m.tradesToday),
		slog.String("daily_pnl", m.dailyPnL.String()))
}

// ResetDaily forces the daily counters back to zero.
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.day = m.today()
	m.tradesToday = 0
	m.dailyPnL = decimal.Zero
	slog.Info("Daily risk counters reset")
}

// Status returns the current risk accounting, including whether the
// manager is in daily-loss lockout for the given balance.
func (m *Manager) Status(balance decimal.Decimal) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDay()

	lossLimit := balance.Mul(decimal.NewFromFloat(m.cfg.MaxDailyLoss)).Neg()
	return State{
		Day:            m.day.Format("2006-01-02"),
		TradesToday:    m.tradesToday,
		DailyPnL:       m.dailyPnL,
		TradesRejected: m.tradesRejected,
		LockedOut:      m.dailyPnL.LessThanOrEqual(lossLimit) || m.tradesToday >= m.cfg.MaxDailyTrades,
	}
}
