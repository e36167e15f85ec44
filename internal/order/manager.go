package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Yasser1AITLAZIZ/trading-bot/internal/domain"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/infra"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/risk"
)

// ErrAtCapacity is returned when the concurrent order limit is reached.
// The venue is never contacted in that case.
var ErrAtCapacity = errors.New("order: max concurrent orders reached")

// RejectionError carries the risk rule that blocked a submission.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("order: rejected by risk manager: %s", e.Reason)
}

// State is a snapshot of the order manager's accounting.
type State struct {
	OpenOrders  int     `json:"open_orders"`
	MaxOrders   int     `json:"max_orders"`
	Submitted   uint64  `json:"submitted"`
	Filled      uint64  `json:"filled"`
	Failed      uint64  `json:"failed"`
	Rejected    uint64  `json:"rejected"`
	SuccessRate float64 `json:"success_rate"`
}

// Manager owns the order lifecycle: risk-gated submission, periodic
// status reconciliation against the venue, and terminal-state accounting.
// Venue calls go through a circuit breaker and a rate limiter; the status
// machine in domain.OrderStatus guards every observed transition.
type Manager struct {
	client  domain.ExecutionClient
	risk    *risk.Manager
	breaker *infra.CircuitBreaker
	limiter *infra.RateLimiter

	mu        sync.Mutex
	open      map[string]*domain.Order
	pending   int // submissions holding a slot before the venue responds
	history   []domain.Order
	submitted uint64
	filled    uint64
	failed    uint64
	rejected  uint64

	maxOrders    int
	pollInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates an order manager bound to an execution client.
func NewManager(cfg *infra.Config, client domain.ExecutionClient, riskMgr *risk.Manager) *Manager {
	return &Manager{
		client:       client,
		risk:         riskMgr,
		breaker:      infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig("execution")),
		limiter:      infra.NewRateLimiter(10, 10), // 10 req/s burst 10, well under venue limits
		open:         make(map[string]*domain.Order),
		maxOrders:    cfg.Trading.MaxConcurrentOrders,
		pollInterval: time.Duration(cfg.Trading.OrderPollIntervalS) * time.Second,
	}
}

// newClientOrderID returns a venue-unique identifier for idempotent
// submission tracking.
func newClientOrderID() string {
	return "bot-" + uuid.NewString()
}

// CanAcceptNewOrder reports whether a submission would pass the
// concurrent order limit right now. In-flight submissions count against
// the limit.
func (m *Manager) CanAcceptNewOrder() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)+m.pending < m.maxOrders
}

// reserveSlot atomically checks the capacity bound and claims a slot for
// a submission in flight. Every reservation is released exactly once:
// into the open map on success, or via releaseSlot on any failure.
func (m *Manager) reserveSlot() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.open)+m.pending >= m.maxOrders {
		return ErrAtCapacity
	}
	m.pending++
	return nil
}

func (m *Manager) releaseSlot() {
	m.mu.Lock()
	m.pending--
	m.mu.Unlock()
}

// Submit turns an actionable decision into a venue order.
// The pipeline is: capacity check, risk validation, size adjustment,
// submission. At capacity the venue is never contacted. A risk rejection
// returns *RejectionError.
func (m *Manager) Submit(ctx context.Context, d domain.Decision, refPrice decimal.Decimal) (domain.Order, error) {
	if err := d.Validate(); err != nil {
		return domain.Order{}, err
	}
	if !d.IsActionable() {
		return domain.Order{}, fmt.Errorf("order: decision is not actionable (action=%s)", d.Action)
	}

	if err := m.reserveSlot(); err != nil {
		slog.Warn("Submission blocked at capacity",
			slog.String("symbol", d.Symbol),
			slog.Int("open", m.maxOrders))
		return domain.Order{}, err
	}

	balance, err := m.callBalance(ctx)
	if err != nil {
		m.releaseSlot()
		return domain.Order{}, fmt.Errorf("order: fetch balance: %w", err)
	}

	price := refPrice
	if d.Price != nil && d.Price.Sign() > 0 {
		price = *d.Price
	}

	if res := m.risk.ValidateDecision(d, balance, price); !res.Approved {
		m.mu.Lock()
		m.pending--
		m.rejected++
		m.mu.Unlock()
		return domain.Order{}, &RejectionError{Reason: res.Reason}
	}

	d.Quantity = m.risk.AdjustSize(d, balance, price)

	req := domain.OrderRequest{
		Symbol:        d.Symbol,
		Side:          domain.Side(d.Action),
		Type:          domain.TypeMarket,
		Quantity:      d.Quantity,
		TimeInForce:   "GTC",
		ClientOrderID: newClientOrderID(),
	}
	if d.Price != nil {
		req.Type = domain.TypeLimit
		req.Price = d.Price
	}

	placed, err := m.callPlace(ctx, req)
	if err != nil {
		m.mu.Lock()
		m.pending--
		m.failed++
		m.mu.Unlock()
		return domain.Order{}, fmt.Errorf("order: place: %w", err)
	}

	m.mu.Lock()
	m.pending--
	m.submitted++
	tracked := placed
	if tracked.IsOpen() {
		m.open[tracked.ID] = &tracked
	} else {
		m.settleLocked(tracked)
	}
	m.mu.Unlock()

	m.risk.RecordTrade(decimal.Zero)

	slog.Info("Order submitted",
		slog.String("id", placed.ID),
		slog.String("client_id", req.ClientOrderID),
		slog.String("symbol", placed.Symbol),
		slog.String("side", string(placed.Side)),
		slog.String("qty", placed.Quantity.String()),
		slog.String("status", string(placed.Status)))

	return placed, nil
}

// settleLocked books a terminal order into the history and the
// success/failure counters. Caller holds mu.
func (m *Manager) settleLocked(o domain.Order) {
	m.history = append(m.history, o)
	switch o.Status {
	case domain.StatusFilled:
		m.filled++
	case domain.StatusCanceled, domain.StatusRejected, domain.StatusExpired:
		m.failed++
	}
}

// StartPolling launches the background reconciliation loop.
func (m *Manager) StartPolling(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.PollOpenOrders(ctx)
			}
		}
	}()
}

// StopPolling stops the reconciliation loop and waits for it to exit.
func (m *Manager) StopPolling() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// PollOpenOrders reconciles every tracked open order against the venue.
// Transitions the status machine forbids are logged and ignored so a
// misbehaving venue response cannot corrupt local state.
func (m *Manager) PollOpenOrders(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.open))
	for id := range m.open {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.mu.Lock()
		tracked, ok := m.open[id]
		if !ok {
			m.mu.Unlock()
			continue
		}
		symbol := tracked.Symbol
		m.mu.Unlock()

		latest, err := m.callStatus(ctx, symbol, id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("Order status poll failed",
				slog.String("id", id),
				slog.Any("err", err))
			continue
		}

		m.applyUpdate(id, latest)
	}
}

func (m *Manager) applyUpdate(id string, latest domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracked, ok := m.open[id]
	if !ok {
		return
	}

	if !tracked.Status.CanTransition(latest.Status) {
		slog.Error("Ignoring invalid order state transition",
			slog.String("id", id),
			slog.String("from", string(tracked.Status)),
			slog.String("to", string(latest.Status)))
		return
	}

	if latest.Status != tracked.Status {
		slog.Info("Order state changed",
			slog.String("id", id),
			slog.String("from", string(tracked.Status)),
			slog.String("to", string(latest.Status)),
			slog.String("executed_qty", latest.ExecutedQty.String()))
	}

	*tracked = latest

	if tracked.Status.IsTerminal() {
		delete(m.open, id)
		m.settleLocked(*tracked)
	}
}

// Cancel requests cancellation of one tracked open order.
func (m *Manager) Cancel(ctx context.Context, orderID string) error {
	m.mu.Lock()
	tracked, ok := m.open[orderID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("order: not tracked or already terminal: %s", orderID)
	}
	snapshot := *tracked
	m.mu.Unlock()

	accepted, err := m.callCancel(ctx, snapshot.Symbol, orderID)
	if err != nil {
		return fmt.Errorf("order: cancel %s: %w", orderID, err)
	}
	if !accepted {
		return fmt.Errorf("order: venue refused cancel of %s", orderID)
	}

	snapshot.Status = domain.StatusCanceled
	m.applyUpdate(orderID, snapshot)
	return nil
}

// CancelAll attempts to cancel every open order and returns the first
// error encountered.
func (m *Manager) CancelAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.open))
	for id := range m.open {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := m.Cancel(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// OpenOrders returns a copy of the currently tracked open orders.
func (m *Manager) OpenOrders() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Order, 0, len(m.open))
	for _, o := range m.open {
		out = append(out, *o)
	}
	return out
}

// History returns a copy of all settled orders.
func (m *Manager) History() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Order, len(m.history))
	copy(out, m.history)
	return out
}

// Status returns the manager's accounting snapshot. The success rate is
// filled orders over settled orders.
func (m *Manager) Status() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := State{
		OpenOrders: len(m.open),
		MaxOrders:  m.maxOrders,
		Submitted:  m.submitted,
		Filled:     m.filled,
		Failed:     m.failed,
		Rejected:   m.rejected,
	}
	if settled := m.filled + m.failed; settled > 0 {
		st.SuccessRate = float64(m.filled) / float64(settled)
	}
	return st
}

// callBalance, callPlace, callStatus and callCancel funnel every venue
// call through the rate limiter and the circuit breaker.

func (m *Manager) callBalance(ctx context.Context) (decimal.Decimal, error) {
	if err := m.guard(ctx); err != nil {
		return decimal.Zero, err
	}
	bal, err := m.client.GetAccountBalance(ctx)
	m.record(err)
	return bal, err
}

func (m *Manager) callPlace(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	if err := m.guard(ctx); err != nil {
		return domain.Order{}, err
	}
	o, err := m.client.PlaceOrder(ctx, req)
	m.record(err)
	return o, err
}

func (m *Manager) callStatus(ctx context.Context, symbol, id string) (domain.Order, error) {
	if err := m.guard(ctx); err != nil {
		return domain.Order{}, err
	}
	o, err := m.client.GetOrderStatus(ctx, symbol, id)
	m.record(err)
	return o, err
}

func (m *Manager) callCancel(ctx context.Context, symbol, id string) (bool, error) {
	if err := m.guard(ctx); err != nil {
		return false, err
	}
	ok, err := m.client.CancelOrder(ctx, symbol, id)
	m.record(err)
	return ok, err
}

func (m *Manager) guard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !m.breaker.Allow() {
		return fmt.Errorf("order: execution circuit breaker open")
	}
	m.limiter.Wait()
	return nil
}

func (m *Manager) record(err error) {
	if err != nil {
		m.breaker.RecordFailure()
	} else {
		m.breaker.RecordSuccess()
	}
}
