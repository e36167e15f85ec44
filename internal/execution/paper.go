package execution

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Yasser1AITLAZIZ/trading-bot/internal/domain"
)

// Fill represents a simulated order fill.
type Fill struct {
	OrderID  string
	Symbol   string
	Side     domain.Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Time     time.Time
}

// knownQuotes are the quote currencies recognized when splitting a
// symbol like BTCUSDT into base and quote.
var knownQuotes = []string{"USDT", "USDC", "FDUSD", "BTC", "ETH", "EUR"}

// PaperClient simulates order execution against virtual balances.
// Market orders fill immediately at the last known price; limit orders
// fill immediately at their limit price. Used for strategy validation
// before any real capital is involved.
type PaperClient struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	orders   map[string]*domain.Order
	fills    []Fill
	prices   map[string]decimal.Decimal
	quote    string
	seq      int
}

// NewPaperClient creates a paper client funded with an initial quote
// currency balance.
func NewPaperClient(quote string, initialBalance decimal.Decimal) *PaperClient {
	quote = strings.ToUpper(quote)
	return &PaperClient{
		balances: map[string]decimal.Decimal{quote: initialBalance},
		orders:   make(map[string]*domain.Order),
		prices:   make(map[string]decimal.Decimal),
		quote:    quote,
	}
}

// UpdatePrice sets the current market price used to fill market orders.
func (p *PaperClient) UpdatePrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[strings.ToUpper(symbol)] = price
}

// Deposit adds funds to the virtual account.
func (p *PaperClient) Deposit(asset string, amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	asset = strings.ToUpper(asset)
	p.balances[asset] = p.balance(asset).Add(amount)
}

// balance returns the held amount for an asset. Caller holds mu.
func (p *PaperClient) balance(asset string) decimal.Decimal {
	if b, ok := p.balances[asset]; ok {
		return b
	}
	return decimal.Zero
}

func splitSymbol(symbol string) (base, quote string, err error) {
	for _, q := range knownQuotes {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return symbol[:len(symbol)-len(q)], q, nil
		}
	}
	return "", "", fmt.Errorf("unrecognized symbol format: %s", symbol)
}

// PlaceOrder fills the request immediately against the virtual balances.
func (p *PaperClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	base, quote, err := splitSymbol(req.Symbol)
	if err != nil {
		return domain.Order{}, err
	}

	var execPrice decimal.Decimal
	switch req.Type {
	case domain.TypeMarket:
		price, ok := p.prices[req.Symbol]
		if !ok || price.Sign() <= 0 {
			return domain.Order{}, fmt.Errorf("no price available for %s", req.Symbol)
		}
		execPrice = price
	case domain.TypeLimit:
		if req.Price == nil || req.Price.Sign() <= 0 {
			return domain.Order{}, fmt.Errorf("limit order requires a price")
		}
		execPrice = *req.Price
	default:
		return domain.Order{}, fmt.Errorf("unsupported order type in paper mode: %s", req.Type)
	}

	if req.Quantity.Sign() <= 0 {
		return domain.Order{}, fmt.Errorf("quantity must be positive")
	}

	notional := execPrice.Mul(req.Quantity)

	switch req.Side {
	case domain.SideBuy:
		if p.balance(quote).LessThan(notional) {
			return domain.Order{}, fmt.Errorf("insufficient %s balance: need %s, have %s",
				quote, notional, p.balance(quote))
		}
		p.balances[quote] = p.balance(quote).Sub(notional)
		p.balances[base] = p.balance(base).Add(req.Quantity)
	case domain.SideSell:
		if p.balance(base).LessThan(req.Quantity) {
			return domain.Order{}, fmt.Errorf("insufficient %s balance: need %s, have %s",
				base, req.Quantity, p.balance(base))
		}
		p.balances[base] = p.balance(base).Sub(req.Quantity)
		p.balances[quote] = p.balance(quote).Add(notional)
	default:
		return domain.Order{}, fmt.Errorf("invalid side: %s", req.Side)
	}

	p.seq++
	now := time.Now().UTC()
	order := domain.Order{
		ID:            fmt.Sprintf("PAPER-%d", p.seq),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        domain.StatusFilled,
		Quantity:      req.Quantity,
		Price:         req.Price,
		ExecutedQty:   req.Quantity,
		ExecutedPrice: &execPrice,
		Time:          now,
	}
	p.orders[order.ID] = &order
	p.fills = append(p.fills, Fill{
		OrderID:  order.ID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Price:    execPrice,
		Quantity: req.Quantity,
		Time:     now,
	})

	slog.Info("PAPER EXECUTION: Order Filled",
		slog.String("id", order.ID),
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.String("price", execPrice.String()),
		slog.String("qty", req.Quantity.String()))

	return order, nil
}

// GetOrderStatus returns the tracked state of a previously placed order.
func (p *PaperClient) GetOrderStatus(ctx context.Context, symbol, orderID string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return domain.Order{}, fmt.Errorf("order not found: %s", orderID)
	}
	return *order, nil
}

// CancelOrder cancels an order that has not filled yet. Paper orders
// fill instantly, so cancellation only succeeds for orders a test has
// forced into an open state.
func (p *PaperClient) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return false, fmt.Errorf("order not found: %s", orderID)
	}
	if order.Status.IsTerminal() {
		return false, fmt.Errorf("cannot cancel %s order: %s", order.Status, orderID)
	}

	order.Status = domain.StatusCanceled
	slog.Info("PAPER EXECUTION: Order Canceled", slog.String("id", orderID))
	return true, nil
}

// GetAccountBalance returns the available quote currency balance.
func (p *PaperClient) GetAccountBalance(ctx context.Context) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance(p.quote), nil
}

// Fills returns a copy of all executed fills.
func (p *PaperClient) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Fill, len(p.fills))
	copy(out, p.fills)
	return out
}

// Balance returns the held amount for an asset.
func (p *PaperClient) Balance(asset string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance(strings.ToUpper(asset))
}

// SetOrderStatus overrides a tracked order's status. Test hook for
// exercising the order manager's reconciliation path.
func (p *PaperClient) SetOrderStatus(orderID string, status domain.OrderStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("order not found: %s", orderID)
	}
	order.Status = status
	return nil
}
