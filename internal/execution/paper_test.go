package execution

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Yasser1AITLAZIZ/trading-bot/internal/domain"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestPaperClient_MarketBuyFillsImmediately(t *testing.T) {
	p := NewPaperClient("USDT", d(10000))
	p.UpdatePrice("BTCUSDT", d(100))

	order, err := p.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          domain.SideBuy,
		Type:          domain.TypeMarket,
		Quantity:      d(2),
		ClientOrderID: "c-1",
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	if order.Status != domain.StatusFilled {
		t.Errorf("status = %s, want FILLED", order.Status)
	}
	if !order.ExecutedQty.Equal(d(2)) {
		t.Errorf("executed qty = %s", order.ExecutedQty)
	}
	if order.ExecutedPrice == nil || !order.ExecutedPrice.Equal(d(100)) {
		t.Errorf("executed price = %v", order.ExecutedPrice)
	}

	// 10000 - 2*100 = 9800 USDT, 2 BTC
	if got := p.Balance("USDT"); !got.Equal(d(9800)) {
		t.Errorf("USDT balance = %s, want 9800", got)
	}
	if got := p.Balance("BTC"); !got.Equal(d(2)) {
		t.Errorf("BTC balance = %s, want 2", got)
	}
	if len(p.Fills()) != 1 {
		t.Errorf("expected 1 fill, got %d", len(p.Fills()))
	}
}

func TestPaperClient_SellRoundTrip(t *testing.T) {
	p := NewPaperClient("USDT", d(1000))
	p.UpdatePrice("ETHUSDT", d(50))

	ctx := context.Background()
	if _, err := p.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "ETHUSDT", Side: domain.SideBuy, Type: domain.TypeMarket, Quantity: d(4),
	}); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	p.UpdatePrice("ETHUSDT", d(60))
	if _, err := p.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "ETHUSDT", Side: domain.SideSell, Type: domain.TypeMarket, Quantity: d(4),
	}); err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	// 1000 - 200 + 240 = 1040
	if got := p.Balance("USDT"); !got.Equal(d(1040)) {
		t.Errorf("USDT balance = %s, want 1040", got)
	}
	if got := p.Balance("ETH"); !got.IsZero() {
		t.Errorf("ETH balance = %s, want 0", got)
	}
}

func TestPaperClient_RejectsInsufficientBalance(t *testing.T) {
	p := NewPaperClient("USDT", d(100))
	p.UpdatePrice("BTCUSDT", d(1000))

	_, err := p.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.TypeMarket, Quantity: d(1),
	})
	if err == nil {
		t.Fatal("expected insufficient balance error")
	}

	// Balance untouched on rejection
	if got := p.Balance("USDT"); !got.Equal(d(100)) {
		t.Errorf("USDT balance = %s, want 100", got)
	}
}

func TestPaperClient_RejectsMarketOrderWithoutPrice(t *testing.T) {
	p := NewPaperClient("USDT", d(1000))

	_, err := p.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.TypeMarket, Quantity: d(1),
	})
	if err == nil {
		t.Fatal("expected error without a market price")
	}
}

func TestPaperClient_LimitOrderUsesLimitPrice(t *testing.T) {
	p := NewPaperClient("USDT", d(1000))

	limit := d(40)
	order, err := p.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol: "SOLUSDT", Side: domain.SideBuy, Type: domain.TypeLimit, Quantity: d(5), Price: &limit,
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if order.ExecutedPrice == nil || !order.ExecutedPrice.Equal(limit) {
		t.Errorf("executed price = %v, want %s", order.ExecutedPrice, limit)
	}
	if got := p.Balance("USDT"); !got.Equal(d(800)) {
		t.Errorf("USDT balance = %s, want 800", got)
	}
}

func TestPaperClient_GetOrderStatusAndCancel(t *testing.T) {
	p := NewPaperClient("USDT", d(1000))
	p.UpdatePrice("BTCUSDT", d(100))
	ctx := context.Background()

	order, err := p.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.TypeMarket, Quantity: d(1),
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	got, err := p.GetOrderStatus(ctx, "BTCUSDT", order.ID)
	if err != nil {
		t.Fatalf("GetOrderStatus failed: %v", err)
	}
	if got.Status != domain.StatusFilled {
		t.Errorf("status = %s", got.Status)
	}

	// Filled orders cannot be canceled
	if ok, err := p.CancelOrder(ctx, "BTCUSDT", order.ID); ok || err == nil {
		t.Error("expected cancel of filled order to fail")
	}

	// Force open, then cancel succeeds
	if err := p.SetOrderStatus(order.ID, domain.StatusNew); err != nil {
		t.Fatalf("SetOrderStatus failed: %v", err)
	}
	ok, err := p.CancelOrder(ctx, "BTCUSDT", order.ID)
	if !ok || err != nil {
		t.Errorf("CancelOrder = %v, %v", ok, err)
	}

	if _, err := p.GetOrderStatus(ctx, "BTCUSDT", "missing"); err == nil {
		t.Error("expected error for unknown order")
	}
}

func TestSplitSymbol(t *testing.T) {
	tests := []struct {
		symbol      string
		base, quote string
		wantErr     bool
	}{
		{"BTCUSDT", "BTC", "USDT", false},
		{"ETHBTC", "ETH", "BTC", false},
		{"SOLUSDC", "SOL", "USDC", false},
		{"USDT", "", "", true},
		{"XYZ", "", "", true},
	}

	for _, tt := range tests {
		base, quote, err := splitSymbol(tt.symbol)
		if (err != nil) != tt.wantErr {
			t.Errorf("splitSymbol(%s) err = %v", tt.symbol, err)
			continue
		}
		if base != tt.base || quote != tt.quote {
			t.Errorf("splitSymbol(%s) = %s/%s, want %s/%s", tt.symbol, base, quote, tt.base, tt.quote)
		}
	}
}
