package domain

import "testing"

func TestOrderStatus_IsTerminal(t *testing.T) {
	terminal := []OrderStatus{StatusFilled, StatusCanceled, StatusRejected, StatusExpired}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	open := []OrderStatus{StatusNew, StatusPartiallyFilled}
	for _, s := range open {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestOrderStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{StatusNew, StatusPartiallyFilled, true},
		{StatusNew, StatusFilled, true},
		{StatusNew, StatusCanceled, true},
		{StatusNew, StatusRejected, true},
		{StatusPartiallyFilled, StatusFilled, true},
		{StatusPartiallyFilled, StatusCanceled, true},
		{StatusPartiallyFilled, StatusNew, false},
		{StatusFilled, StatusCanceled, false},
		{StatusCanceled, StatusFilled, false},
		{StatusFilled, StatusFilled, true}, // poll may see same state twice
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestDecision_IsActionable(t *testing.T) {
	d := Decision{Action: ActionHold, Symbol: "BTCUSDT"}
	if d.IsActionable() {
		t.Error("HOLD should not be actionable")
	}

	d = Decision{Action: ActionBuy, Symbol: "BTCUSDT"}
	if d.IsActionable() {
		t.Error("zero quantity should not be actionable")
	}
}
