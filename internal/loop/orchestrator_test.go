package loop

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Yasser1AITLAZIZ/trading-bot/internal/domain"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/execution"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/infra"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/market"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/order"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/risk"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/storage"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/strategy"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func candleAt(step int, price float64) domain.Candle {
	p := decimal.NewFromFloat(price)
	return domain.Candle{
		Symbol: "BTCUSDT",
		Time:   t0.Add(time.Duration(step) * time.Minute),
		Open:   p,
		High:   p.Add(decimal.NewFromFloat(0.5)),
		Low:    p.Sub(decimal.NewFromFloat(0.5)),
		Close:  p,
		Volume: decimal.NewFromInt(10),
	}
}

// stubProvider returns a fixed decision on every pass.
type stubProvider struct {
	decision domain.Decision
	err      error
	calls    int32
	block    chan struct{} // when set, Decide blocks until closed
}

func (s *stubProvider) Decide(candles []domain.Candle, ind domain.Indicators, signals map[string]string, cfg domain.StrategyConfig) (domain.Decision, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.block != nil {
		<-s.block
	}
	return s.decision, s.err
}

// fakeStream satisfies Streamer without any network.
type fakeStream struct {
	started   atomic.Bool
	stopped   atomic.Bool
	connected bool
}

func (f *fakeStream) Start(ctx context.Context) { f.started.Store(true) }
func (f *fakeStream) Stop()                     { f.stopped.Store(true) }
func (f *fakeStream) Connected() bool           { return f.connected }

// buildLoop wires a full paper-trading loop around the given provider.
func buildLoop(t *testing.T, provider domain.DecisionProvider, sink domain.PersistenceSink) (*Orchestrator, *execution.PaperClient, *order.Manager) {
	t.Helper()

	cfg := infra.DefaultConfig()
	buf, err := market.NewBuffer(cfg.Streaming.BufferSize)
	if err != nil {
		t.Fatalf("NewBuffer failed: %v", err)
	}

	paper := execution.NewPaperClient("USDT", decimal.NewFromInt(10000))
	orders := order.NewManager(cfg, paper, risk.NewManager(cfg.Risk))

	orch, err := NewOrchestrator(cfg, Deps{
		Buffer:   buf,
		Provider: provider,
		Orders:   orders,
		Prices:   paper,
		Sink:     sink,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	return orch, paper, orders
}

func pushAscending(t *testing.T, orch *Orchestrator, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := orch.Push(candleAt(i, 100+float64(i))); err != nil {
			t.Fatalf("Push %d failed: %v", i, err)
		}
	}
}

func TestLoop_UptrendEndToEnd(t *testing.T) {
	store, err := storage.NewDecisionStore(filepath.Join(t.TempDir(), "loop.db"))
	if err != nil {
		t.Fatalf("NewDecisionStore failed: %v", err)
	}
	defer store.Close()

	provider, err := strategy.NewTechnicalProvider(decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("NewTechnicalProvider failed: %v", err)
	}

	orch, paper, orders := buildLoop(t, provider, store)

	var decisions []domain.Decision
	orch.OnDecision = func(d domain.Decision) { decisions = append(decisions, d) }

	var candleHooks int
	orch.OnNewCandle = func(domain.Candle) { candleHooks++ }

	pushAscending(t, orch, 25)
	if candleHooks != 25 {
		t.Errorf("OnNewCandle fired %d times, want 25", candleHooks)
	}

	if err := orch.RunAnalysis(context.Background()); err != nil {
		t.Fatalf("RunAnalysis failed: %v", err)
	}

	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	d := decisions[0]
	if d.Action != domain.ActionBuy {
		t.Errorf("action = %s, want BUY", d.Action)
	}
	if d.Confidence != 0.9 {
		t.Errorf("confidence = %f, want 0.9", d.Confidence)
	}

	// The paper venue filled the order
	fills := paper.Fills()
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if !fills[0].Price.Equal(decimal.NewFromInt(124)) {
		t.Errorf("fill price = %s, want 124", fills[0].Price)
	}

	st := orders.Status()
	if st.Filled != 1 || st.SuccessRate != 1.0 {
		t.Errorf("order accounting: %+v", st)
	}

	// The decision was persisted with its executed flag
	stored, err := store.RecentDecisions(context.Background(), 1)
	if err != nil {
		t.Fatalf("RecentDecisions failed: %v", err)
	}
	if len(stored) != 1 || !stored[0].Executed {
		t.Errorf("stored decision: %+v", stored)
	}
	if n, _ := store.AnalysisCount(context.Background()); n != 1 {
		t.Errorf("analysis count = %d, want 1", n)
	}
}

func TestLoop_LowConfidenceDecisionIsNotExecuted(t *testing.T) {
	provider := &stubProvider{decision: domain.Decision{
		Action:     domain.ActionBuy,
		Symbol:     "BTCUSDT",
		Quantity:   decimal.NewFromInt(1),
		Confidence: 0.3,
		RiskScore:  0.2,
		Reasoning:  "weak signal",
	}}

	orch, paper, orders := buildLoop(t, provider, nil)

	var decisions []domain.Decision
	orch.OnDecision = func(d domain.Decision) { decisions = append(decisions, d) }

	pushAscending(t, orch, 25)
	if err := orch.RunAnalysis(context.Background()); err != nil {
		t.Fatalf("RunAnalysis failed: %v", err)
	}

	// The hook still fires: observers see every decision
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}

	// But nothing reached the venue
	if len(paper.Fills()) != 0 {
		t.Errorf("expected 0 fills, got %d", len(paper.Fills()))
	}
	st := orders.Status()
	if st.Submitted != 0 || st.Rejected != 1 {
		t.Errorf("order accounting: %+v", st)
	}
}

func TestLoop_TooFewCandlesSkipsAnalysis(t *testing.T) {
	provider := &stubProvider{decision: domain.Decision{Action: domain.ActionHold, Symbol: "BTCUSDT"}}
	orch, _, _ := buildLoop(t, provider, nil)

	pushAscending(t, orch, 10) // below the 20 minimum

	if err := orch.RunAnalysis(context.Background()); err != nil {
		t.Fatalf("RunAnalysis failed: %v", err)
	}
	if n := atomic.LoadInt32(&provider.calls); n != 0 {
		t.Errorf("provider called %d times below minimum window, want 0", n)
	}
}

func TestLoop_OverlappingAnalysisIsSkipped(t *testing.T) {
	provider := &stubProvider{
		decision: domain.Decision{Action: domain.ActionHold, Symbol: "BTCUSDT"},
		block:    make(chan struct{}),
	}
	orch, _, _ := buildLoop(t, provider, nil)
	pushAscending(t, orch, 25)

	done := make(chan error, 1)
	go func() { done <- orch.RunAnalysis(context.Background()) }()

	// Wait for the first pass to enter the provider
	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&provider.calls) == 0 {
		select {
		case <-deadline:
			t.Fatal("first analysis never started")
		case <-time.After(time.Millisecond):
		}
	}

	// Second trigger while the first is in flight: skipped, no second call
	if err := orch.RunAnalysis(context.Background()); err != nil {
		t.Fatalf("overlapping RunAnalysis errored: %v", err)
	}
	if n := atomic.LoadInt32(&provider.calls); n != 1 {
		t.Errorf("provider called %d times, want 1", n)
	}

	close(provider.block)
	if err := <-done; err != nil {
		t.Fatalf("first RunAnalysis failed: %v", err)
	}
}

func TestLoop_ProviderErrorPropagates(t *testing.T) {
	provider := &stubProvider{err: errors.New("model unavailable")}
	orch, _, _ := buildLoop(t, provider, nil)
	pushAscending(t, orch, 25)

	var hookErr error
	orch.OnError = func(err error) { hookErr = err }

	if err := orch.RunAnalysis(context.Background()); err == nil {
		t.Fatal("expected error from failing provider")
	}
	if hookErr == nil {
		t.Error("OnError hook did not fire")
	}
}

func TestLoop_Lifecycle(t *testing.T) {
	provider := &stubProvider{decision: domain.Decision{Action: domain.ActionHold, Symbol: "BTCUSDT"}}
	orch, _, _ := buildLoop(t, provider, nil)

	stream := &fakeStream{connected: true}
	orch.deps.Stream = stream

	if orch.Phase() != PhaseIdle {
		t.Fatalf("initial phase = %s", orch.Phase())
	}

	if err := orch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if orch.Phase() != PhaseRunning {
		t.Errorf("phase after start = %s", orch.Phase())
	}
	if !stream.started.Load() {
		t.Error("stream was not started")
	}

	// Double start is rejected
	if err := orch.Start(context.Background()); err == nil {
		t.Error("expected error starting a running loop")
	}

	st := orch.Status()
	if !st.StreamConnected {
		t.Error("status should report stream connected")
	}

	orch.Stop()
	if orch.Phase() != PhaseIdle {
		t.Errorf("phase after stop = %s", orch.Phase())
	}
	if !stream.stopped.Load() {
		t.Error("stream was not stopped")
	}

	// Stop again is a no-op
	orch.Stop()
}

func TestLoop_StreamFailurePolicies(t *testing.T) {
	t.Run("degraded mode keeps running", func(t *testing.T) {
		provider := &stubProvider{decision: domain.Decision{Action: domain.ActionHold, Symbol: "BTCUSDT"}}
		orch, _, _ := buildLoop(t, provider, nil)
		orch.deps.Stream = &fakeStream{}

		var hookErr error
		orch.OnError = func(err error) { hookErr = err }

		if err := orch.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer orch.Stop()

		orch.HandleStreamError(errors.New("max retries exceeded"))

		if orch.Phase() != PhaseRunning {
			t.Errorf("phase = %s, want running in degraded mode", orch.Phase())
		}
		if !orch.Status().StreamDegraded {
			t.Error("status should report degraded stream")
		}
		if hookErr == nil {
			t.Error("OnError hook did not fire")
		}
	})

	t.Run("stop on stream failure", func(t *testing.T) {
		provider := &stubProvider{decision: domain.Decision{Action: domain.ActionHold, Symbol: "BTCUSDT"}}

		cfg := infra.DefaultConfig()
		cfg.Trading.StopOnStreamFailure = true
		buf, _ := market.NewBuffer(cfg.Streaming.BufferSize)
		paper := execution.NewPaperClient("USDT", decimal.NewFromInt(10000))
		orders := order.NewManager(cfg, paper, risk.NewManager(cfg.Risk))
		orch, err := NewOrchestrator(cfg, Deps{
			Buffer: buf, Provider: provider, Orders: orders, Prices: paper,
			Stream: &fakeStream{},
		})
		if err != nil {
			t.Fatalf("NewOrchestrator failed: %v", err)
		}

		if err := orch.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		orch.HandleStreamError(errors.New("max retries exceeded"))

		deadline := time.After(2 * time.Second)
		for orch.Phase() != PhaseIdle {
			select {
			case <-deadline:
				t.Fatalf("loop did not stop, phase = %s", orch.Phase())
			case <-time.After(5 * time.Millisecond):
			}
		}
	})
}
