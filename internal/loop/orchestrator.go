package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Yasser1AITLAZIZ/trading-bot/internal/domain"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/infra"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/market"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/order"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/schedule"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/strategy"
)

// Phase is the orchestrator lifecycle state.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseRunning  Phase = "running"
	PhaseStopping Phase = "stopping"
)

// Streamer is the market data feed lifecycle the orchestrator drives.
// *stream.Ingestor satisfies it.
type Streamer interface {
	Start(ctx context.Context)
	Stop()
	Connected() bool
}

// PriceUpdater receives the latest close so the execution venue can fill
// market orders. *execution.PaperClient satisfies it.
type PriceUpdater interface {
	UpdatePrice(symbol string, price decimal.Decimal)
}

// Deps are the collaborators the orchestrator coordinates. Stream and
// Sink are optional; everything else is required.
type Deps struct {
	Buffer   *market.Buffer
	Stream   Streamer
	Provider domain.DecisionProvider
	Orders   *order.Manager
	Prices   PriceUpdater
	Sink     domain.PersistenceSink
}

// Status is a point-in-time view across the whole loop.
type Status struct {
	Phase           Phase              `json:"phase"`
	StreamConnected bool               `json:"stream_connected"`
	StreamDegraded  bool               `json:"stream_degraded"`
	Buffer          market.BufferState `json:"buffer"`
	Scheduler       schedule.State     `json:"scheduler"`
	Orders          order.State        `json:"orders"`
}

// Orchestrator owns the autonomous trading loop: candles stream into the
// buffer, the scheduler fires analysis passes, approved decisions become
// orders. One analysis pass runs at a time; an overlapping trigger is an
// anomaly that is logged and skipped.
type Orchestrator struct {
	cfg  *infra.Config
	deps Deps

	scheduler *schedule.Scheduler

	// Hooks fire synchronously on the loop goroutine. Set before Start.
	OnNewCandle func(domain.Candle)
	OnDecision  func(domain.Decision)
	OnError     func(error)

	mu       sync.Mutex
	phase    Phase
	cancel   context.CancelFunc
	degraded bool

	inFlight atomic.Bool
	stopOnce sync.Once
}

// NewOrchestrator wires the loop. It does not start anything.
func NewOrchestrator(cfg *infra.Config, deps Deps) (*Orchestrator, error) {
	if deps.Buffer == nil || deps.Provider == nil || deps.Orders == nil {
		return nil, fmt.Errorf("loop: buffer, provider and orders are required")
	}

	o := &Orchestrator{
		cfg:   cfg,
		deps:  deps,
		phase: PhaseIdle,
	}

	sched, err := schedule.NewScheduler(
		time.Duration(cfg.Streaming.AnalysisInterval)*time.Second,
		o.RunAnalysis,
		o.onSchedulerHalt,
	)
	if err != nil {
		return nil, err
	}
	o.scheduler = sched

	return o, nil
}

// Start moves the loop from idle to running: stream, scheduler and order
// polling all come up. Starting a non-idle loop is an error.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.phase != PhaseIdle {
		phase := o.phase
		o.mu.Unlock()
		return fmt.Errorf("loop: cannot start from phase %s", phase)
	}
	o.phase = PhaseRunning
	o.degraded = false
	o.stopOnce = sync.Once{}
	ctx, o.cancel = context.WithCancel(ctx)
	o.mu.Unlock()

	slog.Info("🚀 Trading loop starting",
		slog.String("symbol", o.cfg.Trading.Symbol),
		slog.String("timeframe", o.cfg.Trading.Timeframe),
		slog.Int("analysis_interval_sec", o.cfg.Streaming.AnalysisInterval))

	if o.deps.Stream != nil {
		o.deps.Stream.Start(ctx)
	}
	o.scheduler.Start(ctx)
	o.deps.Orders.StartPolling(ctx)

	return nil
}

// Stop drains the loop back to idle. Safe to call more than once.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.mu.Lock()
		if o.phase != PhaseRunning {
			o.mu.Unlock()
			return
		}
		o.phase = PhaseStopping
		cancel := o.cancel
		o.mu.Unlock()

		slog.Info("Trading loop stopping")

		o.scheduler.Stop()
		if o.deps.Stream != nil {
			o.deps.Stream.Stop()
		}
		o.deps.Orders.StopPolling()
		if cancel != nil {
			cancel()
		}

		o.mu.Lock()
		o.phase = PhaseIdle
		o.mu.Unlock()

		slog.Info("Trading loop stopped")
	})
}

// SetStream attaches the market data feed. Must be called before Start;
// it exists because the stream's candle sink is the orchestrator itself.
func (o *Orchestrator) SetStream(s Streamer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deps.Stream = s
}

// Phase returns the current lifecycle phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Status aggregates the state of every component in the loop.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	phase := o.phase
	degraded := o.degraded
	o.mu.Unlock()

	st := Status{
		Phase:     phase,
		Buffer:    o.deps.Buffer.Stats(),
		Scheduler: o.scheduler.Status(),
		Orders:    o.deps.Orders.Status(),
	}
	st.StreamDegraded = degraded
	if o.deps.Stream != nil {
		st.StreamConnected = o.deps.Stream.Connected()
	}
	return st
}

// Push feeds one candle into the loop. It is the stream sink: the candle
// lands in the buffer, the venue price is refreshed and the OnNewCandle
// hook fires. Implements stream.CandleSink.
func (o *Orchestrator) Push(c domain.Candle) error {
	if err := o.deps.Buffer.Push(c); err != nil {
		return err
	}
	if o.deps.Prices != nil {
		o.deps.Prices.UpdatePrice(c.Symbol, c.Close)
	}
	if o.OnNewCandle != nil {
		o.OnNewCandle(c)
	}
	return nil
}

// HandleStreamError reacts to a terminal stream failure. Depending on
// configuration the loop either stops outright or keeps running degraded
// on the frozen buffer until the operator intervenes.
func (o *Orchestrator) HandleStreamError(err error) {
	slog.Error("Stream failed terminally", slog.Any("err", err))
	o.fireError(err)

	if o.cfg.Trading.StopOnStreamFailure {
		go o.Stop()
		return
	}

	o.mu.Lock()
	o.degraded = true
	o.mu.Unlock()
	slog.Warn("Continuing in degraded mode without live data")
}

func (o *Orchestrator) onSchedulerHalt(err error) {
	slog.Error("Analysis scheduler halted, stopping loop", slog.Any("err", err))
	o.fireError(err)
	go o.Stop()
}

func (o *Orchestrator) fireError(err error) {
	if o.OnError != nil {
		o.OnError(err)
	}
}

// RunAnalysis executes one analysis pass: snapshot, indicators, decision,
// persistence, and submission when the decision is actionable. A pass
// that finds too few candles is a quiet no-op, not a failure.
func (o *Orchestrator) RunAnalysis(ctx context.Context) error {
	if !o.inFlight.CompareAndSwap(false, true) {
		slog.Error("Analysis overlap detected, skipping tick")
		return nil
	}
	defer o.inFlight.Store(false)

	candles := o.deps.Buffer.Snapshot()
	if len(candles) < o.cfg.Streaming.MinCandles {
		slog.Debug("Not enough candles for analysis",
			slog.Int("have", len(candles)),
			slog.Int("need", o.cfg.Streaming.MinCandles))
		return nil
	}

	firedAt := time.Now().UTC()
	ind := strategy.ComputeIndicators(candles)
	signals := strategy.ComputeSignals(candles, ind)

	stratCfg := domain.StrategyConfig{
		Name:            "technical",
		MaxRiskPerTrade: o.cfg.Risk.MaxRiskPerTrade,
		MinConfidence:   o.cfg.Risk.MinConfidence,
		StopLossPct:     o.cfg.Strategy.StopLossPct,
		TakeProfitPct:   o.cfg.Strategy.TakeProfitPct,
	}

	decision, err := o.deps.Provider.Decide(candles, ind, signals, stratCfg)
	if err != nil {
		o.fireError(err)
		return fmt.Errorf("loop: decide: %w", err)
	}
	if err := decision.Validate(); err != nil {
		o.fireError(err)
		return fmt.Errorf("loop: invalid decision: %w", err)
	}

	slog.Info("Analysis decision",
		slog.String("action", string(decision.Action)),
		slog.String("symbol", decision.Symbol),
		slog.Float64("confidence", decision.Confidence),
		slog.Float64("risk_score", decision.RiskScore),
		slog.String("reasoning", decision.Reasoning))

	if o.OnDecision != nil {
		o.OnDecision(decision)
	}

	o.persistAnalysis(ctx, domain.AnalysisRecord{
		Symbol:      o.cfg.Trading.Symbol,
		FiredAt:     firedAt,
		CandleCount: len(candles),
		Indicators:  ind,
		Signals:     signals,
	})

	executed := false
	if decision.IsActionable() {
		executed = o.submit(ctx, decision, candles[len(candles)-1].Close)
	}

	o.persistDecision(ctx, decision, domain.DecisionContext{
		Symbol:      o.cfg.Trading.Symbol,
		FiredAt:     firedAt,
		CandleCount: len(candles),
		Executed:    executed,
	})

	return nil
}

// submit hands an actionable decision to the order manager. Risk
// rejections and the capacity gate are normal outcomes, not loop
// failures; only unexpected venue errors reach the OnError hook.
func (o *Orchestrator) submit(ctx context.Context, d domain.Decision, refPrice decimal.Decimal) bool {
	placed, err := o.deps.Orders.Submit(ctx, d, refPrice)
	if err != nil {
		switch {
		case isExpectedSubmitError(err):
			slog.Warn("Decision not executed", slog.Any("reason", err))
		default:
			slog.Error("Order submission failed", slog.Any("err", err))
			o.fireError(err)
		}
		return false
	}

	slog.Info("Decision executed",
		slog.String("order_id", placed.ID),
		slog.String("status", string(placed.Status)))
	return true
}

func isExpectedSubmitError(err error) bool {
	if err == nil {
		return false
	}
	var rej *order.RejectionError
	return errors.Is(err, order.ErrAtCapacity) || errors.As(err, &rej)
}

func (o *Orchestrator) persistAnalysis(ctx context.Context, rec domain.AnalysisRecord) {
	if o.deps.Sink == nil {
		return
	}
	if err := o.deps.Sink.RecordAnalysis(ctx, rec); err != nil {
		slog.Warn("Failed to persist analysis", slog.Any("err", err))
	}
}

func (o *Orchestrator) persistDecision(ctx context.Context, d domain.Decision, dc domain.DecisionContext) {
	if o.deps.Sink == nil {
		return
	}
	if err := o.deps.Sink.RecordDecision(ctx, d, dc); err != nil {
		slog.Warn("Failed to persist decision", slog.Any("err", err))
	}
}
