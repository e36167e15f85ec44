package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Yasser1AITLAZIZ/trading-bot/internal/execution"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/infra"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/loop"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/market"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/order"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/risk"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/storage"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/strategy"
	"github.com/Yasser1AITLAZIZ/trading-bot/internal/stream"
)

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config *infra.Config
	Store  *storage.DecisionStore
	Loop   *loop.Orchestrator

	unlock func()
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration, prepares the workspace and wires the
// full trading loop. Nothing is started yet.
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping trading bot...")

	// 1. Load Config (Dynamic Path Resolution)
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Workspace layout: _workspace/data/{mode}/decisions.db
	mode := strings.ToLower(cfg.Trading.Mode)
	workDir := infra.GetWorkspaceDir()
	dataDir := filepath.Join(workDir, "data", mode)
	if err := infra.EnsureDir(dataDir); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	// 3.1 Singleton instance lock. Two processes on the same SQLite
	// database would corrupt it.
	unlock, err := infra.CreateLockFile(workDir)
	if err != nil {
		return err
	}
	b.unlock = unlock

	dbPath := filepath.Join(dataDir, "decisions.db")
	store, err := storage.NewDecisionStore(dbPath)
	if err != nil {
		return err
	}
	b.Store = store
	slog.Info("✅ DecisionStore initialized (WAL-mode)", "path", dbPath, "mode", mode)

	// 4. Wire the loop: venue, risk, orders, strategy, orchestrator.
	paper := execution.NewPaperClient("USDT", decimal.NewFromFloat(cfg.Trading.PaperBalance))

	buffer, err := market.NewBuffer(cfg.Streaming.BufferSize)
	if err != nil {
		return err
	}

	provider, err := strategy.NewTechnicalProvider(decimal.NewFromFloat(cfg.Trading.OrderQuantity))
	if err != nil {
		return err
	}

	orders := order.NewManager(cfg, paper, risk.NewManager(cfg.Risk))

	orch, err := loop.NewOrchestrator(cfg, loop.Deps{
		Buffer:   buffer,
		Provider: provider,
		Orders:   orders,
		Prices:   paper,
		Sink:     store,
	})
	if err != nil {
		return err
	}

	// The orchestrator is the stream's candle sink; terminal stream
	// failures feed back into its degradation policy.
	ingestor := stream.NewIngestor(cfg, orch, orch.HandleStreamError)
	orch.SetStream(ingestor)
	b.Loop = orch

	slog.Info("✅ Trading loop wired",
		slog.String("symbol", cfg.Trading.Symbol),
		slog.String("mode", mode),
		slog.Int("buffer", cfg.Streaming.BufferSize))

	return nil
}

// Run starts the loop and blocks until the context is cancelled, then
// shuts everything down in order.
func (b *Bootstrap) Run(ctx context.Context) error {
	if err := b.Loop.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	slog.Info("👋 Shutting down gracefully...")
	b.Loop.Stop()
	return nil
}

// Close releases resources held since Initialize.
func (b *Bootstrap) Close() {
	if b.Store != nil {
		b.Store.Close()
	}
	if b.unlock != nil {
		b.unlock()
	}
}
