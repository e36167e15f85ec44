package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	_ "github.com/glebarez/go-sqlite"

	"github.com/Yasser1AITLAZIZ/trading-bot/internal/domain"
)

// DecisionStore persists decisions and analysis passes in SQLite.
// It implements domain.PersistenceSink. Writes are fire-and-forget from
// the trading loop's point of view: a storage failure is logged upstream
// and never blocks trading.
type DecisionStore struct {
	db *sql.DB
}

// NewDecisionStore opens (or creates) the SQLite database with WAL mode
// enabled and runs the schema migration.
func NewDecisionStore(dbPath string) (*DecisionStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			fired_at INTEGER NOT NULL,
			action TEXT NOT NULL,
			quantity TEXT NOT NULL,
			price TEXT,
			stop_loss TEXT,
			take_profit TEXT,
			confidence REAL NOT NULL,
			risk_score REAL NOT NULL,
			reasoning TEXT NOT NULL,
			candle_count INTEGER NOT NULL,
			executed INTEGER NOT NULL DEFAULT 0
		);
	`); err != nil {
		return nil, fmt.Errorf("failed to create decisions table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS analyses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			fired_at INTEGER NOT NULL,
			candle_count INTEGER NOT NULL,
			indicators BLOB NOT NULL,
			signals BLOB NOT NULL
		);
	`); err != nil {
		return nil, fmt.Errorf("failed to create analyses table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`); err != nil {
		return nil, fmt.Errorf("failed to create metadata table: %w", err)
	}

	return &DecisionStore{db: db}, nil
}

func decimalPtr(s sql.NullString) *decimal.Decimal {
	if !s.Valid {
		return nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil
	}
	return &d
}

func decimalString(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

// RecordDecision stores one decision with its execution context.
func (s *DecisionStore) RecordDecision(ctx context.Context, d domain.Decision, dc domain.DecisionContext) error {
	executed := 0
	if dc.Executed {
		executed = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions
			(symbol, fired_at, action, quantity, price, stop_loss, take_profit,
			 confidence, risk_score, reasoning, candle_count, executed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dc.Symbol,
		dc.FiredAt.UnixMilli(),
		string(d.Action),
		d.Quantity.String(),
		decimalString(d.Price),
		decimalString(d.StopLoss),
		decimalString(d.TakeProfit),
		d.Confidence,
		d.RiskScore,
		d.Reasoning,
		dc.CandleCount,
		executed,
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

// RecordAnalysis stores the summary of one analysis pass.
func (s *DecisionStore) RecordAnalysis(ctx context.Context, rec domain.AnalysisRecord) error {
	indicators, err := json.Marshal(rec.Indicators)
	if err != nil {
		return fmt.Errorf("failed to marshal indicators: %w", err)
	}
	signals, err := json.Marshal(rec.Signals)
	if err != nil {
		return fmt.Errorf("failed to marshal signals: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analyses (symbol, fired_at, candle_count, indicators, signals)
		VALUES (?, ?, ?, ?, ?)`,
		rec.Symbol, rec.FiredAt.UnixMilli(), rec.CandleCount, indicators, signals,
	)
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}
	return nil
}

// StoredDecision is a decision row read back from the database.
type StoredDecision struct {
	ID          int64
	Decision    domain.Decision
	FiredAtMs   int64
	CandleCount int
	Executed    bool
}

// RecentDecisions returns the newest limit decisions, newest first.
func (s *DecisionStore) RecentDecisions(ctx context.Context, limit int) ([]StoredDecision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, fired_at, action, quantity, price, stop_loss, take_profit,
		       confidence, risk_score, reasoning, candle_count, executed
		FROM decisions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var out []StoredDecision
	for rows.Next() {
		var (
			rec                         StoredDecision
			action, quantity, reasoning string
			price, stopLoss, takeProfit sql.NullString
			executed                    int
		)
		if err := rows.Scan(&rec.ID, &rec.Decision.Symbol, &rec.FiredAtMs, &action,
			&quantity, &price, &stopLoss, &takeProfit,
			&rec.Decision.Confidence, &rec.Decision.RiskScore, &reasoning,
			&rec.CandleCount, &executed); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}

		rec.Decision.Action = domain.Action(action)
		rec.Decision.Reasoning = reasoning
		qty, err := decimal.NewFromString(quantity)
		if err != nil {
			return nil, fmt.Errorf("corrupt quantity in decision %d: %w", rec.ID, err)
		}
		rec.Decision.Quantity = qty
		rec.Decision.Price = decimalPtr(price)
		rec.Decision.StopLoss = decimalPtr(stopLoss)
		rec.Decision.TakeProfit = decimalPtr(takeProfit)
		rec.Executed = executed != 0

		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// AnalysisCount returns the number of stored analysis passes.
func (s *DecisionStore) AnalysisCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM analyses").Scan(&n)
	return n, err
}

// UpsertMetadata saves a key-value pair to the metadata table.
func (s *DecisionStore) UpsertMetadata(ctx context.Context, key, value string, ts int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		key, value, ts,
	)
	return err
}

// GetMetadata retrieves a value from the metadata table. Missing keys
// return an empty string.
func (s *DecisionStore) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// Close closes the database connection.
func (s *DecisionStore) Close() error {
	return s.db.Close()
}
