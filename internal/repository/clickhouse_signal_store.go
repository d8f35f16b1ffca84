package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"FinSignal/internal/domain/models"
	domrepo "FinSignal/internal/domain/repository"
)

// ClickHouseSignalStore keeps the signal audit trail in ClickHouse.
type ClickHouseSignalStore struct {
	db    *sql.DB
	table string
}

// NewClickHouseSignalStore creates the signal store.
func NewClickHouseSignalStore(db *sql.DB, database string) domrepo.SignalStore {
	if database == "" {
		database = "finsignal"
	}
	return &ClickHouseSignalStore{db: db, table: signalTable(database)}
}

func (s *ClickHouseSignalStore) StoreSignal(ctx context.Context, sig *models.TradingSignal) error {
	if sig == nil {
		return nil
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, created_at, symbol, side, quantity, price, stop_loss, take_profit, confidence, regime, strategy, rationale)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	_, err := s.db.ExecContext(ctx, q,
		sig.ID,
		sig.CreatedAt.UTC(),
		sig.Symbol,
		string(sig.Side),
		sig.Quantity,
		sig.Price,
		sig.StopLoss,
		sig.TakeProfit,
		sig.Confidence,
		string(sig.Regime),
		sig.Strategy,
		sig.Rationale,
	)
	if err != nil {
		return fmt.Errorf("store signal: %w", err)
	}
	return nil
}

// RecentSignals returns the newest signals for symbol since the given time, newest first.
func (s *ClickHouseSignalStore) RecentSignals(ctx context.Context, symbol string, since time.Time, limit int) ([]models.TradingSignal, error) {
	if limit <= 0 {
		limit = 100
	}
	q := fmt.Sprintf(`SELECT id, created_at, symbol, side, quantity, price, stop_loss, take_profit, confidence, regime, strategy, rationale
        FROM %s WHERE symbol = ? AND created_at >= ? ORDER BY created_at DESC LIMIT ?`, s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []models.TradingSignal
	for rows.Next() {
		var (
			sig          models.TradingSignal
			side, regime string
		)
		if err := rows.Scan(&sig.ID, &sig.CreatedAt, &sig.Symbol, &side, &sig.Quantity, &sig.Price,
			&sig.StopLoss, &sig.TakeProfit, &sig.Confidence, &regime, &sig.Strategy, &sig.Rationale); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		sig.Side = models.TradeSide(side)
		sig.Regime = models.Regime(regime)
		sig.CreatedAt = sig.CreatedAt.UTC()
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (s *ClickHouseSignalStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
