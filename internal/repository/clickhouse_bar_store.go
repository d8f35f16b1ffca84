package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"FinSignal/internal/domain/models"
	domrepo "FinSignal/internal/domain/repository"
	pkgch "FinSignal/pkg/clickhouse"
	applogger "FinSignal/pkg/logger"
)

const barColumns = "ts, symbol, open, high, low, close, volume"

// CHBarStore implements BarStore backed by ClickHouse, one table per timeframe.
type CHBarStore struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
}

// NewCHBarStore creates a bar store on the client's pool.
func NewCHBarStore(ch *pkgch.Client, database string) *CHBarStore {
	return newCHBarStore(ch.DB(), database)
}

func newCHBarStore(db *sql.DB, database string) *CHBarStore {
	if database == "" {
		database = "finsignal"
	}
	return &CHBarStore{db: db, database: database, l: applogger.NewNop()}
}

// SetLogger injects a structured logger.
func (s *CHBarStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

// GetBars returns bars in [from, to] in ascending time order.
func (s *CHBarStore) GetBars(ctx context.Context, symbol string, from, to time.Time, tf domrepo.Timeframe) ([]models.MarketBar, error) {
	start := time.Now()
	table, err := s.tableForTF(tf)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
        SELECT %s
        FROM %s
        WHERE symbol = ? AND ts >= ? AND ts <= ?
        ORDER BY ts ASC
    `, barColumns, table)
	rows, err := s.db.QueryContext(ctx, q, symbol, from, to)
	if err != nil {
		s.l.Error("clickhouse get_bars query error",
			applogger.String("table", table),
			applogger.Symbol(symbol),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("get bars: %w", err)
	}
	defer rows.Close()

	out, err := scanBars(rows, 1024)
	if err != nil {
		s.l.Error("clickhouse get_bars scan error",
			applogger.String("table", table),
			applogger.Symbol(symbol),
			applogger.Error(err),
		)
		return nil, err
	}
	s.l.Debug("clickhouse get_bars ok",
		applogger.String("table", table),
		applogger.Symbol(symbol),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

// GetLatestNBars returns the newest n bars in ascending time order.
func (s *CHBarStore) GetLatestNBars(ctx context.Context, symbol string, n int, tf domrepo.Timeframe) ([]models.MarketBar, error) {
	start := time.Now()
	table, err := s.tableForTF(tf)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return []models.MarketBar{}, nil
	}
	q := fmt.Sprintf(`
        SELECT %s
        FROM %s
        WHERE symbol = ?
        ORDER BY ts DESC
        LIMIT ?
    `, barColumns, table)
	rows, err := s.db.QueryContext(ctx, q, symbol, n)
	if err != nil {
		s.l.Error("clickhouse latest_bars query error",
			applogger.String("table", table),
			applogger.Symbol(symbol),
			applogger.Int("limit", n),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("get latest bars: %w", err)
	}
	defer rows.Close()

	tmp, err := scanBars(rows, n)
	if err != nil {
		s.l.Error("clickhouse latest_bars scan error",
			applogger.String("table", table),
			applogger.Symbol(symbol),
			applogger.Error(err),
		)
		return nil, err
	}
	// reverse to ASC
	for i, j := 0, len(tmp)-1; i < j; i, j = i+1, j-1 {
		tmp[i], tmp[j] = tmp[j], tmp[i]
	}
	s.l.Debug("clickhouse latest_bars ok",
		applogger.String("table", table),
		applogger.Symbol(symbol),
		applogger.Int("limit", n),
		applogger.Int("rows", len(tmp)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return tmp, nil
}

// StoreBars inserts bars in multi-row chunks.
func (s *CHBarStore) StoreBars(ctx context.Context, tf domrepo.Timeframe, bars []models.MarketBar) error {
	if len(bars) == 0 {
		return nil
	}
	table, err := s.tableForTF(tf)
	if err != nil {
		return err
	}
	const chunkSize = 2000
	for start := 0; start < len(bars); start += chunkSize {
		end := min(start+chunkSize, len(bars))
		values := make([]string, 0, end-start)
		args := make([]any, 0, (end-start)*7)
		for _, b := range bars[start:end] {
			if b.Symbol == "" || b.Timestamp.IsZero() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, b.Timestamp.UTC(), b.Symbol, b.Open, b.High, b.Low, b.Close, b.Volume)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, barColumns, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert bars: %w", err)
		}
	}
	return nil
}

func scanBars(rows *sql.Rows, capHint int) ([]models.MarketBar, error) {
	out := make([]models.MarketBar, 0, capHint)
	for rows.Next() {
		var b models.MarketBar
		if err := rows.Scan(&b.Timestamp, &b.Symbol, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.Timestamp = b.Timestamp.UTC()
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *CHBarStore) tableForTF(tf domrepo.Timeframe) (string, error) {
	if !domrepo.IsValidTimeframe(tf) {
		return "", fmt.Errorf("unsupported timeframe: %s", tf)
	}
	return barTable(s.database, tf), nil
}

func barTable(database string, tf domrepo.Timeframe) string {
	return fmt.Sprintf("%s.bars_%s", database, tf)
}
