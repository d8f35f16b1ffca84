package repository

import (
	"fmt"

	domrepo "FinSignal/internal/domain/repository"
)

// Schema returns the idempotent DDL for the bar and signal tables.
func Schema(database string) []string {
	if database == "" {
		database = "finsignal"
	}
	stmts := []string{fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database)}
	for _, tf := range []domrepo.Timeframe{domrepo.TF1m, domrepo.TF5m, domrepo.TF1h, domrepo.TF1d} {
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    ts DateTime64(3, 'UTC'),
    symbol LowCardinality(String),
    open Float64,
    high Float64,
    low Float64,
    close Float64,
    volume Float64
) ENGINE = ReplacingMergeTree
ORDER BY (symbol, ts)`, barTable(database, tf)))
	}
	stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id String,
    created_at DateTime64(3, 'UTC'),
    symbol LowCardinality(String),
    side LowCardinality(String),
    quantity Float64,
    price Float64,
    stop_loss Float64,
    take_profit Float64,
    confidence Float64,
    regime LowCardinality(String),
    strategy LowCardinality(String),
    rationale String
) ENGINE = MergeTree
ORDER BY (symbol, created_at)
TTL toDateTime(created_at) + INTERVAL 180 DAY`, signalTable(database)))
	return stmts
}

func signalTable(database string) string {
	return database + ".signals"
}
