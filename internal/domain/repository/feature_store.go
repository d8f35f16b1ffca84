package repository

import (
	"context"
	"time"

	"FinSignal/internal/domain/models"
)

// BarStore provides read access to historical bars for training and warm-up.
type BarStore interface {
	GetBars(ctx context.Context, symbol string, from, to time.Time, tf Timeframe) ([]models.MarketBar, error)
	GetLatestNBars(ctx context.Context, symbol string, n int, tf Timeframe) ([]models.MarketBar, error)
}

// BarWriter appends bars to the historical store.
type BarWriter interface {
	StoreBars(ctx context.Context, tf Timeframe, bars []models.MarketBar) error
}
