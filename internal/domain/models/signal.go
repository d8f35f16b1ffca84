package models

import "time"

// TradeSide is the direction of a trading signal.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// TradingSignal is the position-sized output of the synthesizer. Created once, never mutated.
type TradingSignal struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       TradeSide `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Confidence float64   `json:"confidence"`
	Regime     Regime    `json:"regime,omitempty"`
	Rationale  string    `json:"rationale"`
	Strategy   string    `json:"strategy"`
	CreatedAt  time.Time `json:"created_at"`
}

// RewardRisk returns the take-profit to stop-loss distance ratio.
func (s TradingSignal) RewardRisk() float64 {
	risk := s.Price - s.StopLoss
	reward := s.TakeProfit - s.Price
	if s.Side == SideSell {
		risk, reward = -risk, -reward
	}
	if risk <= 0 {
		return 0
	}
	return reward / risk
}
