package signals

import "sync"

// Performance tracks the trailing win rate of emitted signals.
type Performance struct {
	mu      sync.Mutex
	window  int
	minimum int
	results []bool
	next    int
	filled  bool
}

// NewPerformance tracks the last window outcomes; fewer than minimum outcomes
// count as neutral performance.
func NewPerformance(window, minimum int) *Performance {
	if window < 1 {
		window = 1
	}
	return &Performance{window: window, minimum: minimum, results: make([]bool, window)}
}

// Record adds one signal outcome.
func (p *Performance) Record(won bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[p.next] = won
	p.next = (p.next + 1) % p.window
	if p.next == 0 {
		p.filled = true
	}
}

// WinRate returns the trailing win rate and the number of outcomes it covers.
func (p *Performance) WinRate() (float64, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.next
	if p.filled {
		n = p.window
	}
	if n == 0 {
		return 0, 0
	}
	wins := 0
	for i := 0; i < n; i++ {
		if p.results[i] {
			wins++
		}
	}
	return float64(wins) / float64(n), n
}

// Multiplier maps the win rate to a sizing factor: 0.7 below 40%, 1.2 above 60%, else 1.0.
func (p *Performance) Multiplier() float64 {
	rate, n := p.WinRate()
	if n < p.minimum {
		return 1.0
	}
	switch {
	case rate < 0.4:
		return 0.7
	case rate > 0.6:
		return 1.2
	default:
		return 1.0
	}
}
