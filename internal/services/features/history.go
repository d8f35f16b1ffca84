package features

import (
	"sync"

	"FinSignal/internal/domain/models"
)

// ring is a fixed-capacity buffer of bars; the oldest bar is evicted on overflow.
type ring struct {
	buf   []models.MarketBar
	start int
	n     int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]models.MarketBar, capacity)}
}

func (r *ring) push(b models.MarketBar) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = b
		r.n++
		return
	}
	r.buf[r.start] = b
	r.start = (r.start + 1) % len(r.buf)
}

// snapshot copies the bars oldest first.
func (r *ring) snapshot() []models.MarketBar {
	out := make([]models.MarketBar, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *ring) last() (models.MarketBar, bool) {
	if r.n == 0 {
		return models.MarketBar{}, false
	}
	return r.buf[(r.start+r.n-1)%len(r.buf)], true
}

type symbolHistory struct {
	mu   sync.RWMutex
	bars *ring
}

// History keeps a bounded rolling window of bars per symbol.
// Each symbol has its own lock; readers always receive a copy.
type History struct {
	mu      sync.RWMutex
	window  int
	symbols map[string]*symbolHistory
}

// NewHistory creates a history bounded to window bars per symbol.
func NewHistory(window int) *History {
	return &History{window: window, symbols: make(map[string]*symbolHistory)}
}

func (h *History) get(symbol string, create bool) *symbolHistory {
	h.mu.RLock()
	sh, ok := h.symbols[symbol]
	h.mu.RUnlock()
	if ok || !create {
		return sh
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if sh, ok = h.symbols[symbol]; ok {
		return sh
	}
	sh = &symbolHistory{bars: newRing(h.window)}
	h.symbols[symbol] = sh
	return sh
}

// Add appends a bar. A bar with the same timestamp as the latest one replaces it.
func (h *History) Add(b models.MarketBar) {
	sh := h.get(b.Symbol, true)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if last, ok := sh.bars.last(); ok && last.Timestamp.Equal(b.Timestamp) {
		sh.bars.buf[(sh.bars.start+sh.bars.n-1)%len(sh.bars.buf)] = b
		return
	}
	sh.bars.push(b)
}

// Snapshot returns a copy of the symbol's bars, oldest first.
func (h *History) Snapshot(symbol string) []models.MarketBar {
	sh := h.get(symbol, false)
	if sh == nil {
		return nil
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.bars.snapshot()
}

// Len returns the number of bars held for symbol.
func (h *History) Len(symbol string) int {
	sh := h.get(symbol, false)
	if sh == nil {
		return 0
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.bars.n
}

// Symbols returns the symbols with history.
func (h *History) Symbols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.symbols))
	for s := range h.symbols {
		out = append(out, s)
	}
	return out
}
