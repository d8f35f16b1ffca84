package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTimeframe(t *testing.T) {
	assert.Equal(t, TF1d, NormalizeTimeframe(""))
	assert.Equal(t, TF1h, NormalizeTimeframe("1h"))
	assert.Equal(t, TF1d, NormalizeTimeframe("3w"))
	assert.True(t, IsValidTimeframe(TF5m))
}

func TestTimeframeDuration(t *testing.T) {
	assert.Equal(t, 5*time.Minute, TF5m.Duration())
	assert.Equal(t, time.Hour, TF1h.Duration())
	assert.Equal(t, 24*time.Hour, Timeframe("x").Duration())
}
