package util

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2024-10-10T10:10:10Z", ts},
		{strconv.FormatInt(ts.Unix(), 10), ts},
		{"2024-10-10", time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		got, ok := ParseTime(c.in)
		require.True(t, ok, c.in)
		assert.True(t, got.Equal(c.want), "%s: got %v", c.in, got)
	}

	_, ok := ParseTime("yesterday")
	assert.False(t, ok)
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	assert.True(t, ParseTimeDefault("", def).Equal(def))
}

func TestAlignFromTo(t *testing.T) {
	from := time.Date(2024, 10, 10, 10, 17, 30, 0, time.UTC)
	to := from.Add(26 * time.Hour)

	f, tt := AlignFromTo(from, to, "1d")
	assert.Equal(t, time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC), f)
	assert.Equal(t, time.Date(2024, 10, 11, 0, 0, 0, 0, time.UTC), tt)

	f, _ = AlignFromTo(from, to, "5m")
	assert.Equal(t, time.Date(2024, 10, 10, 10, 15, 0, 0, time.UTC), f)
}

func TestSplitSymbols(t *testing.T) {
	assert.Equal(t, []string{"AAPL", "MSFT"}, SplitSymbols(" aapl, ,msft "))
	assert.Nil(t, SplitSymbols(""))
	assert.Equal(t, 7, ParseIntDefault("x", 7))
}
