package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFillsDefaults(t *testing.T) {
	c, err := Parse([]byte(`
symbols: [AAPL]
source: none
`))
	require.NoError(t, err)
	assert.Equal(t, "development", c.Environment)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "ensemble", c.Engine.Predictor)
	assert.Equal(t, "1d", c.Engine.Timeframe)
	assert.Equal(t, 0.6, c.Engine.ConfidenceThreshold)
	assert.Equal(t, 720*time.Hour, c.Engine.Staleness)
	assert.Equal(t, 0.45, c.Engine.AccuracyFloor)
	assert.Equal(t, 8, c.Engine.LatentDim)
	assert.Equal(t, 0.0001, c.Engine.L2)
	assert.Equal(t, "finsignal.signals", c.Kafka.SignalsTopic)
}

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse([]byte(`
symbols: [AAPL]
source: none
engine:
  predictor: sequence
  staleness: 48h
server:
  read_timeout: 3s
`))
	require.NoError(t, err)
	assert.Equal(t, "sequence", c.Engine.Predictor)
	assert.Equal(t, 48*time.Hour, c.Engine.Staleness)
	assert.Equal(t, 3*time.Second, c.Server.ReadTimeout)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no symbols":        "source: none\n",
		"bad predictor":     "symbols: [A]\nsource: none\nengine:\n  predictor: lstm\n",
		"kafka no brokers":  "symbols: [A]\nsource: kafka\n",
		"ws no key":         "symbols: [A]\nsource: websocket\n",
		"threshold too big": "symbols: [A]\nsource: none\nengine:\n  confidence_threshold: 1.5\n",
		"clickhouse host":   "symbols: [A]\nsource: none\nclickhouse:\n  enabled: true\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	c, err := Parse([]byte("symbols: [A]\nsource: none\n"))
	require.NoError(t, err)
	env := map[string]string{
		"SYMBOLS":         "AAPL, MSFT,,",
		"KAFKA_BROKERS":   "k1:9092,k2:9092",
		"CLICKHOUSE_HOST": "ch",
		"LOG_LEVEL":       "DEBUG",
		"PORT":            "9090",
	}
	c.ApplyEnv(func(k string) string { return env[k] })
	assert.Equal(t, []string{"AAPL", "MSFT"}, c.Symbols)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.True(t, c.ClickHouse.Enabled)
	assert.Equal(t, "ch", c.ClickHouse.Host)
	assert.Equal(t, "debug", c.Logging.Level)
	assert.Equal(t, 9090, c.Server.Port)
}

func TestLoadWithEnvAppliesBeforeValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("symbols: [A]\nsource: kafka\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)

	t.Setenv("KAFKA_BROKERS", "k:9092")
	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"k:9092"}, c.Kafka.Brokers)
}
