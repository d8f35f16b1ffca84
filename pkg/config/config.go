package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"FinSignal/pkg/util"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		SlowRequest     time.Duration `yaml:"slow_request" default:"500ms"`
		RateLimitRPS    float64       `yaml:"rate_limit_rps" default:"20"`
		RateLimitBurst  int           `yaml:"rate_limit_burst" default:"40"`
		CORSOrigins     []string      `yaml:"cors_origins"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Pretty bool   `yaml:"pretty"`
		// Topic enables shipping warn+ logs to Kafka when set.
		Topic string `yaml:"topic"`
	} `yaml:"logging"`
	Engine  Engine   `yaml:"engine"`
	Symbols []string `yaml:"symbols" validate:"required,min=1,dive,required"`
	Source  string   `yaml:"source" default:"kafka" validate:"oneof=kafka websocket none"`
	Kafka   struct {
		Brokers      []string `yaml:"brokers"`
		BarsTopic    string   `yaml:"bars_topic" default:"finsignal.bars"`
		SignalsTopic string   `yaml:"signals_topic" default:"finsignal.signals"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"finsignal-engine"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic"`
		} `yaml:"consumer"`
		Breaker struct {
			ConsecutiveFailures uint32        `yaml:"consecutive_failures" default:"5"`
			OpenTimeout         time.Duration `yaml:"open_timeout" default:"30s"`
		} `yaml:"breaker"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" validate:"required_if=Enabled true"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"finsignal"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
		InitSchema       bool          `yaml:"init_schema" default:"true"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Host     string        `yaml:"host" default:"localhost"`
		Port     int           `yaml:"port" default:"6379"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix" default:"finsignal"`
		ModelTTL time.Duration `yaml:"model_ttl"`

		// training workers hold a connection each while blocked on the queue
		PoolSize     int `yaml:"pool_size" default:"10"`
		MinIdleConns int `yaml:"min_idle_conns" default:"2"`
	} `yaml:"redis"`
	Stream struct {
		APIKey         string        `yaml:"api_key"`
		WebSocketURL   string        `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	} `yaml:"stream"`
	Pipeline struct {
		MaxRPS     float64 `yaml:"max_rps" default:"20"`
		BufferSize int     `yaml:"buffer_size" default:"1000"`
		Workers    int     `yaml:"workers" default:"4"`
	} `yaml:"pipeline"`
	ModelDir string `yaml:"model_dir" default:"./models"`
}

// Engine holds the model and signal scalars.
type Engine struct {
	Predictor           string        `yaml:"predictor" default:"ensemble" validate:"oneof=ensemble sequence"`
	Timeframe           string        `yaml:"timeframe" default:"1d" validate:"oneof=1m 5m 1h 1d"`
	WarmupBars          int           `yaml:"warmup_bars" default:"600" validate:"min=0"`
	HistoryWindow       int           `yaml:"history_window" default:"200" validate:"min=20"`
	MinHistory          int           `yaml:"min_history" default:"20" validate:"min=2"`
	MinTrainingData     int           `yaml:"min_training_data" default:"50" validate:"min=1"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold" default:"0.6" validate:"gte=0,lte=1"`
	Lookback            int           `yaml:"lookback" default:"20" validate:"min=2"`
	HiddenSize          int           `yaml:"hidden_size" default:"32" validate:"min=1"`
	LatentDim           int           `yaml:"latent_dim" default:"8" validate:"min=1"`
	Dropout             float64       `yaml:"dropout" default:"0.2" validate:"gte=0,lt=1"`
	L2                  float64       `yaml:"l2" default:"0.0001" validate:"gte=0"`
	KLWeight            float64       `yaml:"kl_weight" default:"0.01" validate:"gte=0"`
	LearningRate        float64       `yaml:"learning_rate" default:"0.01" validate:"gt=0"`
	Epochs              int           `yaml:"epochs" default:"30" validate:"min=1"`
	UpdateBuffer        int           `yaml:"update_buffer" default:"1000" validate:"min=1"`
	MaxExpectedMove     float64       `yaml:"max_expected_move" default:"0.02" validate:"gt=0"`
	Seed                uint64        `yaml:"seed" default:"42"`
	Staleness           time.Duration `yaml:"staleness" default:"720h"`
	AccuracyFloor       float64       `yaml:"accuracy_floor" default:"0.45" validate:"gte=0,lte=1"`
	MinAccuracySamples  int           `yaml:"min_accuracy_samples" default:"20" validate:"min=1"`
	RetryBackoff        time.Duration `yaml:"retry_backoff" default:"5m"`
	MaxPosition         float64       `yaml:"max_position" default:"1.0" validate:"gt=0"`
	BaseStop            float64       `yaml:"base_stop" default:"0.02" validate:"gt=0,lt=1"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file, fills defaults and validates.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

// LoadWithEnv is Load with environment overrides applied before validation.
func LoadWithEnv(path string) (*Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if getenv != nil {
		c.ApplyEnv(getenv)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Parse builds a validated Config from YAML bytes.
func Parse(b []byte) (*Config, error) {
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func decode(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("FINNHUB_API_KEY"); v != "" {
		c.Stream.APIKey = v
	}
	if v := getenv("SYMBOLS"); v != "" {
		c.Symbols = util.SplitSymbols(v)
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	if v := getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
		c.Redis.Enabled = true
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	c.Server.Port = util.ParseIntDefault(getenv("PORT"), c.Server.Port)
}

// Validate checks struct rules and cross-field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Source == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when source is kafka")
	}
	if c.Source == "websocket" && c.Stream.APIKey == "" {
		return fmt.Errorf("stream.api_key is required when source is websocket")
	}
	if c.Engine.MinHistory > c.Engine.HistoryWindow {
		return fmt.Errorf("engine.min_history %d exceeds history_window %d", c.Engine.MinHistory, c.Engine.HistoryWindow)
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
