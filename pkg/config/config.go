package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		SlowRequest     time.Duration `yaml:"slow_request" default:"1s"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	MarketFeed struct {
		URL          string        `yaml:"url"`
		Format       string        `yaml:"format" default:"list"`
		Coins        []string      `yaml:"coins"`
		VsCurrency   string        `yaml:"vs_currency" default:"usd"`
		APIKey       string        `yaml:"api_key"`
		APIKeyHeader string        `yaml:"api_key_header" default:"x-cg-demo-api-key"`
		Timeout      time.Duration `yaml:"timeout" default:"10s"`
		ChartURL     string        `yaml:"chart_url"`
	} `yaml:"market_feed"`
	Refresh struct {
		Interval time.Duration `yaml:"interval" default:"30s"`
	} `yaml:"refresh"`
	Predictions struct {
		Enabled  bool             `yaml:"enabled" default:"true"`
		Topic    string           `yaml:"topic" default:"criptex.predictions"`
		CacheTTL time.Duration    `yaml:"cache_ttl" default:"15s"`
		Seed     []PredictionSeed `yaml:"seed"`
	} `yaml:"predictions"`
	Overview struct {
		RatePerSecond float64 `yaml:"rate_per_second" default:"5"`
		Burst         int     `yaml:"burst" default:"10"`
	} `yaml:"overview"`
	Kafka struct {
		Enabled          bool     `yaml:"enabled"`
		Brokers          []string `yaml:"brokers"`
		SnapshotTopic    string   `yaml:"snapshot_topic" default:"criptex.markets"`
		DiagnosticsTopic string   `yaml:"diagnostics_topic" default:"criptex.diagnostics"`
		RequiredAcks     int      `yaml:"required_acks" default:"1"`
		Compression      string   `yaml:"compression" default:"snappy"`
		Producer         struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"criptex"`
			Workers    int           `yaml:"workers" default:"2"`
			BufferSize int           `yaml:"buffer_size" default:"64"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"criptex.predictions.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
		Fanout struct {
			BufferSize int           `yaml:"buffer_size" default:"16"`
			RetryMax   int           `yaml:"retry_max" default:"5"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"10s"`
		} `yaml:"fanout"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	WebSocket struct {
		Enabled      bool          `yaml:"enabled" default:"true"`
		Path         string        `yaml:"path" default:"/ws/markets"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		PingInterval time.Duration `yaml:"ping_interval" default:"30s"`
		SendBuffer   int           `yaml:"send_buffer" default:"8"`
	} `yaml:"websocket"`
	Diagnostics struct {
		FlushInterval  time.Duration `yaml:"flush_interval" default:"30s"`
		CountThreshold int           `yaml:"count_threshold" default:"100"`
	} `yaml:"diagnostics"`
}

// PredictionSeed is one pre-ranked prediction loaded at startup.
type PredictionSeed struct {
	Symbol     string  `yaml:"symbol"`
	Direction  string  `yaml:"direction"`
	Confidence float64 `yaml:"confidence"`
	Timeframe  string  `yaml:"timeframe"`
	Target     string  `yaml:"target"`
	EntryPrice string  `yaml:"entry_price"`
}

// Load reads and parses a YAML configuration file. Missing keys take their defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes raw YAML, applies defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("MARKET_FEED_URL"); v != "" {
		c.MarketFeed.URL = v
	}
	if v := getenv("MARKET_FEED_API_KEY"); v != "" {
		c.MarketFeed.APIKey = v
	}
	if v := getenv("MARKET_FEED_CHART_URL"); v != "" {
		c.MarketFeed.ChartURL = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
		c.Kafka.Enabled = true
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HTTP_PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return errors.New("environment is required")
	}
	if c.MarketFeed.URL == "" {
		return errors.New("market_feed.url is required")
	}
	switch c.MarketFeed.Format {
	case "list":
	case "coingecko":
		if len(c.MarketFeed.Coins) == 0 {
			return errors.New("market_feed.coins cannot be empty for format 'coingecko'")
		}
	default:
		return fmt.Errorf("market_feed.format must be 'list' or 'coingecko', got '%s'", c.MarketFeed.Format)
	}
	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh.interval must be positive, got %s", c.Refresh.Interval)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}
