package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Generator
	MessageRate            float64 `mapstructure:"message_rate"`
	ActiveEventProbability float64 `mapstructure:"active_event_probability"`
	RandomNoiseProbability float64 `mapstructure:"random_noise_probability"`
	JitterProbability      float64 `mapstructure:"jitter_probability"`
	DedupWindow            int     `mapstructure:"dedup_window"`
	DedupRetries           int     `mapstructure:"dedup_retries"`
	DefinitionFile         string  `mapstructure:"definition_file"`

	// Sniffer
	HistoryPerID  int `mapstructure:"history_per_id"`
	HistoryGlobal int `mapstructure:"history_global"`

	// Calibration
	CalibrationBaseline time.Duration `mapstructure:"calibration_baseline"`
	CalibrationPoll     time.Duration `mapstructure:"calibration_poll"`
	CalibrationWindow   time.Duration `mapstructure:"calibration_window"`

	// Playback
	PlaybackStopTimeout time.Duration `mapstructure:"playback_stop_timeout"`
	SequenceDir         string        `mapstructure:"sequence_dir"`

	// Redis label store
	RedisEnabled bool   `mapstructure:"redis_enabled"`
	RedisURL     string `mapstructure:"redis_url"`
	RedisPrefix  string `mapstructure:"redis_prefix"`

	// ClickHouse
	ClickHouseEnabled    bool   `mapstructure:"clickhouse_enabled"`
	ClickHouseHost       string `mapstructure:"clickhouse_host"`
	ClickHousePort       int    `mapstructure:"clickhouse_port"`
	ClickHouseHTTPPort   int    `mapstructure:"clickhouse_http_port"`
	ClickHouseDatabase   string `mapstructure:"clickhouse_database"`
	ClickHouseUsername   string `mapstructure:"clickhouse_username"`
	ClickHousePassword   string `mapstructure:"clickhouse_password"`
	ClickHouseTable      string `mapstructure:"clickhouse_table"`
	ClickHouseStatsTable string `mapstructure:"clickhouse_stats_table"`

	// InfluxDB
	InfluxDBEnabled  bool   `mapstructure:"influxdb_enabled"`
	InfluxDBURL      string `mapstructure:"influxdb_url"`
	InfluxDBToken    string `mapstructure:"influxdb_token"`
	InfluxDBDatabase string `mapstructure:"influxdb_database"`

	// NATS
	NATSEnabled bool   `mapstructure:"nats_enabled"`
	NATSURL     string `mapstructure:"nats_url"`
	NATSSubject string `mapstructure:"nats_subject"`

	// General
	DevelopmentMode bool          `mapstructure:"development_mode"`
	APIPort         int           `mapstructure:"api_port"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	BatchSize       int           `mapstructure:"batch_size"`
	StatsInterval   time.Duration `mapstructure:"stats_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("message_rate", 10.0)
	v.SetDefault("active_event_probability", 0.3)
	v.SetDefault("random_noise_probability", 0.05)
	v.SetDefault("jitter_probability", 0.3)
	v.SetDefault("dedup_window", 10)
	v.SetDefault("dedup_retries", 5)
	v.SetDefault("definition_file", "")

	v.SetDefault("history_per_id", 100)
	v.SetDefault("history_global", 200)

	v.SetDefault("calibration_baseline", "2s")
	v.SetDefault("calibration_poll", "10ms")
	v.SetDefault("calibration_window", "5s")

	v.SetDefault("playback_stop_timeout", "1s")
	v.SetDefault("sequence_dir", "")

	v.SetDefault("redis_enabled", false)
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("redis_prefix", "cansim")

	v.SetDefault("clickhouse_enabled", false)
	v.SetDefault("clickhouse_host", "localhost")
	v.SetDefault("clickhouse_port", 9000)
	v.SetDefault("clickhouse_http_port", 8123)
	v.SetDefault("clickhouse_database", "default")
	v.SetDefault("clickhouse_username", "default")
	v.SetDefault("clickhouse_password", "")
	v.SetDefault("clickhouse_table", "can_frames")
	v.SetDefault("clickhouse_stats_table", "can_bus_stats")

	v.SetDefault("influxdb_enabled", false)
	v.SetDefault("influxdb_url", "http://localhost:8181")
	v.SetDefault("influxdb_token", "")
	v.SetDefault("influxdb_database", "can_frames")

	v.SetDefault("nats_enabled", false)
	v.SetDefault("nats_url", "nats://localhost:4222")
	v.SetDefault("nats_subject", "can.frames")

	v.SetDefault("development_mode", false)
	v.SetDefault("api_port", 5000)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("batch_size", 1000)
	v.SetDefault("stats_interval", "10s")
}

// LoadConfig loads configuration from a .env file, with environment
// variables taking precedence. A missing file yields the defaults.
func LoadConfig(envFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if envFile == "" {
		envFile = ".env"
	}
	v.SetConfigFile(envFile)
	v.SetConfigType("env")

	// Environment variables override (MESSAGE_RATE, API_PORT, etc.)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error reading .env file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.MessageRate <= 0 {
		return fmt.Errorf("MESSAGE_RATE must be positive, got %v", c.MessageRate)
	}

	probabilities := map[string]float64{
		"ACTIVE_EVENT_PROBABILITY": c.ActiveEventProbability,
		"RANDOM_NOISE_PROBABILITY": c.RandomNoiseProbability,
		"JITTER_PROBABILITY":       c.JitterProbability,
	}
	for key, p := range probabilities {
		if p < 0 || p > 1 {
			return fmt.Errorf("%s must be within [0, 1], got %v", key, p)
		}
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("API_PORT out of range: %d", c.APIPort)
	}
	if c.CalibrationWindow <= 0 {
		return fmt.Errorf("CALIBRATION_WINDOW must be positive, got %s", c.CalibrationWindow)
	}
	return nil
}
