// Package config loads and validates the engine configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (matcher, input, output sinks, Postgres, Kafka, Redis, the HTTP
// service, logging and metrics).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Matcher  MatcherConfig  `yaml:"matcher"`
	Input    InputConfig    `yaml:"input"`
	Output   OutputConfig   `yaml:"output"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP match service settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	MaxItems        int           `yaml:"maxItems"`
	// RateLimit is the number of match requests per minute allowed from one
	// client address. Zero disables limiting.
	RateLimit int `yaml:"rateLimit"`
	// RPCPort serves the JSON RPC listener when non-zero.
	RPCPort int `yaml:"rpcPort"`
}

// MatcherConfig controls the matching policy and the worker pool.
type MatcherConfig struct {
	// AllowedMismatches is how many items of an indexed set may be absent
	// from a transaction while it still counts as a match.
	AllowedMismatches int  `yaml:"allowedMismatches"`
	EmitSource        bool `yaml:"emitSource"`
	// Workers bounds the number of transactions matched concurrently.
	// Zero means GOMAXPROCS.
	Workers       int `yaml:"workers"`
	ProgressEvery int `yaml:"progressEvery"`
}

// InputConfig names the corpus and transaction sources.
type InputConfig struct {
	Corpus       string `yaml:"corpus"`
	Transactions string `yaml:"transactions"`
}

// OutputConfig selects the result sink.
type OutputConfig struct {
	Sink  string `yaml:"sink"`
	Path  string `yaml:"path"`
	Table string `yaml:"table"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	BatchSize     int         `yaml:"batchSize"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	Transactions string `yaml:"transactions"`
	Matches      string `yaml:"matches"`
}

// RedisConfig holds Redis connection and match-cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig toggles span logging for batch runs.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values. The result is not validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Validate reports the first setting that would make a run meaningless.
func (c *Config) Validate() error {
	switch {
	case c.Matcher.AllowedMismatches < 0:
		return apperrors.Config("matcher.allowedMismatches must be >= 0, got %d", c.Matcher.AllowedMismatches)
	case c.Server.RateLimit < 0:
		return apperrors.Config("server.rateLimit must be >= 0, got %d", c.Server.RateLimit)
	case c.Server.RPCPort < 0:
		return apperrors.Config("server.rpcPort must be >= 0, got %d", c.Server.RPCPort)
	case c.Matcher.Workers < 0:
		return apperrors.Config("matcher.workers must be >= 0, got %d", c.Matcher.Workers)
	case c.Output.Sink == "postgres" && c.Output.Table == "":
		return apperrors.Config("output.table is required for the postgres sink")
	case c.Output.Sink == "kafka" && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topics.Matches == ""):
		return apperrors.Config("kafka.brokers and kafka.topics.matches are required for the kafka sink")
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxItems:        4096,
		},
		Matcher: MatcherConfig{
			AllowedMismatches: 0,
			ProgressEvery:     1000,
		},
		Output: OutputConfig{
			Sink:  "jsonl",
			Table: "match_results",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "subsetmatch",
			User:            "subsetmatch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "subset-matcher",
			BatchSize:     100,
			Topics: KafkaTopics{
				Transactions: "transactions",
				Matches:      "transaction-matches",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SM_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setInt("SM_SERVER_PORT", &cfg.Server.Port)
	setInt("SM_SERVER_RATE_LIMIT", &cfg.Server.RateLimit)
	setInt("SM_SERVER_RPC_PORT", &cfg.Server.RPCPort)
	setInt("SM_MATCHER_ALLOWED_MISMATCHES", &cfg.Matcher.AllowedMismatches)
	setInt("SM_MATCHER_WORKERS", &cfg.Matcher.Workers)
	setBool("SM_MATCHER_EMIT_SOURCE", &cfg.Matcher.EmitSource)
	setString("SM_INPUT_CORPUS", &cfg.Input.Corpus)
	setString("SM_INPUT_TRANSACTIONS", &cfg.Input.Transactions)
	setString("SM_OUTPUT_SINK", &cfg.Output.Sink)
	setString("SM_OUTPUT_PATH", &cfg.Output.Path)
	setString("SM_OUTPUT_TABLE", &cfg.Output.Table)
	setString("SM_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("SM_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("SM_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("SM_POSTGRES_USER", &cfg.Postgres.User)
	setString("SM_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("SM_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	if v := os.Getenv("SM_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	setBool("SM_REDIS_ENABLED", &cfg.Redis.Enabled)
	setString("SM_REDIS_ADDR", &cfg.Redis.Addr)
	setString("SM_REDIS_PASSWORD", &cfg.Redis.Password)
	setString("SM_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("SM_LOGGING_FORMAT", &cfg.Logging.Format)
	setBool("SM_METRICS_ENABLED", &cfg.Metrics.Enabled)
	setInt("SM_METRICS_PORT", &cfg.Metrics.Port)
}
