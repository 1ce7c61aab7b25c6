// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Selection, Stats, Postgres, Redis, Kafka, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts "30s"-style YAML values, which yaml.v3 will not decode
// into a bare time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Selection SelectionConfig `yaml:"selection"`
	Stats     StatsConfig     `yaml:"stats"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     Duration      `yaml:"readTimeout"`
	WriteTimeout    Duration      `yaml:"writeTimeout"`
	ShutdownTimeout Duration      `yaml:"shutdownTimeout"`
}

// SelectionConfig controls the shard-selection estimator: the default number
// of top documents the router is shooting for, the threshold solver's
// numeric tolerance and iteration budget, and the safety factor applied to
// the solver's initial search bound.
type SelectionConfig struct {
	DefaultTarget float64       `yaml:"defaultTarget"`
	MaxTarget     float64       `yaml:"maxTarget"`
	Tolerance     float64       `yaml:"tolerance"`
	MaxIterations int           `yaml:"maxIterations"`
	SafetyFactor  float64       `yaml:"safetyFactor"`
	MaxTerms      int           `yaml:"maxTerms"`
	EvalTimeout   Duration      `yaml:"evalTimeout"`
}

// StatsConfig locates the term-statistics file.
type StatsConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds PostgreSQL connection parameters for the shard
// registry.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime Duration      `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection and selection-cache parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL Duration      `yaml:"cacheTTL"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	StatsPublished  string `yaml:"statsPublished"`
	SelectionEvents string `yaml:"selectionEvents"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Selection.validate(); err != nil {
		return nil, fmt.Errorf("selection config: %w", err)
	}
	return cfg, nil
}

func (s SelectionConfig) validate() error {
	if s.DefaultTarget <= 0 {
		return fmt.Errorf("defaultTarget must be positive, got %v", s.DefaultTarget)
	}
	if s.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be positive, got %v", s.Tolerance)
	}
	if s.MaxIterations <= 0 {
		return fmt.Errorf("maxIterations must be positive, got %d", s.MaxIterations)
	}
	if s.SafetyFactor < 1 {
		return fmt.Errorf("safetyFactor must be at least 1, got %v", s.SafetyFactor)
	}
	return nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Selection: SelectionConfig{
			DefaultTarget: 500,
			MaxTarget:     10000,
			Tolerance:     1e-6,
			MaxIterations: 200,
			SafetyFactor:  4,
			MaxTerms:      32,
			EvalTimeout:   Duration(2 * time.Second),
		},
		Stats: StatsConfig{
			Path: "data/shard-stats.ssx",
		},
		Postgres: PostgresConfig{
			Enabled:         false,
			Host:            "localhost",
			Port:            5432,
			Database:        "shardselect",
			User:            "shardselect",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration(5 * time.Minute),
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: Duration(60 * time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "shardselect-group",
			Topics: KafkaTopics{
				StatsPublished:  "stats-published",
				SelectionEvents: "selection-events",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SS_STATS_PATH"); v != "" {
		cfg.Stats.Path = v
	}
	if v := os.Getenv("SS_SELECTION_DEFAULT_TARGET"); v != "" {
		if target, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Selection.DefaultTarget = target
		}
	}
	if v := os.Getenv("SS_SELECTION_TOLERANCE"); v != "" {
		if tol, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Selection.Tolerance = tol
		}
	}
	if v := os.Getenv("SS_SELECTION_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Selection.MaxIterations = n
		}
	}
	if v := os.Getenv("SS_POSTGRES_ENABLED"); v != "" {
		cfg.Postgres.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
