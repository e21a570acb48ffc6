// Package config holds the QueryFlow configuration: defaults, YAML file
// loading, and environment variable overrides.
//
// Precedence: defaults, then the YAML file, then environment variables.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("queryflow.yaml").
//	    WithEnvPrefix("QUERYFLOW").
//	    Load()
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete QueryFlow configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Workflow  WorkflowConfig  `yaml:"workflow" env:"WORKFLOW"`
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// RateLimit is requests per second per server; RateBurst the bucket size.
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	RateBurst int     `yaml:"rate_burst" env:"RATE_BURST"`
}

// WorkflowConfig configures the query workflow engine.
type WorkflowConfig struct {
	// MaxRetries bounds validation-triggered rewrite loops.
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// Timeout bounds one end-to-end run.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// CheckpointBackend selects memory, redis, or postgres.
	CheckpointBackend string  `yaml:"checkpoint_backend" env:"CHECKPOINT_BACKEND"`
	Model             string  `yaml:"model" env:"MODEL"`
	MaxTokens         int     `yaml:"max_tokens" env:"MAX_TOKENS"`
	Temperature       float64 `yaml:"temperature" env:"TEMPERATURE"`
}

// RetrievalConfig configures the hybrid retriever.
type RetrievalConfig struct {
	TopK         int     `yaml:"top_k" env:"TOP_K"`
	DenseWeight  float64 `yaml:"dense_weight" env:"DENSE_WEIGHT"`
	FusionK      int     `yaml:"fusion_k" env:"FUSION_K"`
	BM25K1       float64 `yaml:"bm25_k1" env:"BM25_K1"`
	BM25B        float64 `yaml:"bm25_b" env:"BM25_B"`
	UseReranking bool    `yaml:"use_reranking" env:"USE_RERANKING"`
}

// RedisConfig configures the Redis checkpoint backend.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig configures the Postgres checkpoint backend.
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// DSN returns the Postgres connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// LLMConfig configures the language model provider.
type LLMConfig struct {
	Provider   string        `yaml:"provider" env:"PROVIDER"`
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries int           `yaml:"max_retries" env:"MAX_RETRIES"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures the OpenTelemetry SDK.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Validate reports structurally invalid configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Workflow.MaxRetries < 0 {
		errs = append(errs, "max_retries must be non-negative")
	}
	if c.Workflow.Timeout <= 0 {
		errs = append(errs, "workflow timeout must be positive")
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, "top_k must be positive")
	}
	if c.Retrieval.DenseWeight < 0 || c.Retrieval.DenseWeight > 1 {
		errs = append(errs, "dense_weight must be between 0 and 1")
	}
	switch c.Workflow.CheckpointBackend {
	case "memory", "redis", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("unknown checkpoint backend %q", c.Workflow.CheckpointBackend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
