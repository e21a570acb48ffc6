package config

import "time"

// DefaultConfig returns a configuration suitable for local development:
// in-memory checkpoints, telemetry off, console logging.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    180 * time.Second, // must outlive a streamed run
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       50,
			RateBurst:       100,
		},
		Workflow: WorkflowConfig{
			MaxRetries:        2,
			Timeout:           120 * time.Second,
			CheckpointBackend: "memory",
			Model:             "gpt-4o-mini",
			MaxTokens:         2048,
			Temperature:       0.7,
		},
		Retrieval: RetrievalConfig{
			TopK:         5,
			DenseWeight:  0.5,
			FusionK:      60,
			BM25K1:       1.5,
			BM25B:        0.75,
			UseReranking: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "queryflow",
			Name:            "queryflow",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		LLM: LLMConfig{
			Provider:   "openai",
			Timeout:    60 * time.Second,
			MaxRetries: 2,
		},
		Log: LogConfig{
			Level:        "info",
			Format:       "console",
			OutputPaths:  []string{"stdout"},
			EnableCaller: true,
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "queryflow",
			SampleRate:  1.0,
		},
	}
}
