// Package defaults for all councilflow configuration sections.
package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		Gateway:   DefaultGatewayConfig(),
		Council:   DefaultCouncilConfig(),
		Metering:  DefaultMeteringConfig(),
		Auth:      DefaultAuthConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:    8080,
		MetricsPort: 9091,
		ReadTimeout: 30 * time.Second,
		// A full deliberation can hold an SSE stream open for the sum of all
		// stage budgets; keep the write timeout above the pro synthesis budget.
		WriteTimeout:    25 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultDatabaseConfig returns the default database configuration.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "councilflow",
		Password:        "",
		Name:            "councilflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultGatewayConfig returns the default gateway configuration.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		BaseURL:           "https://openrouter.ai/api/v1",
		MaxTokens:         4096,
		RequestsPerSecond: 10,
		RequestBurst:      20,
	}
}

// DefaultCouncilConfig returns the default council configuration.
// Synthesis budgets are deliberately longer than query budgets; the Stage 3
// prompt carries every Stage 1 answer plus the ranking summary.
func DefaultCouncilConfig() CouncilConfig {
	return CouncilConfig{
		StandardQueryTimeout:     4 * time.Minute,
		ProQueryTimeout:          5 * time.Minute,
		StandardSynthesisTimeout: 5 * time.Minute,
		ProSynthesisTimeout:      10 * time.Minute,
	}
}

// DefaultMeteringConfig returns the default metering configuration.
func DefaultMeteringConfig() MeteringConfig {
	return MeteringConfig{
		Enabled:             true,
		CreditsPerKiloToken: 1.0,
		TokenizerModel:      "gpt-4o",
		KeyPrefix:           "councilflow:",
	}
}

// DefaultAuthConfig returns the default auth configuration.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Enabled: false,
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "councilflow",
		SampleRate:   1.0,
	}
}
