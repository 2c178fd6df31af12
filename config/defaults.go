package config

import "time"

// DefaultConfig returns a configuration suitable for local development:
// in-memory store, no auth, telemetry off.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Engine:    DefaultEngineConfig(),
		Fetch:     DefaultFetchConfig(),
		Store:     DefaultStoreConfig(),
		Redis:     DefaultRedisConfig(),
		Auth:      DefaultAuthConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default listener settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		MaxConns:        0,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultEngineConfig returns the default run scheduler settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxConcurrentNodes: 8,
		DefaultNodeTimeout: 30 * time.Second,
		RunTimeout:         10 * time.Minute,
		FailFast:           true,
	}
}

// DefaultFetchConfig returns the default outbound HTTP client settings.
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		Timeout:        30 * time.Second,
		RateLimitRPS:   0,
		RateLimitBurst: 0,
		MaxBodyBytes:   10 << 20,
	}
}

// DefaultStoreConfig returns the in-memory store selection.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Driver:          "memory",
		DSN:             "",
		AutoMigrate:     false,
		MaxOpenConns:    100,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// DefaultRedisConfig returns the default redis connection settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		PoolSize:  10,
		KeyPrefix: "fluxwire:",
		TTL:       0,
	}
}

// DefaultAuthConfig returns auth disabled.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Enabled:   false,
		JWTSecret: "",
		Issuer:    "fluxwire",
		Audience:  "fluxwire-api",
		TokenTTL:  24 * time.Hour,
	}
}

// DefaultLogConfig returns json logging at info level.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns telemetry disabled.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "fluxwire",
		SampleRate:   0.1,
	}
}
