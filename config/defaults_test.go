package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, EngineConfig{}, cfg.Engine)
	assert.NotEqual(t, FetchConfig{}, cfg.Fetch)
	assert.NotEqual(t, StoreConfig{}, cfg.Store)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, AuthConfig{}, cfg.Auth)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 120*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Zero(t, cfg.MaxConns)
	assert.InDelta(t, 100, cfg.RateLimitRPS, 0.001)
	assert.Equal(t, 200, cfg.RateLimitBurst)
}

func TestDefaultEngineConfig(t *testing.T) {
	cfg := DefaultEngineConfig()
	assert.Equal(t, 8, cfg.MaxConcurrentNodes)
	assert.Equal(t, 30*time.Second, cfg.DefaultNodeTimeout)
	assert.Equal(t, 10*time.Minute, cfg.RunTimeout)
	assert.True(t, cfg.FailFast)
}

func TestDefaultFetchConfig(t *testing.T) {
	cfg := DefaultFetchConfig()
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Zero(t, cfg.RateLimitRPS)
	assert.Zero(t, cfg.RateLimitBurst)
	assert.Equal(t, int64(10<<20), cfg.MaxBodyBytes)
}

func TestDefaultStoreConfig(t *testing.T) {
	cfg := DefaultStoreConfig()
	assert.Equal(t, "memory", cfg.Driver)
	assert.Empty(t, cfg.DSN)
	assert.False(t, cfg.AutoMigrate)
	assert.Equal(t, 100, cfg.MaxOpenConns)
	assert.Equal(t, 10, cfg.MaxIdleConns)
	assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
	assert.Equal(t, 10*time.Minute, cfg.ConnMaxIdleTime)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, "fluxwire:", cfg.KeyPrefix)
	assert.Zero(t, cfg.TTL)
}

func TestDefaultAuthConfig(t *testing.T) {
	cfg := DefaultAuthConfig()
	assert.False(t, cfg.Enabled)
	assert.Empty(t, cfg.JWTSecret)
	assert.Equal(t, "fluxwire", cfg.Issuer)
	assert.Equal(t, "fluxwire-api", cfg.Audience)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "fluxwire", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 0.001)
}
