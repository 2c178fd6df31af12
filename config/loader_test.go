package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, 8, cfg.Engine.MaxConcurrentNodes)
	assert.Equal(t, 30*time.Second, cfg.Engine.DefaultNodeTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Engine.RunTimeout)
	assert.True(t, cfg.Engine.FailFast)

	assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, int64(10<<20), cfg.Fetch.MaxBodyBytes)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.False(t, cfg.Store.AutoMigrate)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, "fluxwire:", cfg.Redis.KeyPrefix)

	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, "fluxwire", cfg.Auth.Issuer)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "fluxwire", cfg.Telemetry.ServiceName)
}

func TestDefaultConfig_Validates(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  metrics_port: 9999
  read_timeout: 60s
  rate_limit_rps: 50

engine:
  max_concurrent_nodes: 4
  default_node_timeout: 10s
  run_timeout: 2m
  fail_fast: false

store:
  driver: "sqlite"
  dsn: "fluxwire.db"
  auto_migrate: true

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1
  ttl: 24h

log:
  level: "debug"
  format: "console"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0o644)
	require.NoError(t, err)

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 9999, cfg.Server.MetricsPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, float64(50), cfg.Server.RateLimitRPS)

	assert.Equal(t, 4, cfg.Engine.MaxConcurrentNodes)
	assert.Equal(t, 10*time.Second, cfg.Engine.DefaultNodeTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Engine.RunTimeout)
	assert.False(t, cfg.Engine.FailFast)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "fluxwire.db", cfg.Store.DSN)
	assert.True(t, cfg.Store.AutoMigrate)

	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("FLUXWIRE_SERVER_HTTP_PORT", "7777")
	t.Setenv("FLUXWIRE_ENGINE_MAX_CONCURRENT_NODES", "16")
	t.Setenv("FLUXWIRE_ENGINE_DEFAULT_NODE_TIMEOUT", "45s")
	t.Setenv("FLUXWIRE_ENGINE_FAIL_FAST", "false")
	t.Setenv("FLUXWIRE_STORE_DRIVER", "redis")
	t.Setenv("FLUXWIRE_REDIS_ADDR", "env-redis:6379")
	t.Setenv("FLUXWIRE_LOG_LEVEL", "warn")
	t.Setenv("FLUXWIRE_SERVER_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, 16, cfg.Engine.MaxConcurrentNodes)
	assert.Equal(t, 45*time.Second, cfg.Engine.DefaultNodeTimeout)
	assert.False(t, cfg.Engine.FailFast)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSAllowedOrigins)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
store:
  driver: "sqlite"
  dsn: "yaml.db"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0o644)
	require.NoError(t, err)

	t.Setenv("FLUXWIRE_SERVER_HTTP_PORT", "9999")
	t.Setenv("FLUXWIRE_STORE_DRIVER", "postgres")

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// Env wins over YAML; untouched YAML values survive.
	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "yaml.db", cfg.Store.DSN)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")
	t.Setenv("MYAPP_LOG_LEVEL", "error")

	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)

	assert.Equal(t, 6666, cfg.Server.HTTPPort)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoader_WithValidator(t *testing.T) {
	validator := func(cfg *Config) error {
		if cfg.Server.HTTPPort < 1024 {
			return assert.AnError
		}
		return nil
	}

	t.Setenv("FLUXWIRE_SERVER_HTTP_PORT", "80")

	_, err := NewLoader().
		WithValidator(validator).
		Load()
	assert.Error(t, err)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/config.yaml").
		Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
server:
  http_port: [invalid
  this is not valid yaml
`
	err := os.WriteFile(configPath, []byte(invalidYAML), 0o644)
	require.NoError(t, err)

	_, err = NewLoader().
		WithConfigPath(configPath).
		Load()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid HTTP port (negative)",
			modify: func(c *Config) {
				c.Server.HTTPPort = -1
			},
			wantErr: true,
		},
		{
			name: "invalid HTTP port (too large)",
			modify: func(c *Config) {
				c.Server.HTTPPort = 70000
			},
			wantErr: true,
		},
		{
			name: "negative concurrency cap",
			modify: func(c *Config) {
				c.Engine.MaxConcurrentNodes = -1
			},
			wantErr: true,
		},
		{
			name: "negative run timeout",
			modify: func(c *Config) {
				c.Engine.RunTimeout = -time.Second
			},
			wantErr: true,
		},
		{
			name: "unsupported store driver",
			modify: func(c *Config) {
				c.Store.Driver = "cassandra"
			},
			wantErr: true,
		},
		{
			name: "sql driver without dsn",
			modify: func(c *Config) {
				c.Store.Driver = "postgres"
				c.Store.DSN = ""
			},
			wantErr: true,
		},
		{
			name: "mongo driver without dsn",
			modify: func(c *Config) {
				c.Store.Driver = "mongo"
				c.Store.DSN = ""
			},
			wantErr: true,
		},
		{
			name: "mongo driver with dsn",
			modify: func(c *Config) {
				c.Store.Driver = "mongo"
				c.Store.DSN = "mongodb://localhost:27017"
			},
		},
		{
			name: "auth enabled without secret",
			modify: func(c *Config) {
				c.Auth.Enabled = true
				c.Auth.JWTSecret = ""
			},
			wantErr: true,
		},
		{
			name: "bad log level",
			modify: func(c *Config) {
				c.Log.Level = "verbose"
			},
			wantErr: true,
		},
		{
			name: "bad sample rate",
			modify: func(c *Config) {
				c.Telemetry.SampleRate = 1.5
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMustLoad_Success(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8080
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0o644)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		cfg := MustLoad(configPath)
		assert.Equal(t, 8080, cfg.Server.HTTPPort)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	err := os.WriteFile(configPath, []byte("invalid: [yaml"), 0o644)
	require.NoError(t, err)

	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}

func TestLoadFromEnv_Function(t *testing.T) {
	t.Setenv("FLUXWIRE_STORE_DRIVER", "memory")
	t.Setenv("FLUXWIRE_FETCH_TIMEOUT", "5s")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.Fetch.Timeout)
}
