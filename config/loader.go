package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full fluxwire configuration tree. Values are resolved in
// three layers: defaults, then the YAML file, then FLUXWIRE_* environment
// variables.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Engine    EngineConfig    `yaml:"engine" env:"ENGINE"`
	Fetch     FetchConfig     `yaml:"fetch" env:"FETCH"`
	Store     StoreConfig     `yaml:"store" env:"STORE"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Auth      AuthConfig      `yaml:"auth" env:"AUTH"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP API and metrics listeners.
type ServerConfig struct {
	// HTTPPort serves the run API and WebSocket streams.
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// MetricsPort serves /metrics on a separate listener.
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`

	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// MaxConns caps concurrent client connections; 0 leaves the listener
	// unbounded.
	MaxConns int `yaml:"max_conns" env:"MAX_CONNS"`

	// Per-client-IP request rate for the API middleware.
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// EngineConfig sets the run scheduler defaults applied to every run the
// server starts.
type EngineConfig struct {
	// MaxConcurrentNodes caps nodes executing at once per engine; 0 means
	// unbounded.
	MaxConcurrentNodes int `yaml:"max_concurrent_nodes" env:"MAX_CONCURRENT_NODES"`
	// DefaultNodeTimeout bounds node executions whose config carries no
	// timeout of its own; 0 disables the bound.
	DefaultNodeTimeout time.Duration `yaml:"default_node_timeout" env:"DEFAULT_NODE_TIMEOUT"`
	// RunTimeout bounds whole runs started through the API; 0 disables it.
	RunTimeout time.Duration `yaml:"run_timeout" env:"RUN_TIMEOUT"`
	// FailFast cancels still-running siblings as soon as one node fails.
	FailFast bool `yaml:"fail_fast" env:"FAIL_FAST"`
}

// FetchConfig configures the outbound HTTP client used by http nodes.
type FetchConfig struct {
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
}

// StoreConfig selects the run record backend.
type StoreConfig struct {
	// Driver is one of memory, redis, sqlite, mysql, postgres, mongo.
	// Empty selects memory.
	Driver string `yaml:"driver" env:"DRIVER"`
	// DSN is the connection string for the sql and mongo drivers.
	DSN string `yaml:"dsn" env:"DSN"`
	// AutoMigrate creates the runs table on open instead of requiring
	// `fluxwire migrate up`.
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
	// MongoDatabase names the mongo database holding run records.
	// Defaults to fluxwire.
	MongoDatabase string `yaml:"mongo_database" env:"MONGO_DATABASE"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
}

// RedisConfig configures the redis connection used when Store.Driver is
// redis.
type RedisConfig struct {
	Addr      string        `yaml:"addr" env:"ADDR"`
	Password  string        `yaml:"password" env:"PASSWORD"`
	DB        int           `yaml:"db" env:"DB"`
	PoolSize  int           `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	// TTL expires stored run records; 0 keeps them forever.
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// AuthConfig enables JWT bearer authentication on the API.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
	Audience  string `yaml:"audience" env:"AUDIENCE"`
	// TokenTTL is the lifetime of tokens minted by `fluxwire token`.
	TokenTTL time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths are zap sink URLs, stdout/stderr or file paths.
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader resolves a Config from defaults, an optional YAML file and
// environment variables, then runs registered validators.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a Loader with the FLUXWIRE env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "FLUXWIRE",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file to load. A missing file is not an
// error; defaults and env apply.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator registers an extra validation step run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration. Layers apply in order: defaults, YAML
// file, environment.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", l.configPath, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", l.configPath, err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks the struct recursively; a field tagged env:"X"
// under prefix P is overridden by the variable P_X when set.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration fields accept "30s" style values.
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma-separated string slices.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads configuration from path, panicking on failure. Intended
// for main functions.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}
	return cfg
}

// LoadFromEnv resolves configuration from defaults and environment only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validStoreDrivers = map[string]bool{
	"": true, "memory": true, "redis": true, "sqlite": true, "mysql": true, "postgres": true, "mongo": true,
}

// Validate checks invariants that hold for any deployment.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "server.http_port out of range")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "server.metrics_port out of range")
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, "server.rate_limit_rps must not be negative")
	}

	if c.Engine.MaxConcurrentNodes < 0 {
		errs = append(errs, "engine.max_concurrent_nodes must not be negative")
	}
	if c.Engine.DefaultNodeTimeout < 0 || c.Engine.RunTimeout < 0 {
		errs = append(errs, "engine timeouts must not be negative")
	}

	if c.Fetch.MaxBodyBytes < 0 {
		errs = append(errs, "fetch.max_body_bytes must not be negative")
	}

	if !validStoreDrivers[c.Store.Driver] {
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}
	switch c.Store.Driver {
	case "sqlite", "mysql", "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, "store.dsn is required for sql drivers")
		}
	case "mongo":
		if c.Store.DSN == "" {
			errs = append(errs, "store.dsn is required for the mongo driver")
		}
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret is required when auth is enabled")
	}

	if !validLogLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level %q is not one of debug/info/warn/error", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Sprintf("log.format %q is not json or console", c.Log.Format))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be within [0, 1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
