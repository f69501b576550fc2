// Package config loads querycache settings from querycache.yaml and the
// environment
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/conduit-lang/querycache/internal/orm/transaction"
)

// EnvPrefix namespaces environment overrides, e.g. QUERYCACHE_SERVER_PORT
const EnvPrefix = "QUERYCACHE"

// Config represents the querycache configuration
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Schema      SchemaConfig      `mapstructure:"schema"`
	Query       QueryConfig       `mapstructure:"query"`
	Transaction TransactionConfig `mapstructure:"transaction"`
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig configures the shared cache tier. Without an address only the
// in-process cache is used.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig controls cache key namespacing and lifetimes
type CacheConfig struct {
	Prefix   string        `mapstructure:"prefix"`
	QueryTTL time.Duration `mapstructure:"query_ttl"`
	LocalTTL time.Duration `mapstructure:"local_ttl"`
	// AsyncInvalidation clears tags in the background after writes
	AsyncInvalidation bool `mapstructure:"async_invalidation"`
}

// SchemaConfig controls introspection
type SchemaConfig struct {
	Name          string        `mapstructure:"name"`
	TTL           time.Duration `mapstructure:"ttl"`
	VersionColumn string        `mapstructure:"version_column"`
}

// QueryConfig holds pagination and bulk defaults
type QueryConfig struct {
	DefaultPageLimit int `mapstructure:"default_page_limit"`
	MaxPageLimit     int `mapstructure:"max_page_limit"`
	BatchSize        int `mapstructure:"batch_size"`
}

// TransactionConfig controls the soft timeout wrapper
type TransactionConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	Isolation       string        `mapstructure:"isolation"`
	CancelOnTimeout bool          `mapstructure:"cancel_on_timeout"`
}

// ServerConfig represents the admin HTTP server
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RateLimit is requests per minute per client; zero disables limiting
	RateLimit int `mapstructure:"rate_limit"`
}

// LogConfig selects the zap preset and level
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Address returns host:port
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsolationLevel parses the configured isolation level
func (t TransactionConfig) IsolationLevel() (transaction.IsolationLevel, error) {
	return transaction.ParseIsolationLevel(t.Isolation)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("cache.prefix", "qc:")
	v.SetDefault("cache.query_ttl", 5*time.Minute)
	v.SetDefault("cache.local_ttl", 30*time.Second)
	v.SetDefault("cache.async_invalidation", false)

	v.SetDefault("schema.name", "public")
	v.SetDefault("schema.ttl", time.Hour)
	v.SetDefault("schema.version_column", "version")

	v.SetDefault("query.default_page_limit", 20)
	v.SetDefault("query.max_page_limit", 100)
	v.SetDefault("query.batch_size", 100)

	v.SetDefault("transaction.timeout", 30*time.Second)
	v.SetDefault("transaction.isolation", "")
	v.SetDefault("transaction.cancel_on_timeout", false)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.rate_limit", 600)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads querycache.yaml from path, or from the working directory when
// path is empty. A missing file leaves the defaults and environment in place.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("querycache")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Database.URL == "" {
		config.Database.URL = os.Getenv("DATABASE_URL")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks ranges and enumerations. The database URL is checked by
// the commands that need it.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Database),
		validation.Field(&c.Cache),
		validation.Field(&c.Schema),
		validation.Field(&c.Query),
		validation.Field(&c.Transaction),
		validation.Field(&c.Server),
		validation.Field(&c.Log),
	)
}

// Validate implements validation.Validatable
func (d DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.MaxOpenConns, validation.Min(0)),
		validation.Field(&d.MaxIdleConns, validation.Min(0)),
	)
}

// Validate implements validation.Validatable
func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.QueryTTL, validation.Required),
		validation.Field(&c.LocalTTL, validation.Min(time.Duration(0))),
	)
}

// Validate implements validation.Validatable
func (s SchemaConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Name, validation.Required),
		validation.Field(&s.TTL, validation.Required),
		validation.Field(&s.VersionColumn, validation.Required),
	)
}

// Validate implements validation.Validatable
func (q QueryConfig) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.DefaultPageLimit, validation.Required, validation.Min(1), validation.Max(q.MaxPageLimit)),
		validation.Field(&q.MaxPageLimit, validation.Required, validation.Min(1)),
		validation.Field(&q.BatchSize, validation.Required, validation.Min(1)),
	)
}

// Validate implements validation.Validatable
func (t TransactionConfig) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&t.Isolation, validation.By(func(interface{}) error {
			_, err := t.IsolationLevel()
			return err
		})),
	)
}

// Validate implements validation.Validatable
func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&s.ShutdownTimeout, validation.Required),
		validation.Field(&s.RateLimit, validation.Min(0)),
	)
}

// Validate implements validation.Validatable
func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error")),
	)
}

// NewLogger builds the zap logger described by the log section
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}
