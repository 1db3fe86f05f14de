package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	OpenNode OpenNodeConfig `mapstructure:"opennode"`
	Billing  BillingConfig  `mapstructure:"billing"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"` // empty disables migrations on boot
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type StripeConfig struct {
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type OpenNodeConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// BillingConfig carries the rating constants. Credit amounts are decimal
// strings so fractional rates survive the config round trip exactly.
type BillingConfig struct {
	ChunkSize             int           `mapstructure:"chunk_size"`     // subtitle lines per billing chunk
	RatePerChunk          string        `mapstructure:"rate_per_chunk"` // credits per chunk
	BonusFull             string        `mapstructure:"bonus_full"`
	BonusReduced          string        `mapstructure:"bonus_reduced"`
	BonusReducedThreshold int           `mapstructure:"bonus_reduced_threshold"` // score at or above gets the reduced bonus
	BonusDeniedThreshold  int           `mapstructure:"bonus_denied_threshold"`  // score at or above gets nothing
	HoldTTL               time.Duration `mapstructure:"hold_ttl"`
}

type AdminConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
	JWTIssuer string        `mapstructure:"jwt_issuer"`
}

type SweepConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	PoolSize  int           `mapstructure:"pool_size"`
	BatchSize int           `mapstructure:"batch_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: SCL (Subtitle Credit
// Ledger). Nested keys use underscore: SCL_DATABASE_HOST, SCL_STRIPE_WEBHOOK_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "credit_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("opennode.api_key", "")
	v.SetDefault("billing.chunk_size", 20)
	v.SetDefault("billing.rate_per_chunk", "0.7")
	v.SetDefault("billing.bonus_full", "100")
	v.SetDefault("billing.bonus_reduced", "20")
	v.SetDefault("billing.bonus_reduced_threshold", 50)
	v.SetDefault("billing.bonus_denied_threshold", 80)
	v.SetDefault("billing.hold_ttl", "30m")
	v.SetDefault("admin.jwt_secret", "")
	v.SetDefault("admin.jwt_expiry", "12h")
	v.SetDefault("admin.jwt_issuer", "subtitle-credit-ledger")
	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.interval", "10m")
	v.SetDefault("sweep.pool_size", 8)
	v.SetDefault("sweep.batch_size", 200)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: SCL_DATABASE_HOST -> database.host
	v.SetEnvPrefix("SCL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required — env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
