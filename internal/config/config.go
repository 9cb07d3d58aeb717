package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type Config struct {
	Port              string   `mapstructure:"PORT"`
	Env               string   `mapstructure:"ENV"`
	LogLevel          string   `mapstructure:"LOG_LEVEL"`
	Store             string   `mapstructure:"STORE"`
	DatabaseURL       string   `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32    `mapstructure:"DB_MIN_CONNS"`
	SQLitePath        string   `mapstructure:"SQLITE_PATH"`
	MigrationsDir     string   `mapstructure:"MIGRATIONS_DIR"`
	AMQPURL           string   `mapstructure:"AMQP_URL"`
	AMQPExchange      string   `mapstructure:"AMQP_EXCHANGE"`
	BalanceGoalMinML  float64  `mapstructure:"BALANCE_GOAL_MIN_ML"`
	BalanceGoalMaxML  float64  `mapstructure:"BALANCE_GOAL_MAX_ML"`
	UrineCategory     string   `mapstructure:"URINE_CATEGORY"`
	UrineTargetMLKgHr float64  `mapstructure:"URINE_TARGET_ML_KG_HR"`
	BodyLimit         string   `mapstructure:"BODY_LIMIT"`
	CORSOrigins       []string `mapstructure:"CORS_ORIGINS"`
	MetricsEnabled    bool     `mapstructure:"METRICS_ENABLED"`

	// Cached patient-days idle this long are dropped from memory. Zero keeps
	// them forever. Memory-only deployments never evict.
	LedgerIdleTTL       time.Duration `mapstructure:"LEDGER_IDLE_TTL"`
	LedgerSweepInterval time.Duration `mapstructure:"LEDGER_SWEEP_INTERVAL"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "STORE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"SQLITE_PATH", "MIGRATIONS_DIR", "AMQP_URL", "AMQP_EXCHANGE",
	"BALANCE_GOAL_MIN_ML", "BALANCE_GOAL_MAX_ML", "URINE_CATEGORY", "URINE_TARGET_ML_KG_HR",
	"BODY_LIMIT", "CORS_ORIGINS", "METRICS_ENABLED",
	"LEDGER_IDLE_TTL", "LEDGER_SWEEP_INTERVAL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE", StoreMemory)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("SQLITE_PATH", "./data/iobalance.db")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("AMQP_EXCHANGE", "flowsheet.events")
	v.SetDefault("BALANCE_GOAL_MIN_ML", 0)
	v.SetDefault("BALANCE_GOAL_MAX_ML", 500)
	v.SetDefault("URINE_CATEGORY", "urine")
	v.SetDefault("URINE_TARGET_ML_KG_HR", 0.5)
	v.SetDefault("BODY_LIMIT", "64K")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("LEDGER_IDLE_TTL", "30m")
	v.SetDefault("LEDGER_SWEEP_INTERVAL", "1m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// EventsEnabled reports whether change events go to a broker.
func (c *Config) EventsEnabled() bool {
	return c.AMQPURL != ""
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE is %q", StorePostgres)
		}
		if c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
		}
	default:
		return fmt.Errorf("STORE must be %q, %q or %q, got %q", StoreMemory, StorePostgres, StoreSQLite, c.Store)
	}

	if c.Store == StoreSQLite && c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required when STORE is %q", StoreSQLite)
	}

	if c.BalanceGoalMinML > c.BalanceGoalMaxML {
		return fmt.Errorf("BALANCE_GOAL_MIN_ML (%v) exceeds BALANCE_GOAL_MAX_ML (%v)", c.BalanceGoalMinML, c.BalanceGoalMaxML)
	}
	if c.UrineTargetMLKgHr <= 0 {
		return fmt.Errorf("URINE_TARGET_ML_KG_HR must be positive, got %v", c.UrineTargetMLKgHr)
	}
	if c.UrineCategory == "" {
		return fmt.Errorf("URINE_CATEGORY is required")
	}
	if c.LedgerIdleTTL < 0 {
		return fmt.Errorf("LEDGER_IDLE_TTL must not be negative, got %v", c.LedgerIdleTTL)
	}
	if c.LedgerIdleTTL > 0 && c.LedgerSweepInterval <= 0 {
		return fmt.Errorf("LEDGER_SWEEP_INTERVAL must be positive, got %v", c.LedgerSweepInterval)
	}
	if c.EventsEnabled() && c.AMQPExchange == "" {
		return fmt.Errorf("AMQP_EXCHANGE is required when AMQP_URL is set")
	}

	return nil
}
