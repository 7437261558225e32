package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Storage StorageConfig `mapstructure:"storage"`
	Redis   RedisConfig   `mapstructure:"redis"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Games   GamesConfig   `mapstructure:"games"`
	Automa  AutomaConfig  `mapstructure:"automa"`
	Tables  TablesConfig  `mapstructure:"tables"`
	Rating  RatingConfig  `mapstructure:"rating"`
}

type ServerConfig struct {
	HTTPAddress     string        `mapstructure:"http_address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type StorageConfig struct {
	Driver   string         `mapstructure:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig enables the shared table lock. Without it locks are per process.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// NATSConfig enables distributing computer turns across instances.
type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	Subject       string        `mapstructure:"subject"`
	Queue         string        `mapstructure:"queue"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

type GamesConfig struct {
	// Enabled lists game ids to offer. Empty offers every built-in game.
	Enabled []string `mapstructure:"enabled"`
}

type AutomaConfig struct {
	Workers int `mapstructure:"workers"`
	Buffer  int `mapstructure:"buffer"`
}

type TablesConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// Retention is how long ended or abandoned tables are kept.
	Retention time.Duration `mapstructure:"retention"`
	// IdleNew is how long a table may wait for players before it is abandoned.
	IdleNew       time.Duration `mapstructure:"idle_new"`
	TurnBasedTurn time.Duration `mapstructure:"turn_based_turn"`
	MaxRetries    int           `mapstructure:"max_retries"`
}

type RatingConfig struct {
	K float64 `mapstructure:"k"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite.path", "tabletop.db")
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.user", "tabletop")
	v.SetDefault("storage.postgres.dbname", "tabletop")
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("storage.postgres.conn_max_lifetime", time.Hour)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.lock_ttl", 5*time.Second)
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject", "tabletop.automa")
	v.SetDefault("nats.queue", "tabletop-automa")
	v.SetDefault("nats.max_reconnects", 60)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("games.enabled", []string{})
	v.SetDefault("automa.workers", 4)
	v.SetDefault("automa.buffer", 1024)
	v.SetDefault("tables.sweep_interval", 5*time.Second)
	v.SetDefault("tables.retention", 7*24*time.Hour)
	v.SetDefault("tables.idle_new", 24*time.Hour)
	v.SetDefault("tables.turn_based_turn", 12*time.Hour)
	v.SetDefault("tables.max_retries", 30)
	v.SetDefault("rating.k", 32.0)
}

// Load reads config.yaml from path if present, then applies TABLETOP_*
// environment overrides (TABLETOP_STORAGE_DRIVER=postgres and so on).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("tabletop")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if c.Tables.MaxRetries < 1 {
		return fmt.Errorf("config: tables.max_retries must be positive")
	}
	if c.Tables.SweepInterval <= 0 {
		return fmt.Errorf("config: tables.sweep_interval must be positive")
	}
	return nil
}
