// Package config loads service settings: built-in defaults, then an optional YAML file named by
// TAVERN_CONFIG, then environment variables (a .env file is loaded into the environment first).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"

	IdentifierPermissive = "permissive"
	IdentifierStrict     = "strict"
)

type Config struct {
	Env string `yaml:"env" env:"TAVERN_ENV"`

	HTTP struct {
		Addr           string        `yaml:"addr" env:"HTTP_ADDR"`
		AllowedOrigins []string      `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
		ShutdownGrace  time.Duration `yaml:"shutdown_grace" env:"HTTP_SHUTDOWN_GRACE"`
	} `yaml:"http"`

	Log struct {
		Level  string `yaml:"level" env:"LOG_LEVEL"`
		Format string `yaml:"format" env:"LOG_FORMAT"` // console | json
	} `yaml:"log"`

	Store struct {
		Backend    string `yaml:"backend" env:"STORE_BACKEND"`
		SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	} `yaml:"store"`

	Database DatabaseConfig `yaml:"database"`

	NATS struct {
		URL string `yaml:"url" env:"NATS_URL"` // empty keeps relay traffic in-process
	} `yaml:"nats"`

	HUD struct {
		IdentifierMode string `yaml:"identifier_mode" env:"HUD_IDENTIFIER_MODE"`
		TimerWatcher   bool   `yaml:"timer_watcher" env:"HUD_TIMER_WATCHER"`
	} `yaml:"hud"`

	Chat struct {
		Backend string `yaml:"backend" env:"CHAT_BACKEND"` // memory | postgres
		History int    `yaml:"history" env:"CHAT_HISTORY"`
	} `yaml:"chat"`

	Voice struct {
		APIKey    string        `yaml:"api_key" env:"LIVEKIT_API_KEY"`
		APISecret string        `yaml:"-" env:"LIVEKIT_API_SECRET"`
		TokenTTL  time.Duration `yaml:"token_ttl" env:"LIVEKIT_TOKEN_TTL"`
	} `yaml:"voice"`

	MasterEmails []string `yaml:"master_emails" env:"MASTER_EMAILS"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host" env:"DB_HOST"`
	Port     int    `yaml:"port" env:"DB_PORT"`
	User     string `yaml:"user" env:"DB_USER"`
	Password string `yaml:"-" env:"DB_PASSWORD"`
	Database string `yaml:"name" env:"DB_NAME"`
	SSLMode  string `yaml:"sslmode" env:"DB_SSLMODE"`
}

// DSN returns the Postgres connection URL.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func Default() Config {
	var cfg Config
	cfg.Env = "dev"
	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.AllowedOrigins = []string{"*"}
	cfg.HTTP.ShutdownGrace = 10 * time.Second
	cfg.Log.Level = "info"
	cfg.Log.Format = "console"
	cfg.Store.Backend = StoreMemory
	cfg.Store.SQLitePath = "tavern.db"
	cfg.Database = DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "tavern",
		SSLMode:  "disable",
	}
	cfg.HUD.IdentifierMode = IdentifierPermissive
	cfg.HUD.TimerWatcher = true
	cfg.Chat.Backend = StoreMemory
	cfg.Chat.History = 200
	cfg.Voice.TokenTTL = 6 * time.Hour
	return cfg
}

// Load builds the configuration for the running process.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg := Default()
	if path := os.Getenv("TAVERN_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory, StoreSQLite, StorePostgres:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Chat.Backend {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("unknown chat backend %q", c.Chat.Backend)
	}
	switch c.HUD.IdentifierMode {
	case IdentifierPermissive, IdentifierStrict:
	default:
		return fmt.Errorf("unknown identifier mode %q", c.HUD.IdentifierMode)
	}
	if c.Chat.History <= 0 {
		return fmt.Errorf("chat history must be positive, got %d", c.Chat.History)
	}
	return nil
}

// IsDev reports whether human-readable console logging should be used.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Env, "dev") && c.Log.Format != "json"
}
