// Package config loads server settings from a .env file, the environment and
// command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Flood-control backends.
const (
	FloodStoreMemory   = "memory"
	FloodStorePostgres = "postgres"
)

// Config holds the server configuration.
type Config struct {
	HTTPAddr string `validate:"required"`
	GRPCAddr string `validate:"required"`
	Dev      bool   // gRPC reflection
	LogLevel string `validate:"oneof=debug info warn error"`

	DatabaseDSN string `validate:"required"`

	BotToken        string `validate:"required"`
	TelegramAPIID   int    `validate:"gt=0"`
	TelegramAPIHash string `validate:"required"`
	// SessionKey encrypts stored sessions; defaults to TelegramAPIHash.
	SessionKey string `validate:"required"`
	APIKey     string `validate:"required,min=16"`

	FloodStore     string        `validate:"oneof=memory postgres"`
	PendingTTL     time.Duration `validate:"gt=0"`
	TeardownGrace  time.Duration `validate:"gte=0"`
	WaitForSettle  bool
	InitDataMaxAge time.Duration `validate:"gte=0"`
	HealthInterval time.Duration `validate:"gt=0"`
}

// Load reads the optional .env file named by TGLINK_ENV_FILE (default ".env"),
// then the process environment, then args.
func Load(args []string) (*Config, error) {
	envFile := os.Getenv("TGLINK_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	// godotenv never overrides variables already set in the environment.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	return Parse(args, os.LookupEnv)
}

// Parse builds a Config from args over the variables visible through lookup.
func Parse(args []string, lookup func(string) (string, bool)) (*Config, error) {
	env := envReader{lookup: lookup}
	cfg := &Config{
		HTTPAddr:        env.str("HTTP_ADDR", ":8080"),
		GRPCAddr:        env.str("GRPC_ADDR", ":9090"),
		Dev:             env.bool("DEV", false),
		LogLevel:        env.str("LOG_LEVEL", "info"),
		DatabaseDSN:     env.str("DATABASE_DSN", ""),
		BotToken:        env.str("BOT_TOKEN", ""),
		TelegramAPIID:   env.int("TELEGRAM_API_ID", 0),
		TelegramAPIHash: env.str("TELEGRAM_API_HASH", ""),
		SessionKey:      env.str("SESSION_KEY", ""),
		APIKey:          env.str("API_KEY", ""),
		FloodStore:      env.str("FLOOD_STORE", FloodStoreMemory),
		PendingTTL:      env.duration("PENDING_TTL", 10*time.Minute),
		TeardownGrace:   env.duration("TEARDOWN_GRACE", 500*time.Millisecond),
		WaitForSettle:   env.bool("WAIT_FOR_SETTLE", false),
		InitDataMaxAge:  env.duration("INITDATA_MAX_AGE", 0),
		HealthInterval:  env.duration("HEALTH_INTERVAL", 10*time.Second),
	}
	if env.err != nil {
		return nil, env.err
	}

	fset := flag.NewFlagSet("tglink-server", flag.ContinueOnError)
	fset.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fset.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC health listen address")
	fset.BoolVar(&cfg.Dev, "dev", cfg.Dev, "enable gRPC server reflection (dev only)")
	fset.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug|info|warn|error")
	fset.StringVar(&cfg.DatabaseDSN, "dsn", cfg.DatabaseDSN, "PostgreSQL DSN")
	fset.IntVar(&cfg.TelegramAPIID, "api-id", cfg.TelegramAPIID, "Telegram API id")
	fset.StringVar(&cfg.FloodStore, "flood-store", cfg.FloodStore, "flood-control backend: memory|postgres")
	fset.DurationVar(&cfg.PendingTTL, "pending-ttl", cfg.PendingTTL, "how long a handshake may stay open")
	fset.DurationVar(&cfg.TeardownGrace, "teardown-grace", cfg.TeardownGrace, "delay before a finished handshake's client is closed")
	fset.BoolVar(&cfg.WaitForSettle, "wait-for-settle", cfg.WaitForSettle, "save sessions only after the login completes")
	fset.DurationVar(&cfg.InitDataMaxAge, "initdata-max-age", cfg.InitDataMaxAge, "reject init-data older than this (0 = off)")
	fset.DurationVar(&cfg.HealthInterval, "health-interval", cfg.HealthInterval, "database health probe interval")
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	if cfg.SessionKey == "" {
		cfg.SessionKey = cfg.TelegramAPIHash
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envReader keeps the first conversion error so callers check once.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) str(key, def string) string {
	if v, ok := e.lookup(key); ok && v != "" {
		return v
	}
	return def
}

func (e *envReader) int(key string, def int) int {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil && e.err == nil {
		e.err = fmt.Errorf("invalid %s value: %w", key, err)
	}
	return n
}

func (e *envReader) bool(key string, def bool) bool {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil && e.err == nil {
		e.err = fmt.Errorf("invalid %s value: %w", key, err)
	}
	return b
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil && e.err == nil {
		e.err = fmt.Errorf("invalid %s value: %w", key, err)
	}
	return d
}
