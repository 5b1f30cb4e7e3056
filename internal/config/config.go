// Package config reads process configuration from the environment after
// loading an optional .env file.
package config

import (
	"errors"
	"time"

	"github.com/liveqa/project/internal/platform/env"
)

const DevJWTSecret = "dev-insecure-change-me"

var ErrInsecureSecret = errors.New("JWT_SECRET must be set outside development")

type Config struct {
	APIAddr            string
	DatabaseURL        string
	NATSURL            string
	JWTSecret          string
	UIOrigin           string
	LogLevel           string
	Environment        string
	ShutdownTimeout    time.Duration
	DBReadyTimeout     time.Duration
	NATSConnectTimeout time.Duration
	AccessTokenTTL     time.Duration
	// MemoryIndexes declares the liked-first question index on the memory
	// store. Without it initial loads take the fallback ordering.
	MemoryIndexes bool
}

// Parse loads dotenv files (".env" when none are given) and reads the
// configuration. Variables already in the environment win over the files.
func Parse(files ...string) (Config, error) {
	if err := env.Load(files...); err != nil {
		return Config{}, err
	}
	cfg := Config{
		APIAddr:            env.String("QA_API_ADDR", env.DefaultAPIAddr),
		DatabaseURL:        env.String("DATABASE_URL", env.DefaultDatabaseURL),
		NATSURL:            env.String("NATS_URL", env.DefaultNATSURL),
		JWTSecret:          env.String("JWT_SECRET", DevJWTSecret),
		UIOrigin:           env.String("UI_ORIGIN", env.DefaultUIOrigin),
		LogLevel:           env.String("LOG_LEVEL", "info"),
		Environment:        env.String("APP_ENV", "development"),
		ShutdownTimeout:    env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		DBReadyTimeout:     env.Duration("DB_READY_TIMEOUT", 30*time.Second),
		NATSConnectTimeout: env.Duration("NATS_CONNECT_TIMEOUT", 20*time.Second),
		AccessTokenTTL:     env.Duration("ACCESS_TOKEN_TTL", 15*time.Minute),
		MemoryIndexes:      env.Bool("MEMORY_INDEXES", true),
	}
	if cfg.Environment != "development" && cfg.JWTSecret == DevJWTSecret {
		return Config{}, ErrInsecureSecret
	}
	return cfg, nil
}
