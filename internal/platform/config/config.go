package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
	StoreDriverSQLite   = "sqlite"
	StoreDriverMemory   = "memory"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	StoreDriver   string `env:"STORE_DRIVER" default:"postgres"`
	DatabaseURL   string `env:"DATABASE_URL"`
	MongoURI      string `env:"MONGO_URI"`
	MongoDatabase string `env:"MONGO_DATABASE" default:"taskstream"`
	SQLitePath    string `env:"SQLITE_PATH" default:"taskstream.db"`
	RedisURL      string `env:"REDIS_URL"`

	AdminUsername string        `env:"ADMIN_USERNAME"`
	AdminPassword string        `env:"ADMIN_PASSWORD"`
	TokenSecret   string        `env:"TOKEN_SECRET"`
	TokenTTL      time.Duration `env:"TOKEN_TTL" default:"12h"`

	PublicURL   string   `env:"PUBLIC_URL" default:"http://localhost:8080"`
	CORSOrigins []string `env:"CORS_ORIGINS"`

	MaxWebSocketConnections int `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int `env:"MAX_CONNECTIONS_PER_IP" default:"50"`
	MaxRoomsPerConnection   int `env:"MAX_ROOMS_PER_CONNECTION" default:"8"`

	// MaxClientsPerRoom caps viewers of one stream; 0 means unlimited.
	MaxClientsPerRoom int `env:"MAX_CLIENTS_PER_ROOM" default:"0"`

	PublicRatePerMinute int `env:"PUBLIC_RATE_PER_MINUTE" default:"120"`
	PublicRateBurst     int `env:"PUBLIC_RATE_BURST" default:"30"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, &env.Options{SliceSep: ","}); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func validate(cfg *Config) error {
	required := []struct{ name, value string }{
		{"ADMIN_USERNAME", cfg.AdminUsername},
		{"ADMIN_PASSWORD", cfg.AdminPassword},
		{"TOKEN_SECRET", cfg.TokenSecret},
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		required = append(required, struct{ name, value string }{"DATABASE_URL", cfg.DatabaseURL})
	case StoreDriverMongo:
		required = append(required, struct{ name, value string }{"MONGO_URI", cfg.MongoURI})
	case StoreDriverSQLite:
		required = append(required, struct{ name, value string }{"SQLITE_PATH", cfg.SQLitePath})
	case StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be one of postgres, mongo, sqlite, memory; got %q", cfg.StoreDriver)
	}

	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	if len(cfg.TokenSecret) < 32 {
		return errors.New("TOKEN_SECRET must be at least 32 characters")
	}
	if cfg.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}
	if cfg.MaxRoomsPerConnection < 1 {
		return errors.New("MAX_ROOMS_PER_CONNECTION must be at least 1")
	}
	if cfg.MaxClientsPerRoom < 0 {
		return errors.New("MAX_CLIENTS_PER_ROOM must not be negative")
	}
	if cfg.PublicRatePerMinute < 1 || cfg.PublicRateBurst < 1 {
		return errors.New("PUBLIC_RATE_PER_MINUTE and PUBLIC_RATE_BURST must be at least 1")
	}

	if cfg.IsProduction() {
		if cfg.StoreDriver == StoreDriverMemory {
			return errors.New("STORE_DRIVER=memory is not allowed in production")
		}
		if cfg.StoreDriver == StoreDriverPostgres {
			if err := rejectInsecureSSL(cfg.DatabaseURL); err != nil {
				return err
			}
		}
	}

	return nil
}

func rejectInsecureSSL(databaseURL string) error {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}
	mode := strings.ToLower(u.Query().Get("sslmode"))
	if mode == "disable" || mode == "allow" {
		return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
	}
	return nil
}
