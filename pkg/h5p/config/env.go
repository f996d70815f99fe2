package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// WithEnv applies H5P_* environment variable overrides.
//
// Besides the field variables listed on ServerConfig, H5P_DATABASE_URL alone
// selects the backend when H5P_DATABASE_TYPE is unset:
//
//	postgres://... or postgresql://...  Postgres
//	sqlite://<path> or a *.db path      SQLite
//	memory                              in-memory
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return applyDatabaseURL(c)
	}
}

// WithFile reads a YAML, JSON, TOML or .env file. Environment variables
// override values from the file.
func WithFile(path string) Option {
	return func(c *ServerConfig) error {
		if path == "" {
			return nil
		}
		if err := cleanenv.ReadConfig(path, c); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return applyDatabaseURL(c)
	}
}

func applyDatabaseURL(c *ServerConfig) error {
	if _, ok := os.LookupEnv("H5P_DATABASE_TYPE"); ok {
		return nil
	}
	url := c.DatabaseURL
	switch {
	case url == "" || url == "memory":
		if c.DatabaseType == "memory" {
			c.DatabaseURL = ""
		}
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		c.DatabaseType = "postgres"
	case strings.HasPrefix(url, "sqlite://"), strings.HasSuffix(url, ".db"):
		c.DatabaseType = "sqlite"
	default:
		if c.DatabaseType == "memory" {
			return fmt.Errorf("unsupported database url format: %s (use 'memory', 'postgresql://...' or 'sqlite://...')", url)
		}
	}
	return nil
}
