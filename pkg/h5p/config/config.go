package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-h5p/pkg/h5p"
	"github.com/tendant/simple-h5p/pkg/h5p/engine"
	"github.com/tendant/simple-h5p/pkg/h5p/metadata"
	"github.com/tendant/simple-h5p/pkg/h5p/repo/memory"
	repopg "github.com/tendant/simple-h5p/pkg/h5p/repo/postgres"
	reposqlite "github.com/tendant/simple-h5p/pkg/h5p/repo/sqlite"
	fsstorage "github.com/tendant/simple-h5p/pkg/h5p/storage/fs"
	memorystorage "github.com/tendant/simple-h5p/pkg/h5p/storage/memory"
	s3storage "github.com/tendant/simple-h5p/pkg/h5p/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:               "8080",
		Environment:        "development",
		DatabaseType:       "memory",
		DBSchema:           "h5p",
		DBAutoMigrate:      true,
		StorageDir:         "./data/h5p",
		ExportStore:        "fs",
		S3:                 S3Config{Region: "us-east-1", Prefix: "exports"},
		ExportEnabled:      true,
		MetadataURL:        metadata.DefaultURL,
		PlatformName:       "simple-h5p",
		PlatformVersion:    "1.0",
		EnableEventLogging: true,
	}
}

// ServerConfig represents configuration for the H5P engine and its servers.
// Fields can be read from a YAML or JSON file and from H5P_* environment
// variables.
type ServerConfig struct {
	Port        string `yaml:"port" json:"port" env:"H5P_PORT"`
	Environment string `yaml:"environment" json:"environment" env:"H5P_ENVIRONMENT"` // development, production, testing

	// Database configuration. DatabaseType is "memory", "postgres" or
	// "sqlite"; DatabaseURL is the Postgres URL or the SQLite file path.
	DatabaseType  string `yaml:"database_type" json:"database_type" env:"H5P_DATABASE_TYPE"`
	DatabaseURL   string `yaml:"database_url" json:"database_url" env:"H5P_DATABASE_URL"`
	DBSchema      string `yaml:"db_schema" json:"db_schema" env:"H5P_DB_SCHEMA"`
	DBAutoMigrate bool   `yaml:"db_auto_migrate" json:"db_auto_migrate" env:"H5P_DB_AUTO_MIGRATE"`

	// Storage configuration. ExportStore is "fs", "memory" or "s3".
	StorageDir  string   `yaml:"storage_dir" json:"storage_dir" env:"H5P_STORAGE_DIR"`
	ExportStore string   `yaml:"export_store" json:"export_store" env:"H5P_EXPORT_STORE"`
	S3          S3Config `yaml:"s3" json:"s3"`

	// Engine behavior
	ExportEnabled          bool   `yaml:"export_enabled" json:"export_enabled" env:"H5P_EXPORT_ENABLED"`
	FileCheckDisabled      bool   `yaml:"file_check_disabled" json:"file_check_disabled" env:"H5P_FILE_CHECK_DISABLED"`
	UpdateLibraries        bool   `yaml:"update_libraries" json:"update_libraries" env:"H5P_UPDATE_LIBRARIES"`
	ContentWhitelist       string `yaml:"content_whitelist" json:"content_whitelist" env:"H5P_CONTENT_WHITELIST"`
	LibraryWhitelistExtras string `yaml:"library_whitelist_extras" json:"library_whitelist_extras" env:"H5P_LIBRARY_WHITELIST_EXTRAS"`
	EnableEventLogging     bool   `yaml:"enable_event_logging" json:"enable_event_logging" env:"H5P_ENABLE_EVENT_LOGGING"`

	// Hub metadata
	MetadataURL     string `yaml:"metadata_url" json:"metadata_url" env:"H5P_METADATA_URL"`
	PlatformName    string `yaml:"platform_name" json:"platform_name" env:"H5P_PLATFORM_NAME"`
	PlatformVersion string `yaml:"platform_version" json:"platform_version" env:"H5P_PLATFORM_VERSION"`

	// MetadataInterval schedules periodic fetches in the server, zero disables them.
	MetadataInterval time.Duration `yaml:"metadata_interval" json:"metadata_interval" env:"H5P_METADATA_INTERVAL"`

	// HTTP access control
	JWTSecret    string `yaml:"jwt_secret" json:"jwt_secret" env:"H5P_JWT_SECRET"`
	APIKeySHA256 string `yaml:"api_key_sha256" json:"api_key_sha256" env:"H5P_API_KEY_SHA256"`
}

// S3Config configures the S3 export store.
type S3Config struct {
	Bucket                 string `yaml:"bucket" json:"bucket" env:"H5P_S3_BUCKET"`
	Region                 string `yaml:"region" json:"region" env:"H5P_S3_REGION"`
	Prefix                 string `yaml:"prefix" json:"prefix" env:"H5P_S3_PREFIX"`
	Endpoint               string `yaml:"endpoint" json:"endpoint" env:"H5P_S3_ENDPOINT"`
	AccessKeyID            string `yaml:"access_key_id" json:"access_key_id" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey        string `yaml:"secret_access_key" json:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	UsePathStyle           bool   `yaml:"use_path_style" json:"use_path_style" env:"H5P_S3_USE_PATH_STYLE"`
	CreateBucketIfNotExist bool   `yaml:"create_bucket_if_not_exist" json:"create_bucket_if_not_exist" env:"H5P_S3_CREATE_BUCKET"`
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	switch c.DatabaseType {
	case "memory":
	case "postgres", "sqlite":
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required when using %s", c.DatabaseType)
		}
	default:
		return errors.New("database_type must be 'memory', 'postgres' or 'sqlite'")
	}

	if c.StorageDir == "" {
		return errors.New("storage_dir is required")
	}

	switch c.ExportStore {
	case "fs", "memory":
	case "s3":
		if c.S3.Bucket == "" {
			return errors.New("s3 bucket is required when export_store is 's3'")
		}
	default:
		return fmt.Errorf("unsupported export store '%s'", c.ExportStore)
	}

	return nil
}

// Policy returns the library update and whitelist policy described by the configuration.
func (c *ServerConfig) Policy() *h5p.StaticPolicy {
	policy := h5p.NewStaticPolicy(c.UpdateLibraries)
	if c.ContentWhitelist != "" {
		policy.ContentWhitelist = c.ContentWhitelist
	}
	if c.LibraryWhitelistExtras != "" {
		policy.LibraryWhitelistExtras = c.LibraryWhitelistExtras
	}
	return policy
}

// Components are the backends built from a configuration. Close releases
// database handles.
type Components struct {
	Engine     engine.Engine
	Repository h5p.Repository
	Files      *fsstorage.Storage
	Metadata   *metadata.Fetcher

	closers []func()
}

// Close releases the database connections held by the components.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Build creates the repository, storage, engine and metadata fetcher.
func (c *ServerConfig) Build(ctx context.Context, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}
	comps := &Components{}

	repo, closer, err := c.buildRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	if closer != nil {
		comps.closers = append(comps.closers, closer)
	}
	comps.Repository = repo

	files, err := fsstorage.New(fsstorage.Config{BaseDir: c.StorageDir})
	if err != nil {
		comps.Close()
		return nil, fmt.Errorf("failed to build file storage: %w", err)
	}
	comps.Files = files

	options := []engine.Option{
		engine.WithRepository(repo),
		engine.WithFileStorage(files),
		engine.WithPolicy(c.Policy()),
		engine.WithLogger(logger),
		engine.WithExportEnabled(c.ExportEnabled),
		engine.WithFileCheckDisabled(c.FileCheckDisabled),
	}

	exports, err := c.buildExportStore()
	if err != nil {
		comps.Close()
		return nil, fmt.Errorf("failed to build export store: %w", err)
	}
	if exports != nil {
		options = append(options, engine.WithExportStore(exports))
	}

	if c.EnableEventLogging {
		options = append(options, engine.WithEventSink(h5p.NewLoggingEventSink(logger)))
	}

	eng, err := engine.New(options...)
	if err != nil {
		comps.Close()
		return nil, err
	}
	comps.Engine = eng

	comps.Metadata = metadata.New(repo,
		metadata.WithURL(c.MetadataURL),
		metadata.WithTransport(metadata.NewHTTPTransport(30*time.Second)),
		metadata.WithPlatform(metadata.Platform{
			Name:       c.PlatformName,
			Version:    c.PlatformVersion,
			H5PVersion: "1.24",
			LocalID:    c.StorageDir,
		}),
		metadata.WithLogger(logger),
	)
	return comps, nil
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context) (h5p.Repository, func(), error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), nil, nil

	case "postgres":
		cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		schema := c.DBSchema
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if schema == "" {
				return nil
			}
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
			return err
		}
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		repo := repopg.NewWithPool(pool)
		if c.DBAutoMigrate {
			if err := repo.Migrate(ctx); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return repo, pool.Close, nil

	case "sqlite":
		repo, err := reposqlite.New(strings.TrimPrefix(c.DatabaseURL, "sqlite://"))
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// buildExportStore returns nil when the file storage keeps the exports itself.
func (c *ServerConfig) buildExportStore() (h5p.ExportStore, error) {
	switch c.ExportStore {
	case "fs":
		return nil, nil
	case "memory":
		return memorystorage.New(), nil
	case "s3":
		store, err := s3storage.New(s3storage.Config{
			Region:                 c.S3.Region,
			Bucket:                 c.S3.Bucket,
			Prefix:                 c.S3.Prefix,
			AccessKeyID:            c.S3.AccessKeyID,
			SecretAccessKey:        c.S3.SecretAccessKey,
			Endpoint:               c.S3.Endpoint,
			UsePathStyle:           c.S3.UsePathStyle,
			CreateBucketIfNotExist: c.S3.CreateBucketIfNotExist,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported export store: %s", c.ExportStore)
	}
}

// PingPostgres verifies connectivity to Postgres and optionally sets search_path for the session.
// It fails if the schema (when provided) does not exist.
func PingPostgres(ctx context.Context, databaseURL, schema string) error {
	if databaseURL == "" {
		return errors.New("database_url is required")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create pgx pool: %w", err)
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
