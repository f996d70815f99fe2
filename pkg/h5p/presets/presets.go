// Package presets builds ready-to-use engines for common setups.
package presets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/tendant/simple-h5p/pkg/h5p"
	"github.com/tendant/simple-h5p/pkg/h5p/config"
	"github.com/tendant/simple-h5p/pkg/h5p/engine"
	memoryrepo "github.com/tendant/simple-h5p/pkg/h5p/repo/memory"
	fsstorage "github.com/tendant/simple-h5p/pkg/h5p/storage/fs"
	memorystorage "github.com/tendant/simple-h5p/pkg/h5p/storage/memory"
)

// NewDevelopment creates an engine for local development.
//
// Features:
//   - In-memory database (instant startup, no setup required)
//   - Filesystem storage at ./dev-data/
//   - Library installs allowed, exports enabled
//   - Events logged through slog
//
// The returned cleanup function removes the storage directory.
func NewDevelopment(opts ...DevelopmentOption) (engine.Engine, func(), error) {
	cfg := &devConfig{
		storageDir: "./dev-data",
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	files, err := fsstorage.New(fsstorage.Config{BaseDir: cfg.storageDir})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create filesystem storage: %w", err)
	}

	eng, err := engine.New(
		engine.WithRepository(memoryrepo.New()),
		engine.WithFileStorage(files),
		engine.WithPolicy(h5p.NewStaticPolicy(true)),
		engine.WithEventSink(h5p.NewLoggingEventSink(cfg.logger)),
		engine.WithLogger(cfg.logger),
		engine.WithExportEnabled(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create engine: %w", err)
	}

	cleanup := func() {
		os.RemoveAll(cfg.storageDir)
	}
	return eng, cleanup, nil
}

// Testing is an engine over a temporary directory together with its backends.
type Testing struct {
	engine.Engine
	Repository *memoryrepo.Repository
	Files      *fsstorage.Storage
	Exports    *memorystorage.ExportStore
}

// NewTesting creates an engine for tests. Everything lives in memory or
// under t.TempDir(), so nothing needs cleaning up.
func NewTesting(t testing.TB, opts ...TestingOption) *Testing {
	t.Helper()
	cfg := &testConfig{updateLibraries: true, exports: true}
	for _, opt := range opts {
		opt(cfg)
	}

	files, err := fsstorage.New(fsstorage.Config{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	tst := &Testing{
		Repository: memoryrepo.New(),
		Files:      files,
		Exports:    memorystorage.New(),
	}

	eng, err := engine.New(
		engine.WithRepository(tst.Repository),
		engine.WithFileStorage(files),
		engine.WithExportStore(tst.Exports),
		engine.WithPolicy(h5p.NewStaticPolicy(cfg.updateLibraries)),
		engine.WithExportEnabled(cfg.exports),
	)
	if err != nil {
		t.Fatalf("failed to create test engine: %v", err)
	}
	tst.Engine = eng
	return tst
}

// NewProduction builds the engine from H5P_* environment variables and
// refuses in-memory backends.
func NewProduction(ctx context.Context, opts ...config.Option) (*config.Components, error) {
	opts = append([]config.Option{config.WithEnv(), config.WithEnvironment("production")}, opts...)
	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseType == "memory" {
		return nil, fmt.Errorf("production preset requires a persistent database (postgres or sqlite, not memory)")
	}
	if cfg.ExportStore == "memory" {
		return nil, fmt.Errorf("production preset requires persistent export storage (fs or s3, not memory)")
	}
	return cfg.Build(ctx, slog.Default())
}

type devConfig struct {
	storageDir string
	logger     *slog.Logger
}

// DevelopmentOption configures NewDevelopment
type DevelopmentOption func(*devConfig)

// WithDevStorage sets the storage directory
func WithDevStorage(dir string) DevelopmentOption {
	return func(cfg *devConfig) {
		cfg.storageDir = dir
	}
}

// WithDevLogger sets the logger used for engine events
func WithDevLogger(logger *slog.Logger) DevelopmentOption {
	return func(cfg *devConfig) {
		cfg.logger = logger
	}
}

type testConfig struct {
	updateLibraries bool
	exports         bool
}

// TestingOption configures NewTesting
type TestingOption func(*testConfig)

// WithLibraryUpdates sets whether packages may install libraries (default true)
func WithLibraryUpdates(allowed bool) TestingOption {
	return func(cfg *testConfig) {
		cfg.updateLibraries = allowed
	}
}

// WithoutExports disables export archives
func WithoutExports() TestingOption {
	return func(cfg *testConfig) {
		cfg.exports = false
	}
}
