package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-h5p/pkg/h5p/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globals holds the persistent flags shared by every command.
type globals struct {
	configFile string
	format     string
	verbose    bool
	logger     *slog.Logger
}

func NewRootCommand() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "h5p",
		Short: "H5P package engine",
		Long: `Validate, install, export and manage H5P packages.

Configuration comes from H5P_* environment variables (a .env file in the
working directory is loaded first) and an optional config file.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			switch g.format {
			case "text", "json", "yaml":
			default:
				return fmt.Errorf("unsupported format %q (use text, json or yaml)", g.format)
			}
			g.logger = newLogger(cmd.ErrOrStderr(), g.verbose)
			slog.SetDefault(g.logger)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&g.configFile, "config", "c", "", "config file (optional)")
	rootCmd.PersistentFlags().StringVarP(&g.format, "format", "f", "text", "output format: text, json or yaml")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(NewValidateCommand(g))
	rootCmd.AddCommand(NewInstallCommand(g))
	rootCmd.AddCommand(NewShowCommand(g))
	rootCmd.AddCommand(NewExportCommand(g))
	rootCmd.AddCommand(NewDeleteCommand(g))
	rootCmd.AddCommand(NewCopyCommand(g))
	rootCmd.AddCommand(NewLibrariesCommand(g))
	rootCmd.AddCommand(NewFetchMetadataCommand(g))

	return rootCmd
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	handler := log.NewWithOptions(w, log.Options{
		Prefix: "h5p",
		Level:  level,
	})
	return slog.New(handler)
}

// components loads the configuration and builds the engine for one command.
func (g *globals) components(ctx context.Context) (*config.Components, error) {
	cfg, err := config.Load(config.WithFile(g.configFile), config.WithEnv())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	comps, err := cfg.Build(ctx, g.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return comps, nil
}
