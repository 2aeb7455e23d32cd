package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fieldnote/dex/internal/ioconfig"
	"github.com/fieldnote/dex/internal/iofs"
	"github.com/fieldnote/dex/internal/iologger"
	"github.com/fieldnote/dex/pkg/config"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *slog.Logger
)

func getRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dexd",
		Short: "dexd manages the wildlife catalog's database and server lifecycle",
		Long: `dexd is a command-line tool for managing the personal wildlife-sighting
catalog service: the PostgreSQL schema, the imported taxonomic reference
corpus, and the HTTP server that fronts the observation pipeline.

The tool supports:

- Schema management: create and migrate the database schema.
- Reference imports: discover, download, and normalize a taxonomy source.
- Serving: run the catalog's HTTP API.
- Maintenance: renumber creation indices, re-resolve synonym links, and
  reap expired image conversions.

Configuration is managed through a dex.yaml file, environment variables
(with DEX_ prefix), and command-line flags.`,
		Version: fmt.Sprintf("version: %s\nbuild:   %s", Version, Build),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			result, err := ioconfig.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			cfg = result.Config

			if homeDir, err := os.UserHomeDir(); err == nil {
				cfg.Update([]config.Option{config.OptHomeDir(homeDir)})
			}

			if err := iofs.EnsureDirs(cfg.HomeDir); err != nil {
				return fmt.Errorf("failed to prepare working directories: %w", err)
			}

			if err := iofs.EnsureConfigFile(cfg.HomeDir); err != nil {
				return fmt.Errorf("failed to write default config: %w", err)
			}

			if err := iologger.Init(config.LogDir(cfg.HomeDir), cfg.Log, true); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			log = slog.Default()

			switch result.Source {
			case "file":
				log.Info("config loaded", "source", "file", "path", result.SourcePath)
			case "defaults+env":
				log.Info("config loaded", "source", "defaults with environment overrides")
			case "defaults":
				log.Info("config loaded", "source", "built-in defaults")
			}

			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ~/.config/dex/dex.yaml)")
	rootCmd.Flags().BoolP("version", "V", false, "version for dexd")

	rootCmd.AddCommand(
		getSchemaCmd(),
		getImportCmd(),
		getServeCmd(),
		getRecalcIndexCmd(),
		getRecheckSynonymsCmd(),
		getReapCmd(),
	)

	return rootCmd
}

func getConfig() *config.Config {
	return cfg
}
