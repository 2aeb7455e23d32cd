// Package ioconfig provides I/O operations for loading configuration from
// files, environment variables, and flags. This is an impure package that
// handles file system and flag operations; pkg/config itself stays pure.
package ioconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/fieldnote/dex/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// LoadResult contains the loaded configuration and metadata about the source.
type LoadResult struct {
	Config     *config.Config
	SourcePath string // Path to config file used, or empty if using defaults
	Source     string // "file", "defaults", or "defaults+env"
}

// Load builds a Config starting from config.New()'s defaults, overlaying a
// YAML file and then DEX_*-prefixed environment variables.
//
// If configPath is empty, it searches the default location:
//   - ~/.config/dex/dex.yaml
//
// Precedence (highest to lowest): env vars > config file > defaults. CLI
// flags are layered on top separately via BindFlags, after a command has
// parsed its own flag set.
func Load(configPath string) (*LoadResult, error) {
	// ExperimentalBindStruct lets Unmarshal look up every Config field's key
	// (and so its DEX_* variable) even when no file or default names it.
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigType("yaml")

	v.SetEnvPrefix("DEX")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	usedConfigPath := ""
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else if homeDir, err := os.UserHomeDir(); err == nil {
		defaultPath := config.ConfigFilePath(homeDir)
		if _, statErr := os.Stat(defaultPath); statErr == nil {
			v.SetConfigFile(defaultPath)
		}
	}

	configFileRead := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if configPath != "" {
				return nil, fmt.Errorf("config file not found: %s", configPath)
			}
			// No config file at the default location; fall through to
			// defaults + env vars.
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		configFileRead = true
		usedConfigPath = v.ConfigFileUsed()
	}

	var raw config.Config
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg := config.New()
	cfg.Update(raw.ToOptions())

	source := "defaults"
	if configFileRead {
		source = "file"
	} else if hasEnvVars() {
		source = "defaults+env"
	}

	return &LoadResult{
		Config:     cfg,
		SourcePath: usedConfigPath,
		Source:     source,
	}, nil
}

// hasEnvVars reports whether any DEX_* environment variable is set.
func hasEnvVars() bool {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "DEX_") {
			return true
		}
	}
	return false
}

// BindFlags overlays cobra flag values onto cfg, taking precedence over
// config file and environment values.
func BindFlags(cmd *cobra.Command, cfg *config.Config) (*config.Config, error) {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if v.IsSet("host") {
		cfg.Update([]config.Option{config.OptDatabaseHost(v.GetString("host"))})
	}
	if v.IsSet("port") {
		cfg.Update([]config.Option{config.OptDatabasePort(v.GetInt("port"))})
	}
	if v.IsSet("user") {
		cfg.Update([]config.Option{config.OptDatabaseUser(v.GetString("user"))})
	}
	if v.IsSet("password") {
		cfg.Update([]config.Option{config.OptDatabasePassword(v.GetString("password"))})
	}
	if v.IsSet("database") {
		cfg.Update([]config.Option{config.OptDatabaseDatabase(v.GetString("database"))})
	}
	if v.IsSet("ssl-mode") {
		cfg.Update([]config.Option{config.OptDatabaseSSLMode(v.GetString("ssl-mode"))})
	}

	return cfg, nil
}
