package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tails/api/internal/config"
	"tails/api/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "tails-api",
	Short:         "Hierarchical document store for tails and their articles",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("TAILS_CONFIG"), "path to a TOML config file overlaying the environment")
}

// loadConfig reads the environment and then the optional TOML overlay.
func loadConfig() (config.Config, error) {
	cfg := config.Load()
	if strings.TrimSpace(configPath) == "" {
		return cfg, nil
	}
	return config.LoadFile(configPath, cfg)
}

func newLogger(cfg config.Config) zerolog.Logger {
	return logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
