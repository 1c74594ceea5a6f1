package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"snapvault/internal/config"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "snapvault",
		Short: "Snapshot, diff and archive a directory, with remote restore",
		Long: `snapvault periodically lists a target directory, records every changed
snapshot together with a compressed archive, and serves a websocket control
protocol to browse the history, diff snapshots and restore archives.`,
		SilenceUsage: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "snapvault.yaml", "Config file path")
	rootCmd.AddCommand(serveCmd, sendCmd, historyCmd)
}

// loadConfig reads and validates the config file named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
