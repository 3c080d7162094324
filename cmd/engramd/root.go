package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/engramdev/engram/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "engramd",
	Short: "engramd - tiered memory and pattern-learning engine",
	Long: `engramd serves a two-tier memory store: a bounded FIFO queue of
active conversations and a confidence-scored pattern store. Every write is
protected by a backup-validate-commit cycle, and pattern confidence is
governed by occurrence-based gates that keep single observations from
masquerading as established knowledge.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file (env vars override)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(decayCmd)
	rootCmd.AddCommand(anomaliesCmd)
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	level := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}
