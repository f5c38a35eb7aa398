package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lzcstory/lzcstory/internal/config"
	"github.com/lzcstory/lzcstory/internal/logger"
	"github.com/lzcstory/lzcstory/internal/storage"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "lzcstory",
	Short:         "lzcstory serves a self-hosted library of audio stories.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file")
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles what every subcommand needs.
type app struct {
	cfg   *config.Config
	log   *zap.Logger
	store *storage.Store
}

func openApp(readOnly bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.DBPath, storage.Options{
		BusyTimeout: cfg.SQLite.BusyTimeout,
		Synchronous: cfg.SQLite.Synchronous,
		CacheSize:   cfg.SQLite.CacheSize,
		ReadOnly:    readOnly,
	})
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	return &app{cfg: cfg, log: log, store: store}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("close database failed", zap.Error(err))
	}
	_ = a.log.Sync()
}
