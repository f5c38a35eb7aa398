package cmd

import (
	"context"
	"errors"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lzcstory/lzcstory/internal/auth"
	"github.com/lzcstory/lzcstory/internal/ffmpeg"
	"github.com/lzcstory/lzcstory/internal/history"
	"github.com/lzcstory/lzcstory/internal/library"
	"github.com/lzcstory/lzcstory/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openApp(false)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, log := rt.cfg, rt.log

	catalog := library.NewCatalog(rt.store, newScanner(rt), cfg.MaxAlbums, log)
	defer catalog.Close()

	manager := auth.NewManager(rt.store, cfg.SessionTTL, log)
	defer manager.Close()
	if n, err := manager.PurgeExpired(ctx); err != nil {
		log.Warn("purge expired sessions failed", zap.Error(err))
	} else if n > 0 {
		log.Info("expired sessions purged", zap.Int64("count", n))
	}

	var watcher *library.Watcher
	if cfg.WatchAlbums {
		watcher, err = library.NewWatcher(catalog, cfg.WatchDebounce, log)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			_ = watcher.Close()
			return err
		}
	}

	srv := server.New(cfg, server.Deps{
		Catalog:     catalog,
		History:     history.NewService(rt.store, log),
		Auth:        manager,
		Diagnostics: rt.store,
		Log:         log,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		log.Info("shutting down")
		err = srv.Close()
	}
	if watcher != nil {
		if cerr := watcher.Close(); cerr != nil {
			log.Warn("stop watcher failed", zap.Error(cerr))
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		log.Warn("http shutdown timed out")
		err = nil
	}
	return err
}

// newScanner attaches an ffprobe duration prober when one is configured.
func newScanner(rt *app) *library.Scanner {
	if rt.cfg.FFProbePath == "" {
		return library.NewScanner(rt.store, rt.log)
	}
	path, err := ffmpeg.Locate(rt.cfg.FFProbePath, filepath.Dir(rt.cfg.DBPath))
	if err != nil {
		rt.log.Warn("ffprobe unavailable, durations disabled", zap.String("ffprobe_path", rt.cfg.FFProbePath), zap.Error(err))
		return library.NewScanner(rt.store, rt.log)
	}
	rt.log.Info("ffprobe enabled", zap.String("path", path))
	return library.NewScanner(rt.store, rt.log, library.WithDurationProber(ffmpeg.NewProber(path)))
}
