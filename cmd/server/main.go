package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ZhicongZheng/rw-cdc-sr/internal/app"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/config"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/logger"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)
	log.Info("configuration loaded", "port", cfg.Server.Port, "store", cfg.Store.Driver)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := application.StartReaper(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: application.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		httpErr := srv.Shutdown(shutdownCtx)
		return errors.Join(httpErr, application.Shutdown(shutdownCtx))
	})

	return g.Wait()
}
