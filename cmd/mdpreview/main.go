// Package main provides the mdpreview server application entrypoint.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/euforicio/mdpreview/internal/buildinfo"
	"github.com/euforicio/mdpreview/internal/config"
	"github.com/euforicio/mdpreview/internal/exporter"
	"github.com/euforicio/mdpreview/internal/preview"
	"github.com/euforicio/mdpreview/internal/renderer"
	d2renderer "github.com/euforicio/mdpreview/internal/renderer/d2"
	"github.com/euforicio/mdpreview/internal/server"
)

func main() {
	cfg := config.Default()
	config.ApplyEnvOverrides(&cfg)

	flags := pflag.NewFlagSet("mdpreview", pflag.ExitOnError)
	config.RegisterFlags(flags, &cfg)
	versionFlag := flags.Bool("version", false, "Print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		slog.Error("parse flags", slog.Any("err", err))
		os.Exit(1)
	}
	if *versionFlag {
		println(buildinfo.Summary())
		os.Exit(0)
	}
	if err := config.Finalize(&cfg); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	logLevel := slog.LevelWarn
	if cfg.Verbose {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger = logger.With("app", "mdpreview")
	slog.SetDefault(logger)
	logger.Log(context.Background(), slog.LevelInfo-1, "starting mdpreview", slog.String("version", buildinfo.Summary()))

	ctx := context.Background()
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d2Svc := d2renderer.New(logger, nil)
	rendererSvc := renderer.NewService(logger, d2Svc)
	previewSvc, err := preview.NewService(ctx, cfg.RootDir, rendererSvc, logger, preview.Options{})
	if err != nil {
		cancel()
		logger.Error("preview service init failed", slog.Any("err", err))
		//nolint:gocritic // exitAfterDefer: cancel() explicitly called before os.Exit
		os.Exit(1)
	}
	defer func() {
		if err := previewSvc.Close(); err != nil {
			logger.Error("close preview service", slog.Any("err", err))
		}
	}()

	exp, err := exporter.New(logger, rendererSvc, d2Svc)
	if err != nil {
		cancel()
		logger.Error("exporter init failed", slog.Any("err", err))
		os.Exit(1)
	}

	srv, err := server.New(cfg, logger, previewSvc, rendererSvc, exp)
	if err != nil {
		cancel()
		logger.Error("server init failed", slog.Any("err", err))
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("shutdown complete")
			return
		}
		logger.Error("server error", slog.Any("err", err))
		os.Exit(1)
	}
}
