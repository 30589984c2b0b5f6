package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/energyhub/pkg/log"
	"github.com/raterudder/energyhub/pkg/metrics"
	"github.com/raterudder/energyhub/pkg/server"
	"github.com/raterudder/energyhub/pkg/site"
)

func main() {
	// init packages
	cfg := site.Configured()
	srv := server.Configured()

	// parse flags
	lflag.Configure()

	// lflag sets llog's level, slog follows it
	level := log.SyncLLogLevel()
	metrics.Init()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	log.Ctx(ctx).DebugContext(ctx, "logger configured", slog.String("level", level.String()))

	s, err := cfg.Build(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to configure site", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()
	srv.SetSite(s.Estimator, s.Checker, s.Loads)

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
