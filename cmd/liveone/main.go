package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/liveone/liveone/pkg/log"
	"github.com/liveone/liveone/pkg/poller"
	"github.com/liveone/liveone/pkg/server"
	"github.com/liveone/liveone/pkg/storage"
	"github.com/liveone/liveone/pkg/vendors"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	factory := vendors.Configured()
	db := storage.Configured()
	orch := poller.Configured(db, factory)

	// init server
	srv := server.Configured(orch, db)

	// parse flags
	lflag.Configure()

	if err := factory.Validate(); err != nil {
		panic(fmt.Errorf("vendor config invalid: %w", err))
	}

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()
	defer orch.Shutdown()

	// register every stored system and start its schedule loop
	if err := orch.LoadSystems(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load systems", "error", err)
		os.Exit(1)
	}

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
