package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nightwatt/nightwatt/pkg/consumption"
	"github.com/nightwatt/nightwatt/pkg/controller"
	"github.com/nightwatt/nightwatt/pkg/inverter"
	"github.com/nightwatt/nightwatt/pkg/log"
	"github.com/nightwatt/nightwatt/pkg/notify"
	"github.com/nightwatt/nightwatt/pkg/prices"
	"github.com/nightwatt/nightwatt/pkg/server"
	"github.com/nightwatt/nightwatt/pkg/solar"
	"github.com/nightwatt/nightwatt/pkg/storage"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	inv := inverter.Configured()
	ps := prices.Configured()
	ss := solar.Configured()
	meter := consumption.Configured()
	db := storage.Configured()
	notifier := notify.Configured()

	// init controller and server
	ctrl := controller.Configured(inv, ps, ss, meter, db, notifier)
	srv := server.Configured(ctrl, db)

	// parse flags
	lflag.Configure()

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

	defer func() {
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	if meter.Enabled() {
		if err := meter.Connect(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to connect meter", "error", err)
			os.Exit(1)
		}
		defer meter.Disconnect()
	}

	if err := ctrl.Init(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to initialize controller", "error", err)
		os.Exit(1)
	}

	// the controller loop runs alongside the HTTP server
	go func() {
		if err := ctrl.Run(ctx); err != nil && ctx.Err() == nil {
			log.Ctx(ctx).ErrorContext(ctx, "controller failed", "error", err)
			cancel()
		}
	}()

	// Run blocks until the context is canceled or an error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
