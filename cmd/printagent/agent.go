package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/orrn/printagent/internal/api"
	"github.com/orrn/printagent/internal/api/middleware"
	"github.com/orrn/printagent/internal/config"
	"github.com/orrn/printagent/internal/core"
	"github.com/orrn/printagent/internal/db"
	"github.com/orrn/printagent/internal/device"
	applog "github.com/orrn/printagent/internal/log"
	"github.com/orrn/printagent/internal/remote"
	"github.com/orrn/printagent/internal/stamp"
)

const shutdownTimeout = 10 * time.Second

func runAgent(cfg *config.Config) error {
	logger := applog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serial, err := device.Serial(&cfg.Device)
	if err != nil {
		return fmt.Errorf("failed to derive device serial: %w", err)
	}

	if err := os.MkdirAll(cfg.Dispatch.ScratchDir, 0o755); err != nil {
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}

	client := remote.NewClient(&cfg.Remote, serial)
	printer := core.NewPrinterManager(&cfg.Printer)

	deps := core.Deps{
		Remote:  client,
		Fetcher: core.NewFetcher(client, cfg.Dispatch.ScratchDir, cfg.Remote.DownloadTimeout),
		Marker:  stamp.NewStamper(&cfg.Stamp, cfg.Dispatch.ScratchDir),
		Printer: printer,
	}

	var journal *db.JournalOperations
	if cfg.Database.Enabled {
		if err := db.Init(db.Config{Path: cfg.Database.Path}); err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer db.Close()
		journal = db.NewJournalOperations(nil)
		deps.Journal = journal
	}

	dispatcher := core.NewDispatcher(deps, &cfg.Printer, &cfg.Dispatch)

	var server *api.Server
	serverErr := make(chan error, 1)
	if cfg.Server.Enabled {
		if cfg.Logging.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		opts := api.RouterOptions{
			Serial:  serial,
			Printer: cfg.Printer.Name,
			Auth:    middleware.NewAuthMiddleware(&cfg.Server),
			Options: printer,
		}
		if journal != nil {
			opts.Runs = journal
		}
		server = api.NewServer(&cfg.Server, api.NewRouter(opts))
		go func() {
			logger.Info().Str("address", cfg.Server.Address).Msg("status API listening")
			serverErr <- server.ListenAndServe()
		}()
	}

	logger.Info().
		Str(applog.FieldSerial, serial).
		Str(applog.FieldPrinter, cfg.Printer.Name).
		Str("remote", cfg.Remote.BaseURL).
		Bool("journal", journal != nil).
		Msg("printagent started")

	dispatchErr := make(chan error, 1)
	go func() {
		dispatchErr <- dispatcher.Run(ctx)
	}()

	runErr := waitForDispatch(logger, dispatchErr, serverErr)

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("status API shutdown failed")
		}
	}

	logger.Info().Msg("printagent stopped")
	return runErr
}

// waitForDispatch blocks until the dispatcher returns. A status API failure
// is logged and leaves dispatch running.
func waitForDispatch(logger zerolog.Logger, dispatchErr, serverErr <-chan error) error {
	for {
		select {
		case err := <-dispatchErr:
			return err
		case err := <-serverErr:
			serverErr = nil
			if err != nil {
				logger.Error().Err(err).Msg("status API stopped; dispatch continues")
			}
		}
	}
}
