package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-daemon/internal/bootstrap"
	"ai-daemon/internal/config"
	"ai-daemon/internal/pkg/logger"
	"ai-daemon/internal/server"
	"ai-daemon/internal/tracer"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket and HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	// 1. Load Configuration
	cfg := config.Load()
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	defer sysLogger.Sync()

	// 2. Tracing
	shutdownTracer := tracer.InitTracer(cfg.Telemetry, sysLogger)

	// 3. Bootstrap Dependencies (Container)
	container, err := bootstrap.NewContainer(cfg, sysLogger)
	if err != nil {
		sysLogger.Error("Main", "Failed to bootstrap", map[string]interface{}{"error": err.Error()})
		return err
	}

	// 4. Start Background Services
	background, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	if err := container.Start(background); err != nil {
		return err
	}

	// 5. Run Server until a signal or a listen failure
	srv := server.New(cfg, container)
	listenErr := make(chan error, 1)
	go func() { listenErr <- srv.Run() }()

	signals, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	var runErr error
	select {
	case <-signals.Done():
		sysLogger.Info("Main", "Shutting down", nil)
	case runErr = <-listenErr:
		sysLogger.Error("Main", "Server stopped", map[string]interface{}{"error": errString(runErr)})
	}

	// 6. Graceful shutdown: sessions first, then the listener, then backends and telemetry.
	stopBackground()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := container.Close(shutdownTimeout / 2); err != nil {
		errs = append(errs, err)
	}
	if err := shutdownTracer(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		sysLogger.Warn("Main", "Unclean shutdown", map[string]interface{}{"error": err.Error()})
	}
	return runErr
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
