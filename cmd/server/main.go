// Package main runs the client portal notification API: event intake,
// preferences, the in-app feed and realtime streams, plus the background
// digest flush and retention cleanup.
//
// Import Path: clientportal.io/portal/cmd/server
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"clientportal.io/portal/internal/app"
	"clientportal.io/portal/internal/config"
	"clientportal.io/portal/internal/pkg/logger"
)

const defaultShutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run serves until ctx is cancelled by a signal.
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting client portal notification server",
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Database.Driver),
		zap.String("email", cfg.Email.Provider),
		zap.String("realtime", cfg.Realtime.Provider),
	)

	application, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer application.Shutdown()

	// River workers or in-process tickers, and the realtime relay.
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start background services: %w", err)
	}

	// Bind before announcing so a taken port fails startup.
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := newHTTPServer(cfg.Server, application.Router)
	return serve(ctx, srv, ln, cfg.Server.ShutdownTimeout, application.CloseStreams)
}

// newHTTPServer applies the configured timeouts. Websocket upgrades clear
// the connection deadlines, so WriteTimeout does not cut realtime streams.
func newHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	readHeader := cfg.ReadTimeout
	if readHeader <= 0 || readHeader > 10*time.Second {
		readHeader = 10 * time.Second
	}
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: readHeader,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
		ErrorLog:          zap.NewStdLog(logger.L()),
	}
}

// serve runs srv on ln until ctx ends, then ends realtime streams through
// closeStreams and drains in-flight requests within shutdownTimeout.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, shutdownTimeout time.Duration, closeStreams func()) error {
	errCh := make(chan error, 1)
	go func() { //nolint:naked-goroutine // main server goroutine is exempt
		errCh <- srv.Serve(ln)
	}()
	logger.Info("Server started", zap.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	// Streams never finish on their own; Shutdown would wait them out.
	if closeStreams != nil {
		closeStreams()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("Server stopped gracefully")
	return nil
}
