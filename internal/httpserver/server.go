// Package httpserver runs an http.Server until its context ends.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultShutdownTimeout bounds the graceful shutdown.
const DefaultShutdownTimeout = 5 * time.Second

// Config represents common HTTP server configuration.
type Config interface {
	GetListenAddress() string
	GetListenPort() int
}

// Address joins the listen address and port of cfg.
func Address(cfg Config) string {
	return net.JoinHostPort(cfg.GetListenAddress(), fmt.Sprint(cfg.GetListenPort()))
}

// Serve listens on addr and serves handler until ctx is cancelled, then shuts
// the server down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger logrus.FieldLogger) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ServeListener(ctx, listener, handler, logger)
}

// ServeListener is like Serve but uses an existing listener.
func ServeListener(ctx context.Context, listener net.Listener, handler http.Handler, logger logrus.FieldLogger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithField("comp", "httpserver")

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Infof("starting server on %s", listener.Addr())
		errc <- srv.Serve(listener)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("server gracefully stopped")
	return nil
}
