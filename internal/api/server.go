// server.go - HTTP server lifecycle
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/srg/straightup/internal/groutine"
)

const shutdownTimeout = 5 * time.Second

// Server serves the API on one listener.
type Server struct {
	echo   *echo.Echo
	logger *logrus.Logger
	done   chan error
}

// NewServer wires middleware and routes for deps.
func NewServer(deps *Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	SetupMiddleware(e, deps.Logger)
	RegisterRoutes(e, NewHandlers(deps))

	return &Server{echo: e, logger: deps.Logger}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr and serves until ctx is cancelled or Shutdown is
// called. It returns once the listener is bound.
func (s *Server) Start(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.echo.Listener = ln
	s.done = make(chan error, 1)

	groutine.Go(ctx, "api-server", func(ctx context.Context) {
		err := s.echo.Start("")
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	})
	groutine.Go(ctx, "api-shutdown", func(ctx context.Context) {
		<-ctx.Done()
		_ = s.Shutdown()
	})

	s.logger.WithField("addr", ln.Addr().String()).Info("API listening")
	return ln.Addr(), nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown api server: %w", err)
	}
	return nil
}

// Wait returns the serve error, if any, after the server stopped.
func (s *Server) Wait() error {
	if s.done == nil {
		return nil
	}
	return <-s.done
}
