package launch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/marmos91/bootgate/internal/logger"
)

// Server is a bound, not yet serving, in-process HTTP server.
type Server struct {
	directive    LaunchDirective
	listener     net.Listener
	server       *http.Server
	shutdownOnce sync.Once
}

// Bind opens the listening socket synchronously so that a port conflict is
// reported before anything is served.
func Bind(d LaunchDirective, handler http.Handler) (*Server, error) {
	d.applyDefaults()
	if err := d.Validate(); err != nil {
		return nil, &LaunchError{Port: d.Port, Err: err}
	}

	ln, err := net.Listen("tcp", d.Address())
	if err != nil {
		return nil, &LaunchError{Port: d.Port, Err: err}
	}

	return &Server{
		directive: d,
		listener:  ln,
		server: &http.Server{
			Handler:      handler,
			ReadTimeout:  d.ReadTimeout,
			WriteTimeout: d.WriteTimeout,
			IdleTimeout:  d.IdleTimeout,
		},
	}, nil
}

// Addr is the bound address; useful when the directive asked for port 0.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve blocks until ctx is cancelled, then drains in-flight requests for at
// most the shutdown timeout.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.InfoCtx(ctx, "Service listening", logger.KeyAddr, s.Addr().String())
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.InfoCtx(ctx, "Service shutdown signal received")
		// ctx is already done; drain on a fresh deadline.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.directive.ShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("service failed: %w", err)
	}
}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("service shutdown error: %w", err)
			logger.ErrorCtx(ctx, "Service shutdown error", logger.KeyError, err)
			return
		}
		logger.InfoCtx(ctx, "Service stopped gracefully")
	})
	return shutdownErr
}

// StartService binds d's port and serves handler until ctx is cancelled.
// A bind failure returns *LaunchError immediately.
func StartService(ctx context.Context, d LaunchDirective, handler http.Handler) error {
	srv, err := Bind(d, handler)
	if err != nil {
		logger.ErrorCtx(ctx, "Service failed to bind",
			logger.KeyPort, d.Port,
			logger.KeyError, err)
		return err
	}
	return srv.Serve(ctx)
}
