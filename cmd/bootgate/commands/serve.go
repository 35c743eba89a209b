package commands

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/bootgate/internal/clients"
	"github.com/marmos91/bootgate/internal/logger"
	"github.com/marmos91/bootgate/internal/telemetry"
	"github.com/marmos91/bootgate/pkg/api"
	"github.com/marmos91/bootgate/pkg/api/handlers"
	"github.com/marmos91/bootgate/pkg/bootstrap"
	"github.com/marmos91/bootgate/pkg/config"
	"github.com/marmos91/bootgate/pkg/launch"
	"github.com/marmos91/bootgate/pkg/metrics"
	"github.com/marmos91/bootgate/pkg/migrate"
)

var serveName string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the health API on the service port",
	Long: `Bind the service port and serve until interrupted.

Routes:
  GET /              welcome message
  GET /health        liveness
  GET /health/ready  readiness: database schema current, cache answering PING

When metrics are enabled, /metrics is served on metrics.port. A port that
cannot be bound fails immediately with exit status 4.

Examples:
  PORT=8000 bootgate serve
  bootgate serve --name orders-api`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveName, "name", "bootgate", "service name reported by the API")
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := startSession(cmd.Context(), bootstrap.StageLaunch)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, span := telemetry.StartSpan(s.ctx, telemetry.SpanServe)
	defer span.End()

	checks, closeChecks := readinessChecks(ctx, s.cfg)
	defer closeChecks()

	handler := api.NewRouter(api.RouterConfig{
		ServiceName: serveName,
		Checks:      checks,
	})
	directive := serviceDirective(s.cfg)
	directive.Command = nil

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return launch.StartService(gctx, directive, handler)
	})
	if s.metrics != nil {
		g.Go(func() error {
			return serveMetrics(gctx, s.cfg.Metrics.Port, s.cfg.ShutdownTimeout)
		})
	}

	err = g.Wait()
	telemetry.RecordError(ctx, err)
	return err
}

// readinessChecks builds the checks /health/ready runs. An unreachable
// database fails readiness, not serve itself.
func readinessChecks(ctx context.Context, cfg *config.Config) ([]handlers.Check, func()) {
	var (
		checks  []handlers.Check
		closers []func() error
	)

	if cfg.Database.URL != "" {
		check, closeStore, err := schemaCheck(ctx, cfg)
		if err != nil {
			logger.WarnCtx(ctx, "Database unavailable, readiness will fail", logger.KeyError, err)
			checks = append(checks, unavailable{name: clients.DatabaseCheckName, err: err})
		} else {
			checks = append(checks, check)
			closers = append(closers, closeStore)
		}
	}

	if cfg.Cache.Enabled {
		c := clients.NewRedisClient(cfg.Cache)
		checks = append(checks, c)
		closers = append(closers, c.Close)
	}

	return checks, func() {
		for _, c := range closers {
			_ = c()
		}
	}
}

func schemaCheck(ctx context.Context, cfg *config.Config) (handlers.Check, func() error, error) {
	store, err := migrate.Open(ctx, cfg.Database.URL, storeOptions(cfg))
	if err != nil {
		return nil, nil, err
	}
	set, err := migrate.Load(cfg.Migrations.Dir, store.Driver())
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return clients.NewSchemaCheck(store, set), store.Close, nil
}

// unavailable is a check that always fails with err.
type unavailable struct {
	name string
	err  error
}

func (u unavailable) Name() string                { return u.name }
func (u unavailable) Check(context.Context) error { return u.err }

// serviceDirective builds the launch directive from the service section.
func serviceDirective(cfg *config.Config) launch.LaunchDirective {
	return launch.LaunchDirective{
		Command:         cfg.Service.Command,
		Env:             cfg.Service.Env,
		Host:            cfg.Service.Host,
		Port:            cfg.Service.Port,
		StartupTimeout:  cfg.Service.StartupTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		ReadTimeout:     cfg.Service.ReadTimeout,
		WriteTimeout:    cfg.Service.WriteTimeout,
		IdleTimeout:     cfg.Service.IdleTimeout,
	}
}

// serveMetrics exposes the Prometheus registry until ctx is cancelled.
func serveMetrics(ctx context.Context, port int, shutdownTimeout time.Duration) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCtx(ctx, "Metrics listening", logger.KeyPort, port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- &launch.LaunchError{Port: port, Err: err}
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
