package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/marmos91/bootgate/internal/logger"
	"github.com/marmos91/bootgate/internal/telemetry"
	"github.com/marmos91/bootgate/pkg/bootstrap"
	"github.com/marmos91/bootgate/pkg/config"
	"github.com/marmos91/bootgate/pkg/metrics"
)

// flushTimeout bounds the metrics push and span export at exit.
const flushTimeout = 5 * time.Second

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// loadConfig loads the configuration and applies --log-level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		level := strings.ToUpper(logLevel)
		if _, ok := logger.ParseLevel(level); !ok {
			return nil, fmt.Errorf("invalid --log-level %q (valid: DEBUG, INFO, WARN, ERROR)", logLevel)
		}
		cfg.Logging.Level = level
	}
	return cfg, nil
}

// session is the ambient state of one stage process: configuration,
// logger, tracer and metrics.
type session struct {
	cfg     *config.Config
	ctx     context.Context
	stage   string
	runID   string
	metrics *metrics.Metrics

	shutdownTelemetry func(context.Context) error
}

// startSession prepares a process running stage. A run id and trace context
// exported by a supervising `bootgate up` are adopted, so every stage of one
// run shares them.
func startSession(ctx context.Context, stage string) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := InitLogger(cfg); err != nil {
		return nil, err
	}

	runID := os.Getenv(bootstrap.EnvRunID)
	if runID == "" {
		runID = bootstrap.NewRunID()
	}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "bootgate",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	ctx = telemetry.FromEnviron(ctx)
	lc := logger.NewLogContext(runID)
	if stage != "" {
		lc = lc.WithStage(stage)
	}
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		lc = lc.WithTrace(traceID, telemetry.SpanID(ctx))
	}
	ctx = logger.WithContext(ctx, lc)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		metrics.InitRegistry(stage == bootstrap.StageLaunch)
		m = metrics.New()
	}

	logger.DebugCtx(ctx, "Configuration loaded",
		"source", getConfigSource(GetConfigFile()),
		"telemetry", telemetry.IsEnabled(),
		"metrics", cfg.Metrics.Enabled)

	return &session{
		cfg:               cfg,
		ctx:               ctx,
		stage:             stage,
		runID:             runID,
		metrics:           m,
		shutdownTelemetry: shutdown,
	}, nil
}

// close pushes metrics when a Pushgateway is configured and flushes spans.
func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), flushTimeout)
	defer cancel()

	if s.metrics != nil && s.cfg.Metrics.PushURL != "" {
		grouping := map[string]string{"run_id": s.runID}
		if s.stage != "" {
			grouping["stage"] = s.stage
		}
		if err := metrics.Push(ctx, s.cfg.Metrics.PushURL, s.cfg.Metrics.JobName, grouping); err != nil {
			logger.WarnCtx(ctx, "Failed to push metrics", logger.KeyError, err)
		}
	}
	if err := s.shutdownTelemetry(ctx); err != nil {
		logger.WarnCtx(ctx, "Telemetry shutdown error", logger.KeyError, err)
	}
}

// getConfigSource returns a description of where the config was loaded from
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "environment and defaults"
}

// configError marks a failure that exits 1 whichever stage hit it.
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func isConfigError(err error) bool {
	var ce *configError
	return errors.As(err, &ce)
}
