package commands

import (
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/bootgate/internal/logger"
	"github.com/marmos91/bootgate/internal/telemetry"
	"github.com/marmos91/bootgate/pkg/bootstrap"
	"github.com/marmos91/bootgate/pkg/config"
	"github.com/marmos91/bootgate/pkg/probe"
)

var probeFlags struct {
	host        string
	port        int
	interval    time.Duration
	deadline    time.Duration
	maxAttempts int
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Wait until the database accepts TCP connections",
	Long: `Wait until the configured dependency accepts a TCP connection.

One connection is attempted per interval. The wait gives up when the
attempt limit or the deadline is exhausted; a value of 0 disables that
bound. Exit status 2 means the target never became reachable.

Examples:
  # Wait for the database named by DB_HOST/DB_PORT
  bootgate probe

  # Explicit target, 30 second deadline
  bootgate probe --host db --port 5432 --deadline 30s

  # At most 10 attempts, 2 seconds apart, no deadline
  bootgate probe --max-attempts 10 --interval 2s --deadline 0`,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringVar(&probeFlags.host, "host", "", "target host (default: probe.host)")
	probeCmd.Flags().IntVar(&probeFlags.port, "port", 0, "target port (default: probe.port)")
	probeCmd.Flags().DurationVar(&probeFlags.interval, "interval", 0, "pause between attempts (default: probe.interval)")
	probeCmd.Flags().DurationVar(&probeFlags.deadline, "deadline", 0, "total wait bound, 0 for none (default: probe.deadline)")
	probeCmd.Flags().IntVar(&probeFlags.maxAttempts, "max-attempts", 0, "attempt bound, 0 for none (default: probe.max_attempts)")
}

func runProbe(cmd *cobra.Command, args []string) error {
	s, err := startSession(cmd.Context(), bootstrap.StageProbe)
	if err != nil {
		return err
	}
	defer s.close()

	target := probeTarget(cmd, s.cfg.Probe)

	ctx, span := telemetry.StartSpan(s.ctx, telemetry.SpanProbe,
		trace.WithAttributes(telemetry.Target(target.Address())))
	defer span.End()

	err = probe.WaitUntilReachable(ctx, target, probe.WithRecorder(s.metrics))
	telemetry.RecordError(ctx, err)
	if err != nil {
		logger.ErrorCtx(ctx, "Dependency not reachable",
			logger.KeyTarget, target.Address(),
			logger.KeyError, err)
		return err
	}
	return nil
}

// probeTarget builds the target from configuration, overridden by the flags
// that were set explicitly.
func probeTarget(cmd *cobra.Command, cfg config.ProbeConfig) probe.Target {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = probeFlags.host
	}
	if flags.Changed("port") {
		cfg.Port = probeFlags.port
	}
	if flags.Changed("interval") {
		cfg.Interval = probeFlags.interval
	}
	if flags.Changed("deadline") {
		cfg.Deadline = probeFlags.deadline
	}
	if flags.Changed("max-attempts") {
		cfg.MaxAttempts = probeFlags.maxAttempts
	}

	maxInterval := cfg.MaxInterval
	if maxInterval < cfg.Interval {
		maxInterval = cfg.Interval
	}
	return probe.Target{
		Host:              cfg.Host,
		Port:              cfg.Port,
		Interval:          cfg.Interval,
		MaxAttempts:       cfg.MaxAttempts,
		Deadline:          cfg.Deadline,
		DialTimeout:       cfg.DialTimeout,
		BackoffMultiplier: cfg.BackoffMultiplier,
		MaxInterval:       maxInterval,
	}
}
