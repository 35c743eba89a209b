package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/bootgate/internal/logger"
	"github.com/marmos91/bootgate/pkg/bootstrap"
	"github.com/marmos91/bootgate/pkg/config"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Run probe, migrate and the service in order",
	Long: `Supervise one bootstrap run:

  1. bootgate probe        wait for the database
  2. bootgate migrate up   apply pending migrations
  3. service.command       start the service (default: bootgate serve)

Each stage is a child process started only after the previous one exited 0.
SIGINT and SIGTERM are forwarded to the running child. bootgate up exits
with the failing stage's status, or with the service's status once it
stops.

Examples:
  # Typical container entrypoint
  DB_HOST=db DATABASE_URL=postgres://app:secret@db:5432/app bootgate up

  # Launch an external service once the schema is ready
  BOOTGATE_SERVICE_COMMAND="uvicorn app.main:app --port 8000" bootgate up`,
	RunE: runUp,
}

func runUp(cmd *cobra.Command, args []string) error {
	s, err := startSession(cmd.Context(), "")
	if err != nil {
		return err
	}
	defer s.close()

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate bootgate binary: %w", err)
	}

	plan, err := upPlan(self, s.cfg, os.Environ())
	if err != nil {
		return err
	}

	sup := bootstrap.New(bootstrap.WithRunID(s.runID), bootstrap.WithObserver(s.metrics))
	err = sup.Run(s.ctx, plan)
	if err != nil {
		logger.ErrorCtx(s.ctx, "Bootstrap failed",
			logger.KeyPhase, sup.Phase().String(),
			logger.KeyExitCode, bootstrap.ExitCode(err))
	}
	return err
}

// upPlan builds the child processes of one run. Each child re-reads the
// same configuration: the file named by --config plus the inherited
// environment.
func upPlan(self string, cfg *config.Config, env []string) (bootstrap.Plan, error) {
	stageArgs := func(args ...string) []string {
		argv := append([]string{self}, args...)
		if cfgFile != "" {
			argv = append(argv, "--config", cfgFile)
		}
		if logLevel != "" {
			argv = append(argv, "--log-level", logLevel)
		}
		return argv
	}

	directive := serviceDirective(cfg)
	if len(directive.Command) == 0 {
		directive.Command = stageArgs("serve")
	}
	if err := directive.Validate(); err != nil {
		return bootstrap.Plan{}, &configError{err: err}
	}

	return bootstrap.Plan{
		Probe:   bootstrap.ProcessStep(stageArgs("probe"), env, cfg.ShutdownTimeout),
		Migrate: bootstrap.ProcessStep(stageArgs("migrate", "up"), env, cfg.ShutdownTimeout),
		Launch:  bootstrap.ServiceProcess(directive, env),
	}, nil
}
