package bootstrap

import (
	"context"
	"net/http"
	"time"

	"github.com/marmos91/bootgate/internal/logger"
	"github.com/marmos91/bootgate/internal/proc"
	"github.com/marmos91/bootgate/internal/telemetry"
	"github.com/marmos91/bootgate/pkg/launch"
)

// Environment variables a supervisor exports to its children.
const (
	EnvRunID = "BOOTGATE_RUN_ID"
	EnvStage = "BOOTGATE_STAGE"
)

// ChildEnv returns base plus the run id, stage and trace context of ctx.
func ChildEnv(ctx context.Context, base []string) []string {
	env := append([]string(nil), base...)
	if lc := logger.FromContext(ctx); lc != nil {
		if lc.RunID != "" {
			env = append(env, EnvRunID+"="+lc.RunID)
		}
		if lc.Stage != "" {
			env = append(env, EnvStage+"="+lc.Stage)
		}
	}
	return append(env, telemetry.Environ(ctx)...)
}

// ProcessStep runs argv as a child process and succeeds only on exit 0.
// Cancelling ctx sends SIGTERM to the child's group and SIGKILL grace
// later.
func ProcessStep(argv []string, base []string, grace time.Duration) Step {
	return func(ctx context.Context) error {
		cmd, err := proc.Command(ctx, argv, ChildEnv(ctx, base), grace)
		if err != nil {
			return err
		}
		if err := cmd.Start(); err != nil {
			return err
		}
		logger.DebugCtx(ctx, "Stage process started",
			logger.KeyPID, cmd.Process.Pid,
			logger.KeyCommand, argv)

		err = cmd.Wait()
		if err == nil {
			return nil
		}

		lc := logger.FromContext(ctx)
		stage := ""
		if lc != nil {
			stage = lc.Stage
		}
		code, exited := proc.ExitStatus(err)
		if !exited && ctx.Err() != nil {
			return &StageError{Stage: stage, Code: -1, Err: ctx.Err()}
		}
		return &StageError{Stage: stage, Code: code, Err: err}
	}
}

// ServiceProcess launches d.Command as the service and reports ready once
// its port accepts connections. A later non-zero exit is reported as a
// *StageError carrying the child's status.
func ServiceProcess(d launch.LaunchDirective, base []string) ServiceStep {
	return func(ctx context.Context) (func() error, error) {
		p, err := launch.StartProcess(ctx, d, launch.WithBaseEnv(ChildEnv(ctx, base)))
		if err != nil {
			return nil, err
		}
		return func() error {
			err := p.Wait()
			if err == nil {
				return nil
			}
			code, _ := proc.ExitStatus(err)
			return &StageError{Stage: StageLaunch, Code: code, Err: err}
		}, nil
	}
}

// InProcessService binds d's port and serves handler in this process. A bind
// failure ends the launch stage before Ready.
func InProcessService(d launch.LaunchDirective, handler http.Handler) ServiceStep {
	return func(ctx context.Context) (func() error, error) {
		srv, err := launch.Bind(d, handler)
		if err != nil {
			return nil, err
		}
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Serve(ctx) }()
		return func() error { return <-errCh }, nil
	}
}
