package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/bootgate/pkg/launch"
	"github.com/marmos91/bootgate/pkg/migrate"
	"github.com/marmos91/bootgate/pkg/probe"
)

// Process exit codes.
const (
	ExitOK              = 0
	ExitFailure         = 1 // configuration, usage and anything unclassified
	ExitProbeTimeout    = 2
	ExitMigrationFailed = 3
	ExitLaunchFailed    = 4
)

// StageError is a failed stage. Code is the child's exit status, or -1
// when it was killed by a signal or never ran.
type StageError struct {
	Stage string
	Code  int
	Err   error
}

func (e *StageError) Error() string {
	if e.Code >= 0 {
		return fmt.Sprintf("stage %s failed (exit status %d): %v", e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ExitCode maps err to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		te *probe.TimeoutError
		me *migrate.MigrationError
		le *launch.LaunchError
		se *StageError
	)
	switch {
	case errors.As(err, &te):
		return ExitProbeTimeout
	case errors.As(err, &me):
		return ExitMigrationFailed
	case errors.As(err, &le):
		return ExitLaunchFailed
	case errors.Is(err, context.Canceled):
		return ExitFailure
	case errors.As(err, &se):
		if se.Code > 0 {
			return se.Code
		}
		return stageExitCode(se.Stage)
	}
	return ExitFailure
}

func stageExitCode(stage string) int {
	switch stage {
	case StageProbe:
		return ExitProbeTimeout
	case StageMigrate:
		return ExitMigrationFailed
	case StageLaunch:
		return ExitLaunchFailed
	default:
		return ExitFailure
	}
}

// wrapStage tags err with the stage that produced it.
func wrapStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Code: ExitCode(err), Err: err}
}
