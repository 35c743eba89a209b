// Package proc starts child processes in their own process group so a
// signal reaches the child and everything it spawned.
package proc

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Command builds a command bound to ctx. When ctx ends the whole group gets
// SIGTERM, and grace later the whole group gets SIGKILL. A zero grace waits
// indefinitely after SIGTERM.
func Command(ctx context.Context, argv []string, env []string, grace time.Duration) (*exec.Cmd, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("proc: empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Stdin = nil
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		if grace > 0 {
			// exec only kills the leader after WaitDelay; grandchildren
			// started by a shell wrapper would survive it.
			time.AfterFunc(grace, func() { _ = Kill(cmd) })
		}
		return Signal(cmd, syscall.SIGTERM)
	}
	cmd.WaitDelay = grace
	return cmd, nil
}

// Signal delivers sig to the process group of a started command.
func Signal(cmd *exec.Cmd, sig os.Signal) error {
	if cmd.Process == nil {
		return errors.New("proc: process not started")
	}
	return signalGroup(cmd, sig)
}

// Kill sends SIGKILL to the process group of a started command. The group
// outlives its leader, so this also reaches orphaned grandchildren.
func Kill(cmd *exec.Cmd) error {
	err := Signal(cmd, syscall.SIGKILL)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// ExitStatus extracts the exit status from an error returned by Wait or
// Run. exited is false when the process was killed by a signal or never
// ran.
func ExitStatus(err error) (code int, exited bool) {
	if err == nil {
		return 0, true
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return -1, false
	}
	code = ee.ExitCode()
	return code, code >= 0
}
