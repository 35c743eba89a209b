//go:build !unix

package proc

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

// Only Kill is deliverable without process groups.
func signalGroup(cmd *exec.Cmd, _ os.Signal) error {
	return cmd.Process.Kill()
}
