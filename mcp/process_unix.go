//go:build unix

package mcp

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts the process in its own group so that killing it
// also reaches the test runners and interpreters it spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcess(cmd *exec.Cmd) error {
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}
