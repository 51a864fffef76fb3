//go:build unix

package sandbox

import (
	"os/exec"
	"syscall"
)

// isolate starts cmd in its own process group so that a timeout also kills
// the children it spawned, which otherwise keep the output pipes open
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killGroup(cmd)
	}
}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	// negative pid addresses the whole group
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
