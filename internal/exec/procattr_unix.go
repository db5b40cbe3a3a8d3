//go:build unix

package exec

import (
	"os/exec"
	"syscall"
)

// detach starts cmd in its own process group so that a terminal interrupt
// delivered to baztest's group does not reach the child.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
