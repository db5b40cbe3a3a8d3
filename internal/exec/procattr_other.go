//go:build !unix

package exec

import "os/exec"

func detach(cmd *exec.Cmd) {}
