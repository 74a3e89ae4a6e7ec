//go:build unix

package workspace

import (
	"os/exec"
	"syscall"
)

// killGroupOnCancel runs the stage in its own process group and kills the
// whole group when the context ends, so children of sh -c die with it.
func killGroupOnCancel(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
