//go:build !unix

package workspace

import "os/exec"

// killGroupOnCancel relies on the default kill plus WaitDelay.
func killGroupOnCancel(*exec.Cmd) {}
