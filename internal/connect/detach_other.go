//go:build !unix

package connect

import "os/exec"

func detach(cmd *exec.Cmd) {}
