//go:build !unix

package procrunner

import "os/exec"

// setProcessGroup is a no-op on platforms without POSIX process groups.
func setProcessGroup(cmd *exec.Cmd) {}

// killProcessTree falls back to killing only the direct child process.
// Descendant processes spawned by the assistant CLI may be left behind
// on these platforms.
func killProcessTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
