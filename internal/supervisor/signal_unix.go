//go:build !windows

package supervisor

import (
	"errors"
	"syscall"
)

// pidAlive returns true if a process with given pid exists (or EPERM).
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// terminate sends a graceful termination signal.
func terminate(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}

// forceKill kills the process immediately.
func forceKill(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}
