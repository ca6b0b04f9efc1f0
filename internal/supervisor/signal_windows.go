//go:build windows

package supervisor

import (
	"os"
	"syscall"
)

// pidAlive returns true if a process with given pid can be opened.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal(0) probes existence on Windows via OpenProcess.
	return p.Signal(syscall.Signal(0)) == nil
}

// terminate kills the process; Windows has no graceful signal for
// unrelated processes.
func terminate(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func forceKill(pid int) error { return terminate(pid) }
