package agent

import (
	"os"
	"syscall"
)

// reexec replaces the process image with a fresh copy of itself,
// preserving arguments and environment. Exec only returns on failure.
func reexec() {
	exe, err := os.Executable()
	if err != nil {
		os.Exit(1)
	}
	if err := syscall.Exec(exe, os.Args, os.Environ()); err != nil {
		os.Exit(1)
	}
}
