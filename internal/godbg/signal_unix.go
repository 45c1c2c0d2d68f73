//go:build !windows

package godbg

import (
	"os"
	"syscall"
)

var defaultSignals = []os.Signal{syscall.SIGUSR1}
