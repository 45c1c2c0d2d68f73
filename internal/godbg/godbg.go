// Package godbg provides hooks for debugging a running process.
package godbg

import (
	"io"
	"os"
	"os/signal"
	"runtime/pprof"
)

// StackTrace writes the stack of every goroutine to the writer.
func StackTrace(w io.Writer) error {
	return pprof.Lookup("goroutine").WriteTo(w, 1)
}

// SignalTrace dumps goroutine stacks to stderr each time one of the given
// signals is received. With no arguments the platform debug signal is used,
// SIGUSR1 on unix. On platforms without a debug signal this is a noop.
func SignalTrace(sigs ...os.Signal) {
	if len(sigs) == 0 {
		sigs = defaultSignals
	}
	if len(sigs) == 0 {
		return
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, sigs...)
	go func() {
		for range sig {
			_ = StackTrace(os.Stderr)
		}
	}()
}
