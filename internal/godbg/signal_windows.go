//go:build windows

package godbg

import "os"

var defaultSignals []os.Signal
