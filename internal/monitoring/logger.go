// Package monitoring holds the package-level diagnostic loggers shared by the
// odometry, sensor and storage packages.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var debug atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug toggles per-tick diagnostics emitted through Debugf.
func SetDebug(enabled bool) {
	debug.Store(enabled)
}

// Debugf logs through Logf only when debug output is enabled. Control loops
// call it every tick, so it is silent by default.
func Debugf(format string, v ...interface{}) {
	if !debug.Load() {
		return
	}
	Logf("[debug] "+format, v...)
}
