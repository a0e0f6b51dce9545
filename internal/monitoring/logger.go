// Package monitoring holds the diagnostic loggers used by the calibration
// core. Both default to the standard logger and can be replaced or muted.
package monitoring

import "log"

// Logf is the package-level diagnostic logger for run summaries, image
// exclusions and retries. It defaults to log.Printf but may be replaced by
// SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// Debugf receives per-iteration solver traces. It is a no-op until
// SetVerbose(true).
var Debugf func(format string, v ...interface{}) = func(string, ...interface{}) {}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose routes Debugf to the current Logf when on and mutes it when off.
func SetVerbose(on bool) {
	if !on {
		Debugf = func(string, ...interface{}) {}
		return
	}
	Debugf = func(format string, v ...interface{}) {
		Logf(format, v...)
	}
}
