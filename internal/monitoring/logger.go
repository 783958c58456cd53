// Package monitoring provides the process-wide diagnostic logger shared by
// the session engine, sources, and HTTP layers.
package monitoring

import "log"

// Logf writes one diagnostic line. It defaults to log.Printf; SetLogger
// swaps it out, which tests use to capture or mute output.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
