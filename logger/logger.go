// Package logger holds the process-wide default logger cmd/pcepsd
// configures at startup; individual peers still take their own
// Logger in peer.Config, so this is only a fallback for callers that
// don't wire one explicitly.
package logger

import "github.com/getamis/sirius/log"

var logger = log.Discard()

func Logger() log.Logger {
	return logger
}

func SetLogger(log log.Logger) {
	logger = log
}
