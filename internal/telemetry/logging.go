// Package telemetry is the ambient observability stack: structured
// logging, Prometheus metrics, OpenTelemetry tracing, and a lifecycle audit
// log for the packet pipeline's worker/graph lifecycle.
package telemetry

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process-wide logrus logger, JSON-formatted, with
// level parsed from the CLI's --logging-level flag
// (off,error,warn,info,debug,trace).
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	switch level {
	case "off":
		logger.SetOutput(io.Discard)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "trace":
		logger.SetLevel(logrus.TraceLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}
