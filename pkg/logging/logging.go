// Package logging provides the process-wide structured logger.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once   sync.Once
	logger *logrus.Logger
)

// Logger returns the singleton logger. It starts at Info level and is
// reconfigured by Configure once the config is loaded.
func Logger() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.Out = os.Stderr
		logger.SetLevel(logrus.InfoLevel)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			PadLevelText:  true,
		})
	})
	return logger
}

// Configure applies level and format settings. Unknown levels fall back to
// info; format is "text" (default) or "json".
func Configure(level, format string) {
	l := Logger()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			PadLevelText:  true,
		})
	}
}

// SetOutput redirects log output. Used by commands that own stdout.
func SetOutput(w io.Writer) {
	Logger().SetOutput(w)
}
