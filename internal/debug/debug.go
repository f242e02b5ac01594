// Package debug provides the module's logger. Debug output is enabled
// by setting $SC_DEBUG to a positive integer.
package debug

import (
	"os"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var root atomic.Pointer[zerolog.Logger]

func init() {
	level := zerolog.InfoLevel
	debugLevel, err := strconv.ParseInt(os.Getenv("SC_DEBUG"), 10, 0)
	if (err == nil) && (debugLevel > 0) {
		level = zerolog.DebugLevel
	}

	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Logger()
	root.Store(&l)
}

// SetLogger replaces the root logger. Loggers returned by Named before
// the call are not affected.
func SetLogger(l zerolog.Logger) {
	root.Store(&l)
}

// Logger returns the root logger.
func Logger() *zerolog.Logger {
	return root.Load()
}

// Named returns a sub-logger tagged with the given module name.
func Named(module string) zerolog.Logger {
	return root.Load().With().Str("module", module).Logger()
}

// Printf logs at debug level on the root logger.
func Printf(str string, args ...any) {
	root.Load().Debug().Msgf(str, args...)
}
