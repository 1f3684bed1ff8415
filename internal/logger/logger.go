package logger

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	defaultLogger *slog.Logger
	once          sync.Once
)

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Init initializes the default logger with a JSON handler writing to
// os.Stdout at info level. It runs only once.
func Init() {
	once.Do(func() {
		defaultLogger = newLogger(os.Stdout, false)
		slog.SetDefault(defaultLogger)
	})
}

// SetDebug rebuilds the default logger at debug or info level. Called
// once configuration is loaded; not safe for concurrent use with logging.
func SetDebug(debug bool) {
	Init()
	defaultLogger = newLogger(os.Stdout, debug)
	slog.SetDefault(defaultLogger)
}

// Get returns the initialized default logger.
func Get() *slog.Logger {
	Init()
	return defaultLogger
}

// Info logs an informational message using the default logger.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Warn logs a warning message using the default logger.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs an error message using the default logger.
func Error(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	Get().Error(msg, args...)
}

// Debug logs a debug message using the default logger.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}
