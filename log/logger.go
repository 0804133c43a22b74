// Package log provides a leveled, categorized logger for protocol
// debugging. Each log line carries the component category that produced
// it and the time elapsed since the previous line, which makes event
// interleavings between sessions readable.
package log

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus to adorn each line with a category and elapsed
// time information.
type Logger struct {
	*logrus.Logger
	mu             sync.Mutex
	lastLogCall    time.Time
	debugOverride  bool
	categoryFilter *regexp.Regexp
}

// New creates a new logger. When debugOverride is true every line is
// printed regardless of the configured level, which is how the
// PUPPETEER_DEBUG environment variable is honored by callers.
func New(logger *logrus.Logger, debugOverride bool) *Logger {
	return &Logger{
		Logger:        logger,
		debugOverride: debugOverride,
	}
}

// NewNullLogger creates a logger that discards all lines. Used in tests.
func NewNullLogger() *Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(logger, false)
}

// NewStdLogger creates a logger writing to stderr, honoring the
// PUPPETEER_DEBUG environment variable.
func NewStdLogger() *Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	return New(logger, envDebugOverride())
}

func envDebugOverride() bool {
	v, ok := os.LookupEnv("PUPPETEER_DEBUG")
	if !ok {
		return false
	}
	ok, _ = strconv.ParseBool(v)
	return ok
}

// Tracef logs a trace-level line for the given category.
func (l *Logger) Tracef(category string, msg string, args ...any) {
	l.Logf(logrus.TraceLevel, category, msg, args...)
}

// Debugf logs a debug-level line for the given category.
func (l *Logger) Debugf(category string, msg string, args ...any) {
	l.Logf(logrus.DebugLevel, category, msg, args...)
}

// Infof logs an info-level line for the given category.
func (l *Logger) Infof(category string, msg string, args ...any) {
	l.Logf(logrus.InfoLevel, category, msg, args...)
}

// Warnf logs a warning-level line for the given category.
func (l *Logger) Warnf(category string, msg string, args ...any) {
	l.Logf(logrus.WarnLevel, category, msg, args...)
}

// Errorf logs an error-level line for the given category.
func (l *Logger) Errorf(category string, msg string, args ...any) {
	l.Logf(logrus.ErrorLevel, category, msg, args...)
}

// Logf logs a line for the given category at the given level.
func (l *Logger) Logf(level logrus.Level, category string, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(l.lastLogCall)
	if l.lastLogCall.IsZero() {
		elapsed = 0
	}
	defer func() {
		l.lastLogCall = now
	}()

	if l.categoryFilter != nil && !l.categoryFilter.MatchString(category) {
		return
	}
	if l.debugOverride && !l.Logger.IsLevelEnabled(level) {
		// The level gate would drop this line; write it straight to the
		// output instead.
		fmt.Fprintf(l.Out, "%s [goroutine %d] %s - %d ms\n",
			category, goRoutineID(), fmt.Sprintf(msg, args...), elapsed.Milliseconds())
		return
	}
	l.WithFields(logrus.Fields{
		"category":  category,
		"elapsed":   fmt.Sprintf("%d ms", elapsed.Milliseconds()),
		"goroutine": goRoutineID(),
	}).Logf(level, msg, args...)
}

// SetLevel sets the logger level from a level name ("debug", "info", ...).
func (l *Logger) SetLevel(level string) error {
	pl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	l.Logger.SetLevel(pl)
	return nil
}

// SetCategoryFilter enables filtering log lines by a category regex.
func (l *Logger) SetCategoryFilter(category string) (err error) {
	if category == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.categoryFilter, err = regexp.Compile(category); err != nil {
		return fmt.Errorf("invalid category filter %q: %w", category, err)
	}
	return nil
}

// DebugMode returns true if the logger will emit debug-level lines.
func (l *Logger) DebugMode() bool {
	return l.debugOverride || l.Logger.IsLevelEnabled(logrus.DebugLevel)
}

func goRoutineID() int {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return -1
	}
	id, err := strconv.Atoi(string(fields[1]))
	if err != nil {
		return -1
	}
	return id
}
