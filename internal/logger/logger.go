// Package logger provides leveled logging to stdout and a rotating file,
// with errors mirrored to Rollbar when a token is configured.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rollbar/rollbar-go"
	"gopkg.in/natefinch/lumberjack.v2"

	"gradeflow/internal/config"
)

// Level orders log severities
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu       sync.RWMutex
	minLevel = LevelInfo
	debugLog = log.New(os.Stdout, "DEBUG: ", log.Ldate|log.Ltime)
	infoLog  = log.New(os.Stdout, "INFO: ", log.Ldate|log.Ltime)
	warnLog  = log.New(os.Stdout, "WARNING: ", log.Ldate|log.Ltime)
	errorLog = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime)

	rollbarEnabled bool
	rotator        *lumberjack.Logger
)

// Init wires the loggers to stdout plus a rotating file and enables Rollbar reporting.
func Init(cfg config.LogConfig, env string) error {
	mu.Lock()
	defer mu.Unlock()

	minLevel = ParseLevel(cfg.Level)

	out := io.Writer(os.Stdout)
	errOut := io.Writer(os.Stderr)
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return fmt.Errorf("logger: create log directory: %w", err)
		}
		rotator = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		errOut = io.MultiWriter(os.Stderr, rotator)
	}

	debugLog = log.New(out, "DEBUG: ", log.Ldate|log.Ltime)
	infoLog = log.New(out, "INFO: ", log.Ldate|log.Ltime)
	warnLog = log.New(out, "WARNING: ", log.Ldate|log.Ltime)
	errorLog = log.New(errOut, "ERROR: ", log.Ldate|log.Ltime)

	// Route stray log.Printf calls through the same sink
	log.SetOutput(out)

	if cfg.RollbarToken != "" {
		rollbar.SetToken(cfg.RollbarToken)
		rollbar.SetEnvironment(strings.ToLower(env))
		rollbar.SetServerRoot("gradeflow")
		rollbarEnabled = true
	}
	return nil
}

// Close flushes pending Rollbar items and closes the rotating file.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if rollbarEnabled {
		rollbar.Wait()
	}
	if rotator != nil {
		rotator.Close()
	}
}

// ParseLevel maps a config string to a Level, defaulting to info
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// sink returns the logger for l, or nil when l is below the configured level.
// Init swaps the loggers, so they are only read under mu.
func sink(l Level) *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if l < minLevel {
		return nil
	}
	switch l {
	case LevelDebug:
		return debugLog
	case LevelInfo:
		return infoLog
	case LevelWarn:
		return warnLog
	default:
		return errorLog
	}
}

func reportsToRollbar() bool {
	mu.RLock()
	defer mu.RUnlock()
	return rollbarEnabled
}

func Debugf(format string, v ...interface{}) {
	if l := sink(LevelDebug); l != nil {
		l.Output(2, fmt.Sprintf(format, v...))
	}
}

func Infof(format string, v ...interface{}) {
	if l := sink(LevelInfo); l != nil {
		l.Output(2, fmt.Sprintf(format, v...))
	}
}

func Warnf(format string, v ...interface{}) {
	if l := sink(LevelWarn); l != nil {
		l.Output(2, fmt.Sprintf(format, v...))
	}
}

// Errorf logs and, when configured, reports the message to Rollbar.
// Errors are never filtered by level.
func Errorf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	errSink().Output(2, msg)
	if reportsToRollbar() {
		rollbar.Error(msg)
	}
}

func Fatalf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	errSink().Output(2, msg)
	if reportsToRollbar() {
		rollbar.Critical(msg)
		rollbar.Wait()
	}
	os.Exit(1)
}

func errSink() *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return errorLog
}
