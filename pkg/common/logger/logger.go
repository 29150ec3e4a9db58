package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Logger is a thin wrapper around the standard logger that provides leveled logging
type Logger struct {
	mu    sync.RWMutex
	out   *log.Logger
	level LogLevel
}

// LogLevel represents the logging level
type LogLevel int

const (
	// DebugLevel logs are typically verbose
	DebugLevel LogLevel = iota
	// InfoLevel is the default logging priority
	InfoLevel
	// WarnLevel logs are warnings
	WarnLevel
	// ErrorLevel logs are high-priority
	ErrorLevel
)

var levelNames = map[LogLevel]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
}

// Global logger instance
var std = &Logger{out: log.New(os.Stdout, "", log.LstdFlags), level: InfoLevel}

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" (any case) to a LogLevel.
// Unknown values fall back to InfoLevel.
func ParseLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Initialize sets up the global logger level based on input string (e.g., "debug", "info", "warn", "error")
func Initialize(level string) {
	lvl := ParseLevel(level)
	std.mu.Lock()
	defer std.mu.Unlock()
	std.level = lvl
	if lvl == DebugLevel {
		std.out.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
		return
	}
	std.out.SetFlags(log.Ldate | log.Ltime)
}

// SetOutput redirects the global logger, mostly for tests.
func SetOutput(w io.Writer) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.out.SetOutput(w)
}

// Enabled reports whether messages at level would be written.
func Enabled(level LogLevel) bool {
	std.mu.RLock()
	defer std.mu.RUnlock()
	return level >= std.level
}

// The level tag is part of the message rather than the log.Logger prefix so that
// concurrent handlers never race on SetPrefix.
func (l *Logger) log(level LogLevel, format string, v ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if level < l.level {
		return
	}
	_ = l.out.Output(3, "["+levelNames[level]+"] "+fmt.Sprintf(format, v...))
}

// Package-level helpers
func Debug(format string, v ...interface{}) { std.log(DebugLevel, format, v...) }
func Info(format string, v ...interface{})  { std.log(InfoLevel, format, v...) }
func Warn(format string, v ...interface{})  { std.log(WarnLevel, format, v...) }
func Error(format string, v ...interface{}) { std.log(ErrorLevel, format, v...) }
