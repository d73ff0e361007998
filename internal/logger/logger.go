// Package logger provides the application's zap-based structured logger.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Log is the root logger. It is a no-op logger until Init is called so that
	// packages can log safely from tests.
	Log = &Logger{SugaredLogger: zap.NewNop().Sugar(), Name: "main"}

	hookMu  sync.RWMutex
	logHook Hook
)

// Logger wraps a sugared zap logger with its name.
type Logger struct {
	*zap.SugaredLogger
	Name string
}

// Entry is the part of a log entry passed to hooks.
type Entry struct {
	Timestamp  time.Time
	Caller     string
	LoggerName string
	Level      zapcore.Level
	Message    string
}

// Hook is called for each log entry written by the root logger and its children.
type Hook func(entry Entry)

// Config represents configuration options for logger initialization.
type Config struct {
	Debug     bool   // Enable debug logging
	LogToFile bool   // Also write JSON logs to a file
	LogsDir   string // Directory for log files (default: working directory)
}

// SetHook installs a hook that receives every log entry.
func SetHook(hook Hook) {
	hookMu.Lock()
	logHook = hook
	hookMu.Unlock()
}

// Init initializes the root logger.
func Init(config Config) error {
	level := zapcore.InfoLevel
	if config.Debug {
		level = zapcore.DebugLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		TimeKey:        "timestamp",
		NameKey:        "logger",
		CallerKey:      "caller",
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stdout), level),
	}

	if config.LogToFile {
		dir := config.LogsDir
		if dir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			dir = wd
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating logs directory: %w", err)
		}

		path := filepath.Join(dir, fmt.Sprintf("%s.log", time.Now().Format("2006-01-02")))
		file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}

		fileEncoderConfig := encoderConfig
		fileEncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		fileEncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig), zapcore.AddSync(file), level))
	}

	log := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.Hooks(func(entry zapcore.Entry) error {
		hookMu.RLock()
		hook := logHook
		hookMu.RUnlock()
		if hook != nil {
			hook(Entry{
				Timestamp:  entry.Time,
				Caller:     entry.Caller.String(),
				LoggerName: entry.LoggerName,
				Level:      entry.Level,
				Message:    entry.Message,
			})
		}
		return nil
	}))

	Log = &Logger{SugaredLogger: log.Named("main").Sugar(), Name: "main"}
	return nil
}

// Named returns a child of the root logger ("api", "processor", etc.).
func Named(name string) *Logger {
	return &Logger{
		SugaredLogger: Log.SugaredLogger.Named(name),
		Name:          name,
	}
}

// Sync flushes buffered entries.
func Sync() {
	_ = Log.Sync()
}
