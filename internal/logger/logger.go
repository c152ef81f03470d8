package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is the logging level.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

// Logger wraps a sugared zap logger.
type Logger struct {
	level   Level
	sugar   *zap.SugaredLogger
	enabled bool
}

var globalLogger *Logger

// Init initializes the logger. Log files are rotated by size.
func Init(enabled bool, levelStr, logFile string, console bool) error {
	if !enabled {
		globalLogger = &Logger{enabled: false}
		return nil
	}

	level := parseLevel(levelStr)
	var syncers []zapcore.WriteSyncer

	if logFile != "" {
		dir := filepath.Dir(logFile)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		syncers = append(syncers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
		}))
	}

	if console || len(syncers) == 0 {
		syncers = append(syncers, zapcore.Lock(os.Stdout))
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.NewMultiWriteSyncer(syncers...),
		zapLevel(level),
	)

	globalLogger = &Logger{
		level:   level,
		sugar:   zap.New(core).Sugar(),
		enabled: true,
	}

	return nil
}

// Sync flushes buffered entries.
func Sync() {
	if globalLogger == nil || globalLogger.sugar == nil {
		return
	}
	_ = globalLogger.sugar.Sync()
}

func parseLevel(levelStr string) Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return Debug
	case "info":
		return Info
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case Debug:
		return zapcore.DebugLevel
	case Warn:
		return zapcore.WarnLevel
	case Error:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func active(level Level) bool {
	return globalLogger != nil && globalLogger.enabled && globalLogger.level <= level
}

// Debugf logs a debug message.
func Debugf(format string, args ...interface{}) {
	if !active(Debug) {
		return
	}
	globalLogger.sugar.Debugf(format, args...)
}

// Infof logs an info message.
func Infof(format string, args ...interface{}) {
	if !active(Info) {
		return
	}
	globalLogger.sugar.Infof(format, args...)
}

// Warnf logs a warning.
func Warnf(format string, args ...interface{}) {
	if !active(Warn) {
		return
	}
	globalLogger.sugar.Warnf(format, args...)
}

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) {
	if !active(Error) {
		return
	}
	globalLogger.sugar.Errorf(format, args...)
}
