// Package logger provides logging utilities for the application.
package logger

import (
	"log"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger is the global logger instance, lazily initialized with a default Info-level logger.
var (
	logger     *zap.Logger
	loggerOnce sync.Once
	logFile    *os.File
)

// initDefaultLogger initializes a default Info-level logger if none has been set.
func initDefaultLogger() {
	loggerOnce.Do(func() {
		if logger == nil {
			cfg := zap.NewProductionConfig()
			cfg.Level.SetLevel(zapcore.InfoLevel)
			var err error
			logger, err = cfg.Build()
			if err != nil {
				// Fallback to nop logger if we can't create default
				logger = zap.NewNop()
			}
		}
	})
}

// Get returns the logger instance. If InitLogger hasn't been called, returns a default Info-level logger.
func Get() *zap.Logger {
	initDefaultLogger()
	return logger
}

// Named returns a named logger with level filtering based on hierarchical configuration.
// If Init hasn't been called, returns a named default logger.
func Named(name string) *zap.Logger {
	baseLogger := Get()
	namedLogger := baseLogger.Named(name)

	level := GetLevelForName(name)

	return namedLogger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &levelFilterCore{
			Core:  core,
			level: level,
		}
	}))
}

// Environment represents the application environment type.
type Environment string

const (
	// EnvironmentDevelopment represents the development environment.
	EnvironmentDevelopment Environment = "development"
	// EnvironmentProduction represents the production environment.
	EnvironmentProduction Environment = "production"
)

// LogLevel represents the logging level type.
type LogLevel string

const (
	// LogLevelDebug represents the debug logging level.
	LogLevelDebug LogLevel = "debug"
	// Info represents the info logging level.
	Info LogLevel = "info"
	// Warn represents the warn logging level.
	Warn LogLevel = "warn"
	// Error represents the error logging level.
	Error LogLevel = "error"
)

// isoTimeEncoder writes the ISO-8601 timestamp the persisted log file's
// lines must be prefixed with (spec.md §6).
func isoTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format(time.RFC3339))
}

// InitLogger initializes the global logger with the specified environment, log level, and
// hierarchical level configuration. The levels parameter is a map of logger names to their
// log levels (e.g., "scheduler.sync" -> "debug"). logFilePath, if non-empty, is truncated and
// opened as the single run log file required by spec.md §6; every run overwrites it.
func InitLogger(environment Environment, logLevel LogLevel, levels map[string]string, logFilePath string) {
	var cfg zap.Config

	if environment == EnvironmentDevelopment {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	zapLevel := getZapLevel(string(logLevel))
	cfg.Level.SetLevel(zapLevel)
	cfg.EncoderConfig.EncodeTime = isoTimeEncoder

	cores := []zapcore.Core{}

	consoleEncoder := zapcore.NewConsoleEncoder(cfg.EncoderConfig)
	cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), zapLevel))

	if logFilePath != "" {
		f, err := os.Create(logFilePath)
		if err != nil {
			log.Printf("failed to open log file %s: %v", logFilePath, err)
		} else {
			logFile = f
			fileEncoder := zapcore.NewConsoleEncoder(cfg.EncoderConfig)
			cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(f), zapLevel))
		}
	}

	logger = zap.New(zapcore.NewTee(cores...))

	InitLevelConfig(levels, zapLevel)

	zap.RedirectStdLog(logger)
}

// Sync flushes any buffered log entries and closes the run's log file, if any.
// Call it once on process exit.
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
	if logFile != nil {
		_ = logFile.Close()
	}
}

func getZapLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
