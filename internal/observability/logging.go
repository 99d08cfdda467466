// Package observability provides process-wide zap loggers.
//
// Two loggers are exposed: Logger emits structured JSON for the serve path,
// CLILogger emits console-friendly output for interactive commands. Both are
// usable before Init; Init replaces them with level-configured versions.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger used by the server and job pipeline.
var Logger = zap.Must(zap.NewProduction())

// CLILogger is the console logger used by interactive commands.
var CLILogger = zap.Must(zap.NewDevelopment())

// Init reconfigures both loggers at the given level ("debug", "info",
// "warn", "error"). Returns an error for unknown levels.
func Init(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	prodCfg := zap.NewProductionConfig()
	prodCfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := prodCfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	devCfg := zap.NewDevelopmentConfig()
	devCfg.Level = zap.NewAtomicLevelAt(lvl)
	cli, err := devCfg.Build()
	if err != nil {
		return fmt.Errorf("build cli logger: %w", err)
	}

	Logger = logger
	CLILogger = cli
	return nil
}

// Sync flushes buffered log entries. Safe to call at process exit.
func Sync() {
	_ = Logger.Sync()
	_ = CLILogger.Sync()
}
