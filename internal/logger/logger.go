package logger

import (
	"os"
	"strings"

	"binance-dca-bot-go/internal/models"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	baseLogger    *zap.Logger
	sugaredLogger *zap.SugaredLogger
)

// Init builds the process logger from config. Console output gets a
// colored human encoder; file output gets JSON through lumberjack
// rotation. Safe to call twice (cmd installs a console default before
// the config file is read, then re-inits).
func Init(cfg models.LogConfig) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	consoleCfg := zap.NewProductionEncoderConfig()
	consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(consoleCfg)

	fileCfg := zap.NewProductionEncoderConfig()
	fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileEncoder := zapcore.NewJSONEncoder(fileCfg)

	var cores []zapcore.Core
	output := strings.ToLower(cfg.Output)
	if output == "file" || output == "both" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(rotated), level))
	}
	if output == "console" || output == "both" || len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level))
	}

	baseLogger = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	sugaredLogger = baseLogger.Sugar()
}

// L returns the structured logger, or a development fallback when Init
// has not run (early startup, tests).
func L() *zap.Logger {
	if baseLogger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return baseLogger
}

// S returns the sugared logger with the same fallback as L.
func S() *zap.SugaredLogger {
	if sugaredLogger == nil {
		return L().Sugar()
	}
	return sugaredLogger
}

// Sync flushes buffered log entries; call on shutdown.
func Sync() {
	if baseLogger != nil {
		_ = baseLogger.Sync()
	}
}
