// File: internal/observability/logger.go
package observability

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/irpa-agent/internal/config"
)

// Field keys attached by this package.
const (
	FieldService = "service"
	FieldAgentID = "agent_id"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	globalLogger atomic.Pointer[zap.Logger]
	once         sync.Once
	restoreStd   func()
)

// Initialize sets up the global logger. Console output goes to consoleWriter in
// the configured format; a configured log file additionally receives rotated JSON
// records tagged with the service name. Only the first call has any effect until
// ResetForTest.
func Initialize(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) {
	once.Do(func() {
		level := zap.NewAtomicLevel()
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level.SetLevel(zap.InfoLevel)
		}

		cores := []zapcore.Core{newCore(cfg, consoleWriter, level)}
		if cfg.LogFile != "" {
			cores = append(cores, jsonCore(cfg.ServiceName, rotatingFile(cfg), level))
		}

		options := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
		if cfg.AddSource {
			options = append(options, zap.AddCaller())
		}

		logger := zap.New(zapcore.NewTee(cores...), options...).Named(cfg.ServiceName)
		globalLogger.Store(logger)
		zap.ReplaceGlobals(logger)
		restoreStd = zap.RedirectStdLog(logger)
	})
}

// InitializeLogger initializes the global logger with console output on stdout.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stdout))
}

// ForAgent scopes logger to one agent instance. Every record it writes carries
// the agent's routing identity.
func ForAgent(logger *zap.Logger, identity string) *zap.Logger {
	return logger.Named("agent").With(zap.String(FieldAgentID, identity))
}

// ResetForTest clears the global logger so a test can initialize it again.
func ResetForTest() {
	if restoreStd != nil {
		restoreStd()
		restoreStd = nil
	}
	globalLogger.Store(nil)
	once = sync.Once{}
}

func newCore(cfg config.LoggerConfig, w zapcore.WriteSyncer, level zapcore.LevelEnabler) zapcore.Core {
	if cfg.Format == "console" {
		return zapcore.NewCore(consoleEncoder(newPalette(cfg.Colors)), w, level)
	}
	return jsonCore(cfg.ServiceName, w, level)
}

func jsonCore(service string, w zapcore.WriteSyncer, level zapcore.LevelEnabler) zapcore.Core {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	enc.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), w, level)
	if service == "" {
		return core
	}
	return core.With([]zapcore.Field{zap.String(FieldService, service)})
}

// consoleEncoder writes one line per record. Logger names end with a dot,
// e.g. "irpa-agent.agent.dispatcher.".
func consoleEncoder(p palette) zapcore.Encoder {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	enc.EncodeLevel = p.encodeLevel
	enc.EncodeName = func(name string, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(name + ".")
	}
	return zapcore.NewConsoleEncoder(enc)
}

func rotatingFile(cfg config.LoggerConfig) zapcore.WriteSyncer {
	path, err := homedir.Expand(cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot expand log file path %q: %v\n", cfg.LogFile, err)
		path = cfg.LogFile
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
}

// GetLogger returns the global logger. Before Initialize it returns an
// uncoloured stderr console logger named "fallback" that is not retained.
func GetLogger() *zap.Logger {
	if logger := globalLogger.Load(); logger != nil {
		return logger
	}
	core := newCore(config.LoggerConfig{Format: "console"}, zapcore.Lock(os.Stderr), zap.InfoLevel)
	return zap.New(core).Named("fallback")
}

// Sync flushes any buffered log entries. Call it before exiting.
func Sync() {
	logger := globalLogger.Load()
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil && !unsyncable(err) {
		fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
	}
}

// unsyncable reports errors from fsync on terminals and pipes.
func unsyncable(err error) bool {
	return errors.Is(err, syscall.EINVAL) ||
		errors.Is(err, syscall.ENOTTY) ||
		errors.Is(err, syscall.ENOTSUP) ||
		errors.Is(err, syscall.EBADF)
}
