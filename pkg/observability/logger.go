// Package observability sets up process-wide logging for whisper binaries.
//
// Every package logs through zap's globals, so library code never threads a
// logger through constructors. SetupLogger is called once at startup and
// installs the configured logger via zap.ReplaceGlobals.
package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/damianfilipek81/whisper/pkg/config"
)

// Rotation values applied when a file output has rotation enabled but the
// config leaves a knob at zero. They match config.Default.
const (
	rotateSizeMB  = 50
	rotateBackups = 3
	rotateAgeDays = 28
)

// SetupLogger builds the logger described by c, installs it as the zap
// global, and points the stdlib log package at it. The caller owns the final
// Sync.
func SetupLogger(c config.LogConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(parseLevel(c.Level))
	encoder := newEncoder(c)

	outputs := c.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	var cores []zapcore.Core
	for _, out := range outputs {
		sink, err := openSink(out, c.Rotation)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(encoder, sink, level))
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)}
	if c.Development {
		opts = append(opts, zap.Development())
	}
	logger := zap.New(zapcore.NewTee(cores...), opts...)
	zap.ReplaceGlobals(logger)
	_, _ = zap.RedirectStdLogAt(logger, zap.InfoLevel)
	return logger, nil
}

// parseLevel maps a config string to a zap level. Unknown strings fall back
// to info rather than failing startup.
func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

func newEncoder(c config.LogConfig) zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	if c.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if strings.ToLower(c.Format) == "json" {
		return zapcore.NewJSONEncoder(encCfg)
	}
	return zapcore.NewConsoleEncoder(encCfg)
}

// openSink resolves one configured output. Anything that is not stdout or
// stderr is treated as a file path: rotated through lumberjack when rotation
// is enabled, otherwise opened for append. An unwritable path is a startup
// error, not a silent fallback.
func openSink(out string, r config.RotationConfig) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(out) {
	case "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	}

	path := out
	if r.Enable {
		if f := strings.TrimSpace(r.Filename); f != "" {
			path = f
		}
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    orDefault(r.MaxSizeMB, rotateSizeMB),
			MaxBackups: orDefault(r.MaxBackups, rotateBackups),
			MaxAge:     orDefault(r.MaxAgeDays, rotateAgeDays),
			Compress:   r.Compress,
		}), nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log output %s: %w", path, err)
	}
	return zapcore.AddSync(f), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
