package logger

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerConfig struct {
	// Level is one of zap's level names: debug, info, warn, error.
	Level string
	// Format is "console" or "json".
	Format        string
	RunID         string
	InitialFields []zap.Field

	// Output defaults to stderr; stdout carries the report.
	Output io.Writer
}

func NewLogger(cfg LoggerConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("error parsing log level: %w", err)
	}

	var enc zapcore.Encoder
	switch cfg.Format {
	case "", "console":
		ec := GetEncoderConfig(zapcore.DefaultLineEnding)
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		enc = zapcore.NewConsoleEncoder(ec)
	case "json":
		enc = zapcore.NewJSONEncoder(GetEncoderConfig(zapcore.DefaultLineEnding))
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(out)), zap.NewAtomicLevelAt(level))
	fields := []zap.Field{zap.Int("pid", os.Getpid())}
	if cfg.RunID != "" {
		fields = append(fields, zap.String("run_id", cfg.RunID))
	}

	return zap.New(core,
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
		zap.Fields(fields...),
		zap.Fields(cfg.InitialFields...),
	), nil
}

func GetEncoderConfig(lineEnding string) zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:       "timestamp",
		MessageKey:    "message",
		LevelKey:      "level",
		EncodeLevel:   zapcore.LowercaseLevelEncoder,
		NameKey:       "logger",
		StacktraceKey: "stacktrace",
		EncodeTime:    zapcore.RFC3339TimeEncoder,
		LineEnding:    lineEnding,
	}
}
