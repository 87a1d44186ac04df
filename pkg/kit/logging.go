package kit

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogOptions struct {
	// Mode is "production" (JSON) or anything else for the development console encoder.
	Mode  string
	Level string

	// File enables a rotating JSON log file next to stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func NewLogger(service string, opts LogOptions) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	if opts.Mode == "production" {
		cfg = zap.NewProductionConfig()
	}
	if opts.Level != "" {
		if lvl, err := zap.ParseAtomicLevel(opts.Level); err == nil {
			cfg.Level = lvl
		}
	}
	cfg.InitialFields = map[string]any{"service": service}

	if opts.File == "" {
		l, err := cfg.Build()
		if err != nil {
			return zap.NewNop()
		}
		return l
	}

	rotating := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}

	stdout := zapcore.NewConsoleEncoder(cfg.EncoderConfig)
	if cfg.Encoding == "json" {
		stdout = zapcore.NewJSONEncoder(cfg.EncoderConfig)
	}

	core := zapcore.NewTee(
		zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(rotating),
			cfg.Level,
		),
		zapcore.NewCore(
			stdout,
			zapcore.AddSync(os.Stdout),
			cfg.Level,
		),
	)
	return zap.New(core, zap.AddCaller()).With(zap.String("service", service))
}
