// Package logger owns the process-wide zap logger.
//
// Components accept an injected *zap.SugaredLogger and fall back to
// Logger when none is given, so tests can pass zaptest loggers while the
// binary configures a single instance at startup.
package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global logger instance
	Logger *zap.SugaredLogger
	// JSONOutput reports whether Initialize selected the JSON encoder.
	JSONOutput bool
)

func init() {
	// Safe no-op logger until Initialize is called
	Logger = zap.NewNop().Sugar()
}

// Options configure Initialize.
type Options struct {
	JSON    bool
	Verbose bool
	// Output defaults to stderr; stdout belongs to command results.
	Output io.Writer
}

// Initialize sets up the global logger.
func Initialize(opts Options) error {
	JSONOutput = opts.JSON

	l, err := New(opts)
	if err != nil {
		return err
	}
	Logger = l
	return nil
}

// New builds a logger without touching the global.
func New(opts Options) (*zap.SugaredLogger, error) {
	level := zap.InfoLevel
	if opts.Verbose {
		level = zap.DebugLevel
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	if opts.JSON {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(level)
		if opts.Output == nil {
			config.OutputPaths = []string{"stderr"}
			l, err := config.Build()
			if err != nil {
				return nil, err
			}
			return l.Sugar(), nil
		}
		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(config.EncoderConfig),
			zapcore.AddSync(out),
			level,
		)
		return zap.New(core).Sugar(), nil
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleEncoderConfig()),
		zapcore.AddSync(out),
		level,
	)
	return zap.New(core).Sugar(), nil
}

// Named returns a child of the global logger, or of base when non-nil.
func Named(base *zap.SugaredLogger, name string) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	return base.Named(name)
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeCaller = nil
	cfg.CallerKey = ""
	return cfg
}
