package debug

import (
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atsn/emily/internal/file"
)

// Opts for the debug logger.
type Opts struct {
	Level string
	// File receives the logs. The terminal is kept free for the dashboard.
	File string
}

var (
	once   sync.Once
	opts   = Opts{Level: "info", File: "/tmp/emily-debug.log"}
	logger *zap.Logger
)

// Configure sets the options used by GetLogger. It has no effect once the logger is built.
func Configure(o Opts) {
	if o.Level != "" {
		opts.Level = o.Level
	}
	if o.File != "" {
		opts.File = o.File
	}
}

// GetLogger returns a singleton zap logger writing to the debug file.
// It falls back to a no-op logger if the file cannot be opened.
func GetLogger() *zap.Logger {
	once.Do(func() {
		l, err := newLogger(opts)
		if err != nil {
			logger = zap.NewNop()
			return
		}
		logger = l
	})
	return logger
}

func newLogger(o Opts) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(o.Level)
	if err != nil {
		return nil, err
	}
	if err := file.CreateDirectoryIfNotExist(filepath.Dir(o.File)); err != nil {
		return nil, err
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{o.File}
	config.ErrorOutputPaths = []string{o.File}
	return config.Build(zap.AddCaller())
}
