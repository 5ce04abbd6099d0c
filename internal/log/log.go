// Copyright (c) 2022 Netskope, Inc. All rights reserved.

package log

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options describes where and how a run logs.
type Options struct {
	Dir    string
	Name   string
	Debug  bool
	Stdout bool
	// RunID is attached to every entry when set.
	RunID string
}

// NewLogger returns a logger using the Zap structured logger.
// If Stdout is false, a file-based logger is used. Otherwise a console logger is used.
// The returned function flushes the logger and closes the log file.
func NewLogger(opts Options) (*zap.Logger, func(), error) {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.EpochTimeEncoder
	cfg.LevelKey = "lv"
	cfg.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(l.CapitalString()[:2])
	}

	level := zap.InfoLevel
	if opts.Debug {
		level = zap.DebugLevel
		cfg.EncodeCaller = zapcore.ShortCallerEncoder
		cfg.CallerKey = "call"
	}

	var sink zapcore.WriteSyncer
	closeSink := func() {}
	if opts.Stdout {
		sink = zapcore.AddSync(os.Stdout)
	} else {
		logDir := opts.Dir
		if logDir == "" {
			logDir = "/tmp"
		}
		logName := opts.Name
		if logName == "" {
			logName = filepath.Base(os.Args[0])
		}

		file, err := os.OpenFile(filepath.Join(logDir, logName+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, err
		}
		sink = zapcore.AddSync(file)
		closeSink = func() { _ = file.Close() }
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), sink, level)

	zopts := []zap.Option{}
	if opts.Debug {
		zopts = append(zopts, zap.AddCaller())
	}
	if opts.RunID != "" {
		zopts = append(zopts, zap.Fields(zap.String("run_id", opts.RunID)))
	}
	logger := zap.New(core, zopts...)

	return logger, func() {
		_ = logger.Sync()
		closeSink()
	}, nil
}
