package logging

import (
	"os"

	"go.uber.org/zap/zapcore"
)

// NewMultiCore creates a zapcore.Core that tees output to stdout and fileWriter.
//
// The file output always uses JSON encoding so diagnostic records stay
// machine-readable. The console uses the colored console encoder in
// development mode and JSON otherwise.
func NewMultiCore(level zapcore.Level, fileWriter zapcore.WriteSyncer, isDev bool) zapcore.Core {
	return NewMultiCoreWithWriters(level, zapcore.Lock(os.Stdout), fileWriter, isDev)
}

// NewMultiCoreWithWriters creates the tee over explicit writers.
// Useful for testing or special output destinations.
//
// Example:
//
//	var buf bytes.Buffer
//	core := NewMultiCoreWithWriters(zapcore.DebugLevel, os.Stdout, zapcore.AddSync(&buf), true)
//	logger := zap.New(core)
func NewMultiCoreWithWriters(level zapcore.Level, consoleWriter, fileWriter zapcore.WriteSyncer, isDev bool) zapcore.Core {
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(NewEncoderConfig()),
		fileWriter,
		level,
	)

	var consoleEncoder zapcore.Encoder
	if isDev {
		consoleEncoder = zapcore.NewConsoleEncoder(NewConsoleEncoderConfig())
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(NewEncoderConfig())
	}

	consoleCore := zapcore.NewCore(
		consoleEncoder,
		consoleWriter,
		level,
	)

	return zapcore.NewTee(consoleCore, fileCore)
}
