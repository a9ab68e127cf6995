package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger and redacts sensitive data and inline image
// payloads from every entry before it reaches the console or the log file.
//
// This organism composes:
//   - FileWriter molecule (append-only log file rotated by lumberjack)
//   - MultiCore molecule (tee output to console + file)
//   - SensitiveFilter atom (API key redaction, base64 blob truncation)
//
// Example:
//
//	logger, err := New(Options{Development: true, FilePath: "edit_worker.log"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("worker started", zap.String("mode", "queue"))
type Logger struct {
	zap *zap.Logger

	logFilePath string
}

// Options configures New. Zero values fall back to defaults.
type Options struct {
	// Development selects colored console output. JSON otherwise.
	Development bool

	// FilePath is the append-only log file. Required.
	FilePath string

	// Level is the minimum level. When nil, debug in development, info otherwise.
	Level *zapcore.Level

	// File controls rotation of FilePath.
	File FileWriterConfig
}

// New builds a Logger that tees to stdout and a rotated log file.
func New(opts Options) (*Logger, error) {
	if strings.TrimSpace(opts.FilePath) == "" {
		return nil, fmt.Errorf("logging: log file path is required")
	}

	level := zapcore.InfoLevel
	if opts.Development {
		level = zapcore.DebugLevel
	}
	if opts.Level != nil {
		level = *opts.Level
	}

	fileCfg := opts.File
	if fileCfg == (FileWriterConfig{}) {
		fileCfg = DefaultFileWriterConfig()
	}

	core := NewMultiCore(level, NewFileWriterWithConfig(opts.FilePath, fileCfg), opts.Development)

	return &Logger{
		zap:         zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)),
		logFilePath: opts.FilePath,
	}, nil
}

// FromZap wraps an existing zap logger. Used by tests with zaptest loggers.
func FromZap(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{zap: z.WithOptions(zap.AddCallerSkip(1))}
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// Sync flushes any buffered log entries.
// Applications should call Sync before exiting to ensure all logs are written.
func (l *Logger) Sync() error {
	if l == nil || l.zap == nil {
		return nil
	}
	return l.zap.Sync()
}

// Debug logs a message at DebugLevel with optional structured fields.
func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.zap.Debug(msg, redactFields(fields)...)
}

// Info logs a message at InfoLevel with optional structured fields.
func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zap.Info(msg, redactFields(fields)...)
}

// Warn logs a message at WarnLevel with optional structured fields.
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.zap.Warn(msg, redactFields(fields)...)
}

// Error logs a message at ErrorLevel with optional structured fields.
//
// Example:
//
//	logger.Error("engine load failed",
//	    zap.Error(err),
//	    zap.String("model_id", "Qwen/Qwen-Image-Edit"))
func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.zap.Error(msg, redactFields(fields)...)
}

// With creates a child logger whose entries all carry fields.
//
// Example:
//
//	reqLogger := logger.With(zap.String("request_id", id))
//	reqLogger.Info("decoding user image")
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{
		zap:         l.zap.With(redactFields(fields)...),
		logFilePath: l.logFilePath,
	}
}

// Named adds a sub-logger name, e.g. "engine" or "metrics".
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		zap:         l.zap.Named(name),
		logFilePath: l.logFilePath,
	}
}

// Zap returns the underlying zap.Logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// LogFilePath returns the path to the log file, or "" for loggers built
// with FromZap or NewNop.
func (l *Logger) LogFilePath() string {
	return l.logFilePath
}

// LevelNames lists every name ParseLevel recognizes.
var LevelNames = []string{"debug", "info", "warn", "warning", "error", "fatal"}

// ParseLevel maps a name from LevelNames, case-insensitive, to a zap level.
// Unknown or empty names yield def.
func ParseLevel(name string, def zapcore.Level) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return def
	}
}

// redactFields filters sensitive data from zap.Field values.
// This is called before every log operation to ensure no sensitive data leaks.
func redactFields(fields []zap.Field) []zap.Field {
	if len(fields) == 0 {
		return fields
	}

	result := make([]zap.Field, len(fields))
	for i, field := range fields {
		result[i] = redactField(field)
	}
	return result
}

func redactField(field zap.Field) zap.Field {
	if IsSensitiveField(field.Key) {
		return zap.String(field.Key, RedactedPlaceholder)
	}

	if field.Type == zapcore.StringType {
		redacted := RedactSensitiveData(field.String)
		if redacted != field.String {
			return zap.String(field.Key, redacted)
		}
	}

	return field
}
