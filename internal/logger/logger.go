package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with a key/value call style.
type Logger struct {
	*zap.Logger
}

// Config selects level, encoding and destination.
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
	Output string `yaml:"output"` // "stderr" (default), "stdout" or a file path
}

// New builds a logger from cfg. Unknown levels fall back to info.
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	var ec zapcore.EncoderConfig
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
		ec = zap.NewProductionEncoderConfig()
		zc.Encoding = "json"
	} else {
		zc = zap.NewDevelopmentConfig()
		ec = zap.NewDevelopmentEncoderConfig()
		zc.Encoding = "console"
	}
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.LowercaseLevelEncoder
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	zc.EncoderConfig = ec
	zc.Level = zap.NewAtomicLevelAt(level)

	// stdout carries command output (tables, JSON), so logs default to stderr.
	out := cfg.Output
	if out == "" {
		out = "stderr"
	}
	zc.OutputPaths = []string{out}
	zc.ErrorOutputPaths = []string{out}

	zl, err := zc.Build(zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, err
	}
	return &Logger{zl}, nil
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() *Logger {
	return &Logger{zap.NewNop()}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{l.Logger.With(fields(kv...)...)}
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.Logger.Debug(msg, fields(kv...)...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.Logger.Info(msg, fields(kv...)...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.Logger.Warn(msg, fields(kv...)...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.Logger.Error(msg, fields(kv...)...) }

// fields converts alternating key/value pairs to zap fields. Non-string keys
// and a trailing odd value are dropped.
func fields(kv ...interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if err, isErr := kv[i+1].(error); isErr {
			out = append(out, zap.NamedError(key, err))
			continue
		}
		out = append(out, zap.Any(key, kv[i+1]))
	}
	return out
}
