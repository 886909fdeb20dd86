package logging

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(input string) Level {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zap.DebugLevel
	case LevelWarn:
		return zap.WarnLevel
	case LevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// Options selects the encoder and destination of a Logger built by Build.
type Options struct {
	Level  Level
	Format string // "json" or "console"
	Output string // "stderr", "stdout" or a file path
	Rotate *Rotation
	Stderr io.Writer // used in place of os.Stderr when set
}

// Rotation enables size based rotation for file outputs.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Logger is a leveled structured logger. Children created by With share the
// level of their parent.
type Logger struct {
	level zap.AtomicLevel
	zl    *zap.Logger
}

// New returns a JSON logger writing to output.
func New(level Level, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	atom := zap.NewAtomicLevelAt(level.zapLevel())
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.Lock(zapcore.AddSync(output)), atom)
	return &Logger{level: atom, zl: zap.New(core)}
}

// Build returns a logger configured by opts.
func Build(opts Options) (*Logger, error) {
	ws, err := openOutput(opts)
	if err != nil {
		return nil, err
	}
	var enc zapcore.Encoder
	if strings.EqualFold(opts.Format, "console") {
		enc = zapcore.NewConsoleEncoder(encoderConfig())
	} else {
		enc = zapcore.NewJSONEncoder(encoderConfig())
	}
	atom := zap.NewAtomicLevelAt(opts.Level.zapLevel())
	zl := zap.New(zapcore.NewCore(enc, ws, atom), zap.AddStacktrace(zap.DPanicLevel))
	return &Logger{level: atom, zl: zl}, nil
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{level: zap.NewAtomicLevelAt(zap.FatalLevel), zl: zap.NewNop()}
}

func openOutput(opts Options) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Output)) {
	case "", "stderr":
		if opts.Stderr != nil {
			return zapcore.Lock(zapcore.AddSync(opts.Stderr)), nil
		}
		return zapcore.Lock(os.Stderr), nil
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	}
	if dir := filepath.Dir(opts.Output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if r := opts.Rotate; r != nil {
		return zapcore.Lock(zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.Output,
			MaxSize:    max(r.MaxSizeMB, 1),
			MaxBackups: r.MaxBackups,
			MaxAge:     r.MaxAgeDays,
			Compress:   r.Compress,
		})), nil
	}
	f, err := os.OpenFile(opts.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return zapcore.Lock(f), nil
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.MessageKey = "message"
	cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	return cfg
}

func (l *Logger) With(fields map[string]interface{}) *Logger {
	return &Logger{level: l.level, zl: l.zl.With(zapFields(fields)...)}
}

// zapFields sorts keys so that output is stable.
func zapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

func (l *Logger) Debug(msg string, fields map[string]interface{}) {
	l.zl.Debug(msg, zapFields(fields)...)
}

func (l *Logger) Info(msg string, fields map[string]interface{}) {
	l.zl.Info(msg, zapFields(fields)...)
}

func (l *Logger) Warn(msg string, fields map[string]interface{}) {
	l.zl.Warn(msg, zapFields(fields)...)
}

func (l *Logger) Error(msg string, fields map[string]interface{}) {
	l.zl.Error(msg, zapFields(fields)...)
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return l.level.Enabled(level.zapLevel())
}

// Sync flushes buffered output.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}
