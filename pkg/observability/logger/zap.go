package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel is the minimum severity written by a ZapLogger.
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// LogFormat selects the encoder: JSON lines or console text.
type LogFormat string

const (
	JSONFormat LogFormat = "json"
	TextFormat LogFormat = "text"
)

// Accepted spellings, aliases included.
var (
	levelNames = map[string]LogLevel{
		"debug":   DebugLevel,
		"info":    InfoLevel,
		"warn":    WarnLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
	}
	formatNames = map[string]LogFormat{
		"json":    JSONFormat,
		"text":    TextFormat,
		"console": TextFormat,
	}
	zapLevels = map[LogLevel]zapcore.Level{
		DebugLevel: zapcore.DebugLevel,
		InfoLevel:  zapcore.InfoLevel,
		WarnLevel:  zapcore.WarnLevel,
		ErrorLevel: zapcore.ErrorLevel,
	}
)

// ParseLogLevel accepts debug, info, warn (or warning) and error, in any case.
func ParseLogLevel(s string) (LogLevel, error) {
	if level, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return level, nil
	}
	return "", fmt.Errorf("invalid log level %q", s)
}

// ParseLogFormat accepts json, text and its alias console.
func ParseLogFormat(s string) (LogFormat, error) {
	if format, ok := formatNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return format, nil
	}
	return "", fmt.Errorf("invalid log format %q", s)
}

// Config holds configuration for the logger. Empty Level and Format mean
// info and json; a nil Output means stdout.
type Config struct {
	Level  LogLevel
	Format LogFormat
	Output io.Writer
}

// ZapLogger is the Logger used by every repokit component.
type ZapLogger struct {
	base  *zap.Logger
	sugar *zap.SugaredLogger
}

// NewZapLogger builds a logger from cfg.
//
// Cosa fa: traduce livello e formato in un core zap con chiavi stabili
// (timestamp, level, message, caller).
// Cosa NON fa: non ruota file né campiona; Output riceve ogni riga così com'è.
func NewZapLogger(cfg Config) (*ZapLogger, error) {
	level, err := resolveLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.SecondsDurationEncoder

	encoder := zapcore.NewJSONEncoder(enc)
	if cfg.Format != "" {
		format, err := ParseLogFormat(string(cfg.Format))
		if err != nil {
			return nil, err
		}
		if format == TextFormat {
			encoder = zapcore.NewConsoleEncoder(enc)
		}
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	base := zap.New(zapcore.NewCore(encoder, zapcore.AddSync(out), level), zap.AddCaller(), zap.AddCallerSkip(1))
	return &ZapLogger{base: base, sugar: base.Sugar()}, nil
}

func resolveLevel(l LogLevel) (zapcore.Level, error) {
	if l == "" {
		return zapcore.InfoLevel, nil
	}
	parsed, err := ParseLogLevel(string(l))
	if err != nil {
		return zapcore.InfoLevel, err
	}
	return zapLevels[parsed], nil
}

// NewNop returns a logger that discards everything.
func NewNop() *ZapLogger {
	base := zap.NewNop()
	return &ZapLogger{base: base, sugar: base.Sugar()}
}

func (l *ZapLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *ZapLogger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *ZapLogger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *ZapLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

// With returns a child logger carrying the given key-value pairs.
func (l *ZapLogger) With(args ...any) Logger {
	return &ZapLogger{base: l.base, sugar: l.sugar.With(args...)}
}

// WithContext adds the correlation ID found in ctx, if any.
func (l *ZapLogger) WithContext(ctx context.Context) Logger {
	if id := CorrelationID(ctx); id != "" {
		return l.With("correlation_id", id)
	}
	return l
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.base.Sync()
}
