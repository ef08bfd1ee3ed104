// Package logging builds the zap loggers used by every component.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a logging level name.
type Level string

// Format is an output encoding name.
type Format string

const (
	DebugLevel Level = "DEBUG"
	InfoLevel  Level = "INFO"
	WarnLevel  Level = "WARN"
	ErrorLevel Level = "ERROR"

	// FormatConsole is human-readable console output.
	FormatConsole Format = "CONSOLE"
	// FormatJSON is one JSON object per line.
	FormatJSON Format = "JSON"
)

// Environment variables that override configured values.
const (
	EnvLevel  = "LOGGING_LEVEL"
	EnvFormat = "LOGGING_FORMAT"
)

// ParseLevel converts a level name to a zap level. Unknown names map to INFO.
func ParseLevel(level Level) zapcore.Level {
	switch Level(strings.ToUpper(string(level))) {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ValidLevel reports whether level names a supported level.
func ValidLevel(level string) bool {
	switch Level(strings.ToUpper(level)) {
	case DebugLevel, InfoLevel, WarnLevel, ErrorLevel:
		return true
	}
	return false
}

// ValidFormat reports whether format names a supported encoding.
func ValidFormat(format string) bool {
	switch Format(strings.ToUpper(format)) {
	case FormatConsole, FormatJSON:
		return true
	}
	return false
}

// Resolve applies the LOGGING_LEVEL and LOGGING_FORMAT overrides to the
// configured values. Invalid overrides are ignored.
func Resolve(level, format string) (Level, Format) {
	if v := os.Getenv(EnvLevel); v != "" && ValidLevel(v) {
		level = v
	}
	if v := os.Getenv(EnvFormat); v != "" && ValidFormat(v) {
		format = v
	}
	return Level(strings.ToUpper(level)), Format(strings.ToUpper(format))
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05 MST"))
}

// New builds a logger writing to w. Command output goes to stdout, so the
// CLI passes os.Stderr here.
func New(level Level, format Format, w io.Writer) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if format == FormatConsole {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeTime = timeEncoder
		encoderConfig.ConsoleSeparator = " | "
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), zap.NewAtomicLevelAt(ParseLevel(level)))
	return zap.New(core, zap.AddCaller())
}
