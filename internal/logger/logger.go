package logger

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"
)

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var currentLevel atomic.Int32

func init() {
	currentLevel.Store(int32(LevelInfo))
}

// String returns the lower-case level name used by LOG_LEVEL
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

func SetFlags(flags int) {
	log.SetFlags(flags)
}

// ParseLevel maps a LOG_LEVEL value to a Level, defaulting to info
func ParseLevel(level string) Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func SetLevelFromString(level string) {
	SetLevel(ParseLevel(level))
}

func SetLevel(level Level) {
	currentLevel.Store(int32(level))
}

func CurrentLevel() Level {
	return Level(currentLevel.Load())
}

func EnabledDebug() bool {
	return enabled(LevelDebug)
}

func Debugf(format string, args ...any) {
	output(LevelDebug, "", format, args...)
}

func Infof(format string, args ...any) {
	output(LevelInfo, "", format, args...)
}

func Warnf(format string, args ...any) {
	output(LevelWarn, "", format, args...)
}

func Errorf(format string, args ...any) {
	output(LevelError, "", format, args...)
}

func Fatalf(format string, args ...any) {
	log.Fatalf("[FATAL] "+format, args...)
}

// Logger prefixes every message with a component tag, e.g. "[S3 Storage]".
type Logger struct {
	prefix string
}

// New returns a Logger for the named component
func New(component string) *Logger {
	return &Logger{prefix: "[" + component + "] "}
}

func (l *Logger) Debugf(format string, args ...any) {
	output(LevelDebug, l.prefix, format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	output(LevelInfo, l.prefix, format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	output(LevelWarn, l.prefix, format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	output(LevelError, l.prefix, format, args...)
}

func (l *Logger) Fatalf(format string, args ...any) {
	log.Fatalf("[FATAL] "+l.prefix+format, args...)
}

func output(level Level, prefix, format string, args ...any) {
	if !enabled(level) {
		return
	}
	// calldepth 3 reports the caller of Debugf/Infof/... rather than this helper
	_ = log.Output(3, "["+strings.ToUpper(level.String())+"] "+prefix+fmt.Sprintf(format, args...))
}

func enabled(level Level) bool {
	return level >= Level(currentLevel.Load())
}
