package logx

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Logger writes structured events. A Logger bound to a Service follows every
// Service.Apply; a standalone one keeps its own zerolog logger. The zero value
// discards everything.
type Logger struct {
	svc   *Service
	own   *zerolog.Logger
	fixed []Field
}

// Nop returns a logger that never writes anything.
func Nop() Logger {
	zl := zerolog.Nop()
	return Logger{own: &zl}
}

// NewConsole returns a standalone console logger for CLI subcommands.
func NewConsole(level string) Logger {
	setGlobals()
	return standalone(consoleWriter(Stdout()), parseLevel(level, zerolog.InfoLevel))
}

// NewWriter returns a standalone JSON logger on w. Debug is the default level.
func NewWriter(w io.Writer, level string) Logger {
	return standalone(w, parseLevel(level, zerolog.DebugLevel))
}

func standalone(w io.Writer, lvl zerolog.Level) Logger {
	zl := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return Logger{own: &zl}
}

func (l Logger) IsZero() bool { return l.svc == nil && l.own == nil && len(l.fixed) == 0 }

func (l Logger) target() zerolog.Logger {
	switch {
	case l.svc != nil:
		return l.svc.current()
	case l.own != nil:
		return *l.own
	default:
		return zerolog.Nop()
	}
}

// Enabled reports whether an event at level would be written.
func (l Logger) Enabled(level Level) bool { return level >= l.target().GetLevel() }

// With returns a copy that adds fields to every event.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) > 0 {
		l.fixed = append(l.fixed[:len(l.fixed):len(l.fixed)], fields...)
	}
	return l
}

func (l Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l Logger) emit(level zerolog.Level, msg string, fields []Field) {
	zl := l.target()
	ev := zl.WithLevel(level)
	if ev == nil {
		return
	}
	if _, file, line, ok := runtime.Caller(2); ok {
		ev.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	for _, group := range [2][]Field{l.fixed, fields} {
		for _, f := range group {
			if f != nil {
				f(ev)
			}
		}
	}
	ev.Msg(msg)
}

func setGlobals() {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeLayout
}

func consoleWriter(out io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: timeLayout,
		FormatCaller: func(v any) string {
			s, _ := v.(string)
			return s
		},
	}
}

// parseLevel accepts zerolog level names plus "warning"; anything else is def.
func parseLevel(s string, def zerolog.Level) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return def
	}
	return lvl
}

func Stdout() io.Writer { return os.Stdout }

func Stderr() io.Writer { return os.Stderr }
