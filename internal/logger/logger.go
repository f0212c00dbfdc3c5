package logger

import (
	"fmt"
	"io"
	stdlog "log"
	"strings"
	"sync/atomic"
	"time"

	"lanmedia/internal/logbuf"
)

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps DEBUG/INFO/WARN/ERROR (any case) to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO", "":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger writes "[ts] [LEVEL] msg" lines to an output and mirrors every line
// at or above its level into a logbuf.Buffer for observers.
type Logger struct {
	level atomic.Int32
	out   *stdlog.Logger
	buf   *logbuf.Buffer
}

// New returns a Logger writing to w. buf may be nil.
func New(w io.Writer, level Level, buf *logbuf.Buffer) *Logger {
	l := &Logger{
		out: stdlog.New(w, "", 0),
		buf: buf,
	}
	l.level.Store(int32(level))
	return l
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, LevelError+1, nil)
}

func (l *Logger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

func (l *Logger) Level() Level {
	return Level(l.level.Load())
}

func (l *Logger) log(level Level, format string, v ...any) {
	if level < l.Level() {
		return
	}

	now := time.Now()
	message := fmt.Sprintf(format, v...)
	prefix := fmt.Sprintf("[%s] [%s] ", now.Format("2006-01-02 15:04:05"), level.String())
	l.out.Println(prefix + message)

	if l.buf != nil {
		l.buf.Append(logbuf.Entry{Time: now, Level: level.String(), Message: message})
	}
}

func (l *Logger) Debug(format string, v ...any) {
	l.log(LevelDebug, format, v...)
}

func (l *Logger) Info(format string, v ...any) {
	l.log(LevelInfo, format, v...)
}

func (l *Logger) Warn(format string, v ...any) {
	l.log(LevelWarn, format, v...)
}

func (l *Logger) Error(format string, v ...any) {
	l.log(LevelError, format, v...)
}
