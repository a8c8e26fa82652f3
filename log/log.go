package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// The log levels accepted by Init.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

var (
	// log is the default logger. Until Init is called it writes to stderr at
	// info level, so packages that log from init funcs do not lose lines.
	log = zerolog.New(zerolog.ConsoleWriter{
		Out: os.Stderr, TimeFormat: time.RFC3339Nano,
	}).With().Timestamp().Logger()

	// panicOnInvalidChars triggers a panic when a formatted log line contains
	// invalid UTF-8, which usually means a []byte was printed raw. Useful to
	// weed out formatting bugs in tests.
	panicOnInvalidChars = os.Getenv("LOG_PANIC_ON_INVALIDCHARS") == "true"
)

const logTestWriterName = "logtest"

// logTestWriter is the writer used when Init is given the output "logtest".
// Benchmarks swap it for io.Discard to avoid growing a buffer.
var logTestWriter io.Writer = io.Discard

// Logger returns the default logger.
func Logger() *zerolog.Logger { return &log }

// Init initializes the logger. Output can be "stdout", "stderr" or a file
// path. Level is one of "debug", "info", "warn" or "error". If errWriter is
// not nil, a copy of every error or fatal line is also written to it.
func Init(level, output string, errWriter io.Writer) {
	var out io.Writer
	switch output {
	case "stdout":
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339Nano}
	case "stderr":
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339Nano}
	case logTestWriterName:
		out = logTestWriter
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			panic(fmt.Sprintf("cannot open log output %q: %v", output, err))
		}
		out = f
	}
	if errWriter != nil {
		out = zerolog.MultiLevelWriter(out, errLevelWriter{errWriter})
	}
	log = zerolog.New(out).With().Timestamp().Logger()
	switch level {
	case LogLevelDebug:
		log = log.Level(zerolog.DebugLevel)
	case LogLevelInfo:
		log = log.Level(zerolog.InfoLevel)
	case LogLevelWarn:
		log = log.Level(zerolog.WarnLevel)
	case LogLevelError:
		log = log.Level(zerolog.ErrorLevel)
	default:
		panic(fmt.Sprintf("invalid log level %q", level))
	}
	log.Info().Msgf("logger started at level %s with output %s", level, output)
}

// Level returns the current log level as the string Init accepts.
func Level() string {
	switch log.GetLevel() {
	case zerolog.DebugLevel:
		return LogLevelDebug
	case zerolog.InfoLevel:
		return LogLevelInfo
	case zerolog.WarnLevel:
		return LogLevelWarn
	case zerolog.ErrorLevel:
		return LogLevelError
	default:
		return ""
	}
}

// errLevelWriter forwards only error and fatal lines to the wrapped writer.
type errLevelWriter struct {
	w io.Writer
}

func (w errLevelWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

func (w errLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level >= zerolog.ErrorLevel && level < zerolog.NoLevel {
		return w.w.Write(p)
	}
	return len(p), nil
}

func checkInvalidChars(msg string) {
	if panicOnInvalidChars && strings.ContainsRune(msg, utf8.RuneError) {
		panic(fmt.Sprintf("log line with invalid chars: %q", msg))
	}
}

func withFields(e *zerolog.Event, keyvalues []any) *zerolog.Event {
	for i := 0; i+1 < len(keyvalues); i += 2 {
		key, ok := keyvalues[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keyvalues[i])
		}
		e = e.Interface(key, keyvalues[i+1])
	}
	return e
}

// Debug sends a debug level log line.
func Debug(args ...any) {
	if log.GetLevel() > zerolog.DebugLevel {
		return
	}
	msg := fmt.Sprint(args...)
	checkInvalidChars(msg)
	log.Debug().Msg(msg)
}

// Debugf sends a formatted debug level log line.
func Debugf(template string, args ...any) {
	if log.GetLevel() > zerolog.DebugLevel {
		return
	}
	msg := fmt.Sprintf(template, args...)
	checkInvalidChars(msg)
	log.Debug().Msg(msg)
}

// Debugw sends a debug level log line with key-value fields.
func Debugw(msg string, keyvalues ...any) {
	if log.GetLevel() > zerolog.DebugLevel {
		return
	}
	checkInvalidChars(msg)
	withFields(log.Debug(), keyvalues).Msg(msg)
}

// Info sends an info level log line.
func Info(args ...any) {
	msg := fmt.Sprint(args...)
	checkInvalidChars(msg)
	log.Info().Msg(msg)
}

// Infof sends a formatted info level log line.
func Infof(template string, args ...any) {
	msg := fmt.Sprintf(template, args...)
	checkInvalidChars(msg)
	log.Info().Msg(msg)
}

// Infow sends an info level log line with key-value fields.
func Infow(msg string, keyvalues ...any) {
	checkInvalidChars(msg)
	withFields(log.Info(), keyvalues).Msg(msg)
}

// Warn sends a warn level log line.
func Warn(args ...any) {
	msg := fmt.Sprint(args...)
	checkInvalidChars(msg)
	log.Warn().Msg(msg)
}

// Warnf sends a formatted warn level log line.
func Warnf(template string, args ...any) {
	msg := fmt.Sprintf(template, args...)
	checkInvalidChars(msg)
	log.Warn().Msg(msg)
}

// Warnw sends a warn level log line with key-value fields.
func Warnw(msg string, keyvalues ...any) {
	checkInvalidChars(msg)
	withFields(log.Warn(), keyvalues).Msg(msg)
}

// Error sends an error level log line.
func Error(args ...any) {
	msg := fmt.Sprint(args...)
	checkInvalidChars(msg)
	log.Error().Msg(msg)
}

// Errorf sends a formatted error level log line.
func Errorf(template string, args ...any) {
	msg := fmt.Sprintf(template, args...)
	checkInvalidChars(msg)
	log.Error().Msg(msg)
}

// Errorw sends an error level log line wrapping an error.
func Errorw(err error, msg string) {
	if msg == "" && err != nil {
		msg = err.Error()
	}
	checkInvalidChars(msg)
	log.Error().Err(err).Msg(msg)
}

// Fatal sends a fatal level log line and exits the process.
func Fatal(args ...any) {
	msg := fmt.Sprint(args...)
	checkInvalidChars(msg)
	log.Fatal().Msg(msg)
}

// Fatalf sends a formatted fatal level log line and exits the process.
func Fatalf(template string, args ...any) {
	msg := fmt.Sprintf(template, args...)
	checkInvalidChars(msg)
	log.Fatal().Msg(msg)
}
