package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/rs/zerolog"
)

// Level represents the logging level.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

var zerologLevels = map[Level]zerolog.Level{
	DEBUG: zerolog.DebugLevel,
	INFO:  zerolog.InfoLevel,
	WARN:  zerolog.WarnLevel,
	ERROR: zerolog.ErrorLevel,
	FATAL: zerolog.FatalLevel,
}

// String returns the upper-case level name.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// Logger is the main logger instance.
type Logger struct {
	mu          sync.Mutex
	level       Level
	output      io.Writer
	colorEnable bool
	fields      map[string]interface{}
	zl          zerolog.Logger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the default logger with the specified level.
func Init(levelStr string) {
	once.Do(func() {
		defaultLogger = newLogger(parseLevel(levelStr), os.Stderr, true, nil)
	})
}

func newLogger(level Level, output io.Writer, color bool, fields map[string]interface{}) *Logger {
	l := &Logger{
		level:       level,
		output:      output,
		colorEnable: color,
		fields:      fields,
	}
	l.rebuild()
	return l
}

// rebuild recreates the zerolog backend. Callers must hold l.mu or own l exclusively.
func (l *Logger) rebuild() {
	out := l.output
	if out == nil {
		out = io.Discard
	}
	if !l.colorEnable {
		// Bazel is invoked with --color=yes, so forwarded output may carry escapes.
		out = stripWriter{w: out}
	}
	cw := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    !l.colorEnable,
		TimeFormat: time.DateTime,
	}
	ctx := zerolog.New(cw).Level(zerologLevels[l.level]).With().Timestamp()
	if len(l.fields) > 0 {
		ctx = ctx.Fields(l.fields)
	}
	l.zl = ctx.Logger()
}

func getDefault() *Logger {
	if defaultLogger == nil {
		Init("info")
	}
	return defaultLogger
}

// SetLevel sets the logging level for the default logger.
func SetLevel(levelStr string) {
	if defaultLogger == nil {
		Init(levelStr)
	}
	l := getDefault()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = parseLevel(levelStr)
	l.rebuild()
}

// SetOutput sets the output destination for the default logger.
func SetOutput(w io.Writer) {
	l := getDefault()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
	l.rebuild()
}

// SetColorEnable enables or disables color output.
func SetColorEnable(enable bool) {
	l := getDefault()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.colorEnable = enable
	l.rebuild()
}

// GetLevel returns the level of the default logger.
func GetLevel() Level {
	l := getDefault()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// With returns a child of the default logger carrying the given fields.
// Later changes to the default logger's level or output are not inherited.
func With(fields map[string]interface{}) *Logger {
	l := getDefault()
	l.mu.Lock()
	defer l.mu.Unlock()

	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return newLogger(l.level, l.output, l.colorEnable, merged)
}

// parseLevel converts a string to a Level.
func parseLevel(levelStr string) Level {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// log writes a log message if the level is sufficient.
func (l *Logger) log(level Level, format string, args ...interface{}) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	// Fatal goes through WithLevel so the process exit stays below.
	l.zl.WithLevel(zerologLevels[level]).Msgf(format, args...)

	if level == FATAL {
		os.Exit(1)
	}
}

// Debug logs a debug message on l.
func (l *Logger) Debug(format string, args ...interface{}) { l.log(DEBUG, format, args...) }

// Info logs an info message on l.
func (l *Logger) Info(format string, args ...interface{}) { l.log(INFO, format, args...) }

// Warn logs a warning message on l.
func (l *Logger) Warn(format string, args ...interface{}) { l.log(WARN, format, args...) }

// Error logs an error message on l.
func (l *Logger) Error(format string, args ...interface{}) { l.log(ERROR, format, args...) }

// Debug logs a debug message.
func Debug(format string, args ...interface{}) {
	getDefault().log(DEBUG, format, args...)
}

// Debugf is an alias for Debug.
func Debugf(format string, args ...interface{}) {
	Debug(format, args...)
}

// Info logs an info message.
func Info(format string, args ...interface{}) {
	getDefault().log(INFO, format, args...)
}

// Infof is an alias for Info.
func Infof(format string, args ...interface{}) {
	Info(format, args...)
}

// Warn logs a warning message.
func Warn(format string, args ...interface{}) {
	getDefault().log(WARN, format, args...)
}

// Warnf is an alias for Warn.
func Warnf(format string, args ...interface{}) {
	Warn(format, args...)
}

// Error logs an error message.
func Error(format string, args ...interface{}) {
	getDefault().log(ERROR, format, args...)
}

// Errorf is an alias for Error.
func Errorf(format string, args ...interface{}) {
	Error(format, args...)
}

// Fatal logs a fatal message and exits the program.
func Fatal(format string, args ...interface{}) {
	getDefault().log(FATAL, format, args...)
}

// Fatalf is an alias for Fatal.
func Fatalf(format string, args ...interface{}) {
	Fatal(format, args...)
}

type stripWriter struct {
	w io.Writer
}

func (s stripWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(s.w, stripansi.Strip(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
