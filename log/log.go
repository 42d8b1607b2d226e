// Package log is leveled logging with key-value fields on top of stdlib logger.
//
// Fields are printed in logfmt style, sorted by key:
//
//	2024/01/02 15:04:05.000000 store.go:154: DEBUG: run=5f1e29d2 scene=2 Add {strip:3 scene:2 frame:7 stage:raw}.
package log

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Logger interface is subset of github.com/uber-common/bark.Logger methods.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	// Panic logs message on error level and panics with it.
	Panic(args ...interface{})
	Panicf(format string, args ...interface{})
	// Enabled reports that messages of level are written.
	// Use it to skip building expensive arguments on hot paths.
	Enabled(level Level) bool
	WithFields(keyValues LogFields) Logger
	Fields() Fields
}

type LogFields interface {
	Fields() map[string]interface{}
}

type Fields map[string]interface{}

func (f Fields) Fields() map[string]interface{} { return f }

// String returns fields in logfmt style sorted by key.
func (f Fields) String() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		v := fmt.Sprint(f[k])
		if v == "" || strings.ContainsAny(v, " =\"") {
			v = strconv.Quote(v)
		}
		b.WriteString(v)
	}
	return b.String()
}

type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
	// disabledLevel is above all levels. Only panics get through.
	disabledLevel
)

var levelNames = [...]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
	FatalLevel: "FATAL",
}

func (l Level) String() string {
	if l < DebugLevel || l > FatalLevel {
		return "LEVEL(" + strconv.Itoa(int(l)) + ")"
	}
	return levelNames[l]
}

// LevelFromString parses level name. Case is ignored.
func LevelFromString(s string) (Level, error) {
	for l, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(l), nil
		}
	}
	return DebugLevel, errors.New("invalid level " + s)
}

const stdLoggerFlags = log.LstdFlags | log.Lmicroseconds | log.Lshortfile

func NewLogger(l Level, w io.Writer) Logger {
	return NewLoggerSink(l, &stdSink{log.New(w, "", stdLoggerFlags)})
}

// NewNop returns logger that writes nothing. It still panics on Panic calls.
func NewNop() Logger {
	return NewLoggerSink(disabledLevel, &stdSink{log.New(ioutil.Discard, "", 0)})
}

func NewLoggerSink(l Level, s Sink) Logger {
	return &logger{
		sink:  s,
		level: l,
	}
}

// Sink writes formed messages.
type Sink interface {
	// Output writes message. callDepth is number of frames above Output to Logger caller.
	Output(callDepth int, level Level, fields Fields, msg string)
}

type stdSink struct {
	std *log.Logger
}

func (s *stdSink) Output(callDepth int, level Level, fields Fields, msg string) {
	line := level.String() + ": "
	if len(fields) > 0 {
		line += fields.String() + " "
	}
	s.std.Output(callDepth+1, line+msg)
}

type logger struct {
	sink   Sink
	level  Level
	fields Fields
}

func (l *logger) Fields() Fields { return l.fields }

func (l *logger) Enabled(level Level) bool { return level >= l.level }

// WithFields returns logger that adds keyValues to own fields. Later values win.
func (l *logger) WithFields(keyValues LogFields) Logger {
	child := *l
	extra := keyValues.Fields()
	child.fields = make(Fields, len(l.fields)+len(extra))
	for k, v := range l.fields {
		child.fields[k] = v
	}
	for k, v := range extra {
		child.fields[k] = v
	}
	return &child
}

func (l *logger) Debug(args ...interface{})                 { l.log(DebugLevel, args...) }
func (l *logger) Debugf(format string, args ...interface{}) { l.logf(DebugLevel, format, args...) }
func (l *logger) Info(args ...interface{})                  { l.log(InfoLevel, args...) }
func (l *logger) Infof(format string, args ...interface{})  { l.logf(InfoLevel, format, args...) }
func (l *logger) Warn(args ...interface{})                  { l.log(WarnLevel, args...) }
func (l *logger) Warnf(format string, args ...interface{})  { l.logf(WarnLevel, format, args...) }
func (l *logger) Error(args ...interface{})                 { l.log(ErrorLevel, args...) }
func (l *logger) Errorf(format string, args ...interface{}) { l.logf(ErrorLevel, format, args...) }

func (l *logger) Panic(args ...interface{}) {
	msg := fmt.Sprint(args...)
	l.output(ErrorLevel, msg)
	panic(msg)
}

func (l *logger) Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.output(ErrorLevel, msg)
	panic(msg)
}

func (l *logger) Fatal(args ...interface{}) {
	l.log(FatalLevel, args...)
	os.Exit(1)
}

func (l *logger) Fatalf(format string, args ...interface{}) {
	l.logf(FatalLevel, format, args...)
	os.Exit(1)
}

// Frames between Sink.Output and Logger method caller: log, logf or output, and Logger method.
const callerDepth = 3

func (l *logger) log(level Level, args ...interface{}) {
	if l.Enabled(level) {
		l.sink.Output(callerDepth, level, l.fields, fmt.Sprint(args...))
	}
}

func (l *logger) logf(level Level, format string, args ...interface{}) {
	if l.Enabled(level) {
		l.sink.Output(callerDepth, level, l.fields, fmt.Sprintf(format, args...))
	}
}

func (l *logger) output(level Level, msg string) {
	if l.Enabled(level) {
		l.sink.Output(callerDepth, level, l.fields, msg)
	}
}
