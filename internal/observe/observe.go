// Package observe carries structured events from the mirroring core to whatever
// sinks the process wires up (console, Sentry, tests). The core only ever talks
// to a Sink; it never imports a logging backend directly.
package observe

import "fmt"

// Level is the severity tag attached to every event.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Event is a single structured log record.
type Event struct {
	Level     Level
	Component string
	Message   string
	Err       error
	Fields    map[string]any
}

// Sink receives events. Implementations must not block for long.
type Sink interface {
	Record(e Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(e Event)

func (f SinkFunc) Record(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

type multiSink []Sink

func (m multiSink) Record(e Event) {
	for _, s := range m {
		s.Record(e)
	}
}

// Multi fans an event out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Logger binds a sink to a component name.
type Logger struct {
	sink      Sink
	component string
}

// NewLogger returns a Logger writing to sink. A nil sink discards.
func NewLogger(sink Sink, component string) Logger {
	if sink == nil {
		sink = Discard
	}
	return Logger{sink: sink, component: component}
}

// With returns a Logger for a sub-component, e.g. "mirror" -> "mirror.publish".
func (l Logger) With(component string) Logger {
	if l.component != "" {
		component = l.component + "." + component
	}
	return NewLogger(l.sink, component)
}

func (l Logger) Debug(msg string, kv ...any) { l.emit(LevelDebug, nil, msg, kv) }
func (l Logger) Info(msg string, kv ...any)  { l.emit(LevelInfo, nil, msg, kv) }
func (l Logger) Warn(msg string, kv ...any)  { l.emit(LevelWarn, nil, msg, kv) }

// Error records msg together with err at error level.
func (l Logger) Error(err error, msg string, kv ...any) { l.emit(LevelError, err, msg, kv) }

// WarnErr records a recoverable failure.
func (l Logger) WarnErr(err error, msg string, kv ...any) { l.emit(LevelWarn, err, msg, kv) }

func (l Logger) emit(level Level, err error, msg string, kv []any) {
	if l.sink == nil {
		return
	}
	l.sink.Record(Event{
		Level:     level,
		Component: l.component,
		Message:   msg,
		Err:       err,
		Fields:    fields(kv),
	})
}

// fields turns alternating key/value pairs into a map. A dangling key gets
// the value "(missing)".
func fields(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	out := make(map[string]any, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 < len(kv) {
			out[key] = kv[i+1]
		} else {
			out[key] = "(missing)"
		}
	}
	return out
}
