package observe

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ZerologSink writes events through a zerolog.Logger.
type ZerologSink struct {
	log zerolog.Logger
}

// NewZerologSink wraps an existing logger.
func NewZerologSink(log zerolog.Logger) *ZerologSink {
	return &ZerologSink{log: log}
}

// NewConsoleSink builds a human-readable sink on w (stderr when nil).
func NewConsoleSink(w io.Writer, debug bool) *ZerologSink {
	if w == nil {
		w = os.Stderr
	}
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
	return NewZerologSink(log)
}

func (s *ZerologSink) Record(e Event) {
	var evt *zerolog.Event
	switch e.Level {
	case LevelDebug:
		evt = s.log.Debug()
	case LevelInfo:
		evt = s.log.Info()
	case LevelWarn:
		evt = s.log.Warn()
	default:
		evt = s.log.Error()
	}
	if e.Component != "" {
		evt = evt.Str("component", e.Component)
	}
	if e.Err != nil {
		evt = evt.Err(e.Err)
	}
	if len(e.Fields) > 0 {
		evt = evt.Fields(e.Fields)
	}
	evt.Msg(e.Message)
}
