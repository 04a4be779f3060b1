package observe

import (
	"fmt"

	"github.com/getsentry/sentry-go"
)

// SentrySink forwards error-level events that carry an error to Sentry.
// Everything else is ignored; pair it with a console sink via Multi.
type SentrySink struct {
	hub *sentry.Hub
}

// NewSentrySink uses hub, or the current hub when nil.
func NewSentrySink(hub *sentry.Hub) *SentrySink {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentrySink{hub: hub}
}

func (s *SentrySink) Record(e Event) {
	if e.Level < LevelError || e.Err == nil {
		return
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		if e.Component != "" {
			scope.SetTag("component", e.Component)
		}
		for k, v := range e.Fields {
			scope.SetExtra(k, v)
		}
		s.hub.CaptureException(fmt.Errorf("%s: %w", e.Message, e.Err))
	})
}
