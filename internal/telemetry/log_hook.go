package telemetry

import (
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// TraceHook добавляет trace_id и span_id в записи logrus, созданные через WithContext.
type TraceHook struct{}

func (TraceHook) Levels() []log.Level {
	return log.AllLevels
}

func (TraceHook) Fire(entry *log.Entry) error {
	if entry.Context == nil {
		return nil
	}
	sc := trace.SpanContextFromContext(entry.Context)
	if !sc.IsValid() {
		return nil
	}
	entry.Data["trace_id"] = sc.TraceID().String()
	entry.Data["span_id"] = sc.SpanID().String()
	return nil
}
