// Package metrics is a small event-observer layer: dispatch and evaluation
// emit structured events, observers record them.
package metrics

import "time"

// Event names emitted by the transcription pipeline.
const (
	EventDispatchCompleted   = "dispatch_completed"
	EventDispatchFailed      = "dispatch_failed"
	EventEvaluationCompleted = "evaluation_completed"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
