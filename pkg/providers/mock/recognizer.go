// Package mock provides scriptable stand-ins for recognizers and capture
// devices, used in tests and offline development.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/parlato/pkg/capture"
	"github.com/harunnryd/parlato/pkg/recognizer"
)

// Outcome scripts one model's behavior.
type Outcome struct {
	Text    string
	Metrics recognizer.Metrics
	Err     error
	// Latency delays the response, honoring context cancellation.
	Latency time.Duration
}

// Recognizer returns scripted outcomes per model name. Unscripted models get
// a default transcript.
type Recognizer struct {
	mu       sync.Mutex
	outcomes map[string]Outcome
	calls    []string
}

func NewRecognizer() *Recognizer {
	return &Recognizer{outcomes: make(map[string]Outcome)}
}

// Script sets the outcome for a model.
func (r *Recognizer) Script(model string, outcome Outcome) {
	r.mu.Lock()
	r.outcomes[model] = outcome
	r.mu.Unlock()
}

// Calls returns the models transcribed so far, in order.
func (r *Recognizer) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *Recognizer) Name() string { return "mock" }

func (r *Recognizer) outcome(ctx context.Context, model string) (Outcome, error) {
	r.mu.Lock()
	r.calls = append(r.calls, model)
	out, ok := r.outcomes[model]
	r.mu.Unlock()
	if !ok {
		out = Outcome{Text: "mock transcript"}
	}
	if out.Latency > 0 {
		select {
		case <-time.After(out.Latency):
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	}
	return out, out.Err
}

func (r *Recognizer) Transcribe(ctx context.Context, model string, clip capture.Clip) (recognizer.Result, error) {
	out, err := r.outcome(ctx, model)
	if err != nil {
		return recognizer.Result{}, err
	}
	return recognizer.Result{Text: out.Text, Inference: out.Latency}, nil
}

func (r *Recognizer) TranscribeWithMetrics(ctx context.Context, model string, clip capture.Clip, reference string) (recognizer.Metrics, error) {
	out, err := r.outcome(ctx, model)
	if err != nil {
		return recognizer.Metrics{}, err
	}
	m := out.Metrics
	if m.Text == "" {
		m.Text = out.Text
	}
	if m.Inference == 0 {
		m.Inference = out.Latency
	}
	return m, nil
}

var _ recognizer.MetricsRecognizer = (*Recognizer)(nil)
