// Package recognizer defines the speech-to-text provider contract. Concrete
// providers live under pkg/providers and register themselves through the
// engine's provider registry.
package recognizer

import (
	"context"
	"time"

	"github.com/harunnryd/parlato/pkg/capture"
)

// Result is a plain transcription outcome.
type Result struct {
	// Text is the recognized transcript, possibly empty for silent audio.
	Text string
	// Inference is the provider-reported (or locally measured) decode time.
	Inference time.Duration
}

// Metrics is a transcription outcome scored against a reference text.
type Metrics struct {
	Text          string
	Inference     time.Duration
	WER           float64
	CER           float64
	Substitutions int
	Insertions    int
	Deletions     int
}

// Recognizer converts a finalized audio clip into text. model selects one of
// the provider's registered model identifiers.
type Recognizer interface {
	// Name identifies the provider for logs and evaluation records.
	Name() string
	Transcribe(ctx context.Context, model string, clip capture.Clip) (Result, error)
}

// MetricsRecognizer additionally scores a transcription against a reference
// text. Providers that cannot score remotely compute the error rates locally.
type MetricsRecognizer interface {
	Recognizer
	TranscribeWithMetrics(ctx context.Context, model string, clip capture.Clip, reference string) (Metrics, error)
}
