// Package deepgram transcribes finalized clips through Deepgram's
// prerecorded REST API.
package deepgram

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	restv1 "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/harunnryd/parlato/pkg/capture"
	"github.com/harunnryd/parlato/pkg/errorsx"
	"github.com/harunnryd/parlato/pkg/evaluate"
	"github.com/harunnryd/parlato/pkg/logging"
	"github.com/harunnryd/parlato/pkg/recognizer"
)

// Config holds Deepgram connection settings.
type Config struct {
	APIKey   string
	Language string
	// SmartFormat asks Deepgram to punctuate and format numerals.
	SmartFormat bool
}

// Recognizer sends clips to the prerecorded endpoint. The model argument of
// Transcribe selects the Deepgram model (nova-2, whisper-large, ...).
type Recognizer struct {
	cfg    Config
	dg     *restv1.Client
	logger *slog.Logger
}

// New builds a REST recognizer.
func New(cfg Config) (*Recognizer, error) {
	if cfg.APIKey == "" {
		return nil, errorsx.New(errorsx.ReasonValidation, "deepgram api key is required")
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	c := client.NewREST(cfg.APIKey, &interfaces.ClientOptions{})
	return &Recognizer{
		cfg:    cfg,
		dg:     restv1.New(c),
		logger: logging.NewComponentLogger(slog.Default(), "deepgram"),
	}, nil
}

func (r *Recognizer) Name() string { return "deepgram" }

func (r *Recognizer) Transcribe(ctx context.Context, model string, clip capture.Clip) (recognizer.Result, error) {
	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       model,
		Language:    r.cfg.Language,
		SmartFormat: r.cfg.SmartFormat,
	}

	started := time.Now()
	res, err := r.dg.FromStream(ctx, bytes.NewReader(clip.Data), options)
	if err != nil {
		return recognizer.Result{}, errorsx.Wrap(fmt.Errorf("deepgram transcription: %w", err), errorsx.ReasonRecognition)
	}
	elapsed := time.Since(started)

	if res == nil || res.Results == nil || len(res.Results.Channels) == 0 ||
		len(res.Results.Channels[0].Alternatives) == 0 {
		return recognizer.Result{}, errorsx.New(errorsx.ReasonRecognition,
			"deepgram returned no alternatives for model %s", model)
	}
	text := res.Results.Channels[0].Alternatives[0].Transcript
	r.logger.Info("deepgram_transcription_completed",
		slog.String("model", model),
		slog.Duration("inference", elapsed))
	return recognizer.Result{Text: text, Inference: elapsed}, nil
}

// TranscribeWithMetrics scores the Deepgram transcript locally; the API has
// no reference-text scoring of its own.
func (r *Recognizer) TranscribeWithMetrics(ctx context.Context, model string, clip capture.Clip, reference string) (recognizer.Metrics, error) {
	result, err := r.Transcribe(ctx, model, clip)
	if err != nil {
		return recognizer.Metrics{}, err
	}
	alignment := evaluate.AlignWords(
		splitTokens(reference),
		splitTokens(result.Text),
	)
	return recognizer.Metrics{
		Text:          result.Text,
		Inference:     result.Inference,
		WER:           evaluate.WordErrorRate(reference, result.Text),
		CER:           evaluate.CharacterErrorRate(reference, result.Text),
		Substitutions: alignment.Substitutions,
		Insertions:    alignment.Insertions,
		Deletions:     alignment.Deletions,
	}, nil
}

func splitTokens(text string) []string {
	return strings.Fields(evaluate.Normalize(text))
}

var _ recognizer.MetricsRecognizer = (*Recognizer)(nil)
