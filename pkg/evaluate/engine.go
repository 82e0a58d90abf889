// Package evaluate compares two speech-to-text models on the same clip
// against a ground-truth transcript and records the outcome.
package evaluate

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/parlato/pkg/capture"
	"github.com/harunnryd/parlato/pkg/errorsx"
	"github.com/harunnryd/parlato/pkg/metrics"
	"github.com/harunnryd/parlato/pkg/recognizer"
)

// minImprovementBase keeps the improvement ratio finite when both models
// score a perfect zero.
const minImprovementBase = 0.001

// ModelResult is one model's scored transcription. MessageID links back to a
// chat message when the evaluated clip came from one; standalone evaluations
// leave it empty.
type ModelResult struct {
	ModelName      string        `json:"modelName"`
	MessageID      string        `json:"messageId,omitempty"`
	Transcription  string        `json:"transcription"`
	WER            float64       `json:"wer"`
	CER            float64       `json:"cer"`
	Substitutions  int           `json:"substitutions"`
	Insertions     int           `json:"insertions"`
	Deletions      int           `json:"deletions"`
	ProcessingTime time.Duration `json:"processingTime"`
}

// Comparison summarizes the head-to-head outcome.
type Comparison struct {
	Winner      string  `json:"winner"`
	WinnerScore float64 `json:"winnerScore"`
	Improvement float64 `json:"improvement"`
}

// Audio identifies the evaluated clip.
type Audio struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Evaluation is one completed comparison run.
type Evaluation struct {
	Models          [2]ModelResult `json:"models"`
	Comparison      Comparison     `json:"comparison"`
	GroundTruthText string         `json:"groundTruthText"`
	Audio           Audio          `json:"audio"`
	EvaluatedAt     time.Time      `json:"evaluatedAt"`
}

// Sink receives completed evaluations. Implemented by pkg/evalstore.
type Sink interface {
	SaveEvaluation(ctx context.Context, eval *Evaluation) error
}

// Options configures an evaluation engine.
type Options struct {
	Sink     Sink
	Observer metrics.Observer
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Engine runs two models of a scoring recognizer against the same clip.
// The first configured model wins exact WER ties.
type Engine struct {
	rec      recognizer.MetricsRecognizer
	models   [2]string
	sink     Sink
	observer metrics.Observer
	logger   *slog.Logger
	clock    func() time.Time
}

// NewEngine builds an engine over two model identifiers of the same scoring
// recognizer.
func NewEngine(rec recognizer.MetricsRecognizer, modelA, modelB string, opts Options) *Engine {
	observer := opts.Observer
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		rec:      rec,
		models:   [2]string{modelA, modelB},
		sink:     opts.Sink,
		observer: observer,
		logger:   logger,
		clock:    clock,
	}
}

// Evaluate transcribes the clip with both models concurrently and scores
// each against reference. Either model failing fails the whole run and
// nothing is persisted.
func (e *Engine) Evaluate(ctx context.Context, clip capture.Clip, reference string) (*Evaluation, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		results [2]recognizer.Metrics
		errs    [2]error
	)
	for i, model := range e.models {
		wg.Add(1)
		go func(slot int, model string) {
			defer wg.Done()
			m, err := e.rec.TranscribeWithMetrics(runCtx, model, clip, reference)
			if err != nil {
				errs[slot] = err
				cancel()
				return
			}
			results[slot] = m
		}(i, model)
	}
	wg.Wait()

	var failed []string
	for i, err := range errs {
		if err != nil {
			e.logger.Error("evaluation_model_failed",
				slog.String("model", e.models[i]),
				slog.String("error", err.Error()))
			failed = append(failed, e.models[i])
		}
	}
	if len(failed) > 0 {
		return nil, errorsx.New(errorsx.ReasonEvaluation,
			"evaluation failed for model(s) %s", strings.Join(failed, ", "))
	}

	eval := &Evaluation{
		GroundTruthText: reference,
		Audio:           Audio{Name: clip.FileName, Size: int64(len(clip.Data))},
		EvaluatedAt:     e.clock(),
	}
	for i := range e.models {
		eval.Models[i] = ModelResult{
			ModelName:      e.models[i],
			Transcription:  results[i].Text,
			WER:            results[i].WER,
			CER:            CharacterErrorRate(reference, results[i].Text),
			Substitutions:  results[i].Substitutions,
			Insertions:     results[i].Insertions,
			Deletions:      results[i].Deletions,
			ProcessingTime: results[i].Inference,
		}
	}
	eval.Comparison = compare(eval.Models)

	if e.sink != nil {
		if err := e.sink.SaveEvaluation(ctx, eval); err != nil {
			return nil, errorsx.Wrap(err, errorsx.ReasonPersistence)
		}
	}

	e.observer.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventEvaluationCompleted,
		Time:  eval.EvaluatedAt,
		Value: eval.Comparison.WinnerScore,
		Tags:  map[string]string{"winner": eval.Comparison.Winner},
		Fields: map[string]any{
			"improvement": eval.Comparison.Improvement,
			"audio_name":  eval.Audio.Name,
		},
	})
	e.logger.Info("evaluation_completed",
		slog.String("winner", eval.Comparison.Winner),
		slog.Float64("winner_score", eval.Comparison.WinnerScore),
		slog.Float64("improvement", eval.Comparison.Improvement))
	return eval, nil
}

func compare(models [2]ModelResult) Comparison {
	winner := models[0]
	if models[1].WER < models[0].WER {
		winner = models[1]
	}
	werA, werB := models[0].WER, models[1].WER
	return Comparison{
		Winner:      winner.ModelName,
		WinnerScore: math.Min(werA, werB),
		Improvement: math.Abs(werA-werB) / math.Max(math.Max(werA, werB), minImprovementBase),
	}
}
