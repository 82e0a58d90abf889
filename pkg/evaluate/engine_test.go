package evaluate

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/harunnryd/parlato/pkg/capture"
	"github.com/harunnryd/parlato/pkg/errorsx"
	"github.com/harunnryd/parlato/pkg/recognizer"
)

type scriptedOutcome struct {
	metrics recognizer.Metrics
	err     error
}

type scriptedRecognizer struct {
	outcomes map[string]scriptedOutcome
}

func (s *scriptedRecognizer) Name() string { return "scripted" }

func (s *scriptedRecognizer) Transcribe(ctx context.Context, model string, clip capture.Clip) (recognizer.Result, error) {
	out := s.outcomes[model]
	return recognizer.Result{Text: out.metrics.Text, Inference: out.metrics.Inference}, out.err
}

func (s *scriptedRecognizer) TranscribeWithMetrics(ctx context.Context, model string, clip capture.Clip, reference string) (recognizer.Metrics, error) {
	out := s.outcomes[model]
	return out.metrics, out.err
}

type memorySink struct {
	saved []*Evaluation
}

func (m *memorySink) SaveEvaluation(ctx context.Context, eval *Evaluation) error {
	m.saved = append(m.saved, eval)
	return nil
}

func testClip() capture.Clip {
	return capture.Clip{
		Data:     []byte("fake audio"),
		MIME:     "audio/wav",
		FileName: "recording-1.wav",
		Seconds:  3,
	}
}

func TestEvaluatePicksLowerWER(t *testing.T) {
	rec := &scriptedRecognizer{outcomes: map[string]scriptedOutcome{
		"whisper": {metrics: recognizer.Metrics{Text: "hello there", WER: 0.12, Inference: 200 * time.Millisecond}},
		"wav2vec": {metrics: recognizer.Metrics{Text: "hallo there", WER: 0.25, Inference: 150 * time.Millisecond}},
	}}
	sink := &memorySink{}
	engine := NewEngine(rec, "whisper", "wav2vec", Options{Sink: sink})

	eval, err := engine.Evaluate(context.Background(), testClip(), "hello there")
	if err != nil {
		t.Fatalf("evaluate error: %v", err)
	}
	if eval.Comparison.Winner != "whisper" {
		t.Fatalf("expected whisper to win, got %s", eval.Comparison.Winner)
	}
	if eval.Comparison.WinnerScore != 0.12 {
		t.Fatalf("expected winner score 0.12, got %v", eval.Comparison.WinnerScore)
	}
	if math.Abs(eval.Comparison.Improvement-0.52) > 1e-9 {
		t.Fatalf("expected improvement 0.52, got %v", eval.Comparison.Improvement)
	}
	if len(sink.saved) != 1 {
		t.Fatalf("expected one persisted evaluation, got %d", len(sink.saved))
	}
}

func TestEvaluateTieGoesToFirstModel(t *testing.T) {
	rec := &scriptedRecognizer{outcomes: map[string]scriptedOutcome{
		"whisper": {metrics: recognizer.Metrics{Text: "perfect", WER: 0}},
		"wav2vec": {metrics: recognizer.Metrics{Text: "perfect", WER: 0}},
	}}
	engine := NewEngine(rec, "whisper", "wav2vec", Options{})

	eval, err := engine.Evaluate(context.Background(), testClip(), "perfect")
	if err != nil {
		t.Fatalf("evaluate error: %v", err)
	}
	if eval.Comparison.Winner != "whisper" {
		t.Fatalf("tie should go to the first model, got %s", eval.Comparison.Winner)
	}
	if eval.Comparison.Improvement != 0 {
		t.Fatalf("zero scores should yield zero improvement, got %v", eval.Comparison.Improvement)
	}
}

func TestEvaluateSingleFailureFailsAll(t *testing.T) {
	rec := &scriptedRecognizer{outcomes: map[string]scriptedOutcome{
		"whisper": {metrics: recognizer.Metrics{Text: "fine", WER: 0.1}},
		"wav2vec": {err: errors.New("model overloaded")},
	}}
	sink := &memorySink{}
	engine := NewEngine(rec, "whisper", "wav2vec", Options{Sink: sink})

	_, err := engine.Evaluate(context.Background(), testClip(), "fine")
	if err == nil {
		t.Fatalf("expected evaluation failure")
	}
	if !errorsx.HasReason(err, errorsx.ReasonEvaluation) {
		t.Fatalf("expected evaluation reason, got %v", err)
	}
	if len(sink.saved) != 0 {
		t.Fatalf("partial results must not be persisted, got %d", len(sink.saved))
	}
}

func TestEvaluateFillsCERLocally(t *testing.T) {
	rec := &scriptedRecognizer{outcomes: map[string]scriptedOutcome{
		"whisper": {metrics: recognizer.Metrics{Text: "abcd", WER: 0.2}},
		"wav2vec": {metrics: recognizer.Metrics{Text: "abce", WER: 0.3}},
	}}
	engine := NewEngine(rec, "whisper", "wav2vec", Options{})

	eval, err := engine.Evaluate(context.Background(), testClip(), "abcd")
	if err != nil {
		t.Fatalf("evaluate error: %v", err)
	}
	if eval.Models[0].CER != 0 {
		t.Fatalf("expected exact match CER 0, got %v", eval.Models[0].CER)
	}
	if eval.Models[1].CER != 0.25 {
		t.Fatalf("expected CER 0.25, got %v", eval.Models[1].CER)
	}
}
