package evalstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/harunnryd/parlato/pkg/evaluate"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T) *Store {
	t.Helper()
	tmp := t.TempDir()
	store, err := Open(context.Background(), filepath.Join(tmp, "evaluations.db"), newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleEvaluation(at time.Time) *evaluate.Evaluation {
	return &evaluate.Evaluation{
		Models: [2]evaluate.ModelResult{
			{ModelName: "whisper", Transcription: "hello there", WER: 0.12, CER: 0.05,
				Substitutions: 1, ProcessingTime: 200 * time.Millisecond},
			{ModelName: "wav2vec", Transcription: "hallo there", WER: 0.25, CER: 0.10,
				Substitutions: 2, ProcessingTime: 150 * time.Millisecond},
		},
		Comparison:      evaluate.Comparison{Winner: "whisper", WinnerScore: 0.12, Improvement: 0.52},
		GroundTruthText: "hello there",
		Audio:           evaluate.Audio{Name: "recording-1.wav", Size: 2048},
		EvaluatedAt:     at,
	}
}

func TestSaveAndListEvaluation(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := store.SaveEvaluation(ctx, sampleEvaluation(at)); err != nil {
		t.Fatalf("save evaluation: %v", err)
	}

	got, err := store.ListEvaluations(ctx, 10)
	if err != nil {
		t.Fatalf("list evaluations: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one evaluation, got %d", len(got))
	}
	eval := got[0]
	if eval.Comparison.Winner != "whisper" || eval.Comparison.WinnerScore != 0.12 {
		t.Fatalf("unexpected comparison %+v", eval.Comparison)
	}
	if eval.Models[0].ModelName != "whisper" || eval.Models[1].ModelName != "wav2vec" {
		t.Fatalf("model rows out of order: %+v", eval.Models)
	}
	if eval.Models[0].ProcessingTime != 200*time.Millisecond {
		t.Fatalf("unexpected processing time %v", eval.Models[0].ProcessingTime)
	}
	if !eval.EvaluatedAt.Equal(at) {
		t.Fatalf("unexpected evaluated_at %v", eval.EvaluatedAt)
	}
}

func TestRepeatedEvaluationsAccumulate(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := store.SaveEvaluation(ctx, sampleEvaluation(base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("save evaluation %d: %v", i, err)
		}
	}

	got, err := store.ListEvaluations(ctx, 10)
	if err != nil {
		t.Fatalf("list evaluations: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("same-audio evaluations must accumulate, got %d", len(got))
	}
	if !got[0].EvaluatedAt.After(got[2].EvaluatedAt) {
		t.Fatalf("expected newest-first ordering")
	}
}

func TestMessageLinkRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	eval := sampleEvaluation(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	eval.Models[0].MessageID = "msg-123"

	if err := store.SaveEvaluation(ctx, eval); err != nil {
		t.Fatalf("save evaluation: %v", err)
	}
	got, err := store.ListEvaluations(ctx, 1)
	if err != nil {
		t.Fatalf("list evaluations: %v", err)
	}
	if got[0].Models[0].MessageID != "msg-123" {
		t.Fatalf("expected message link on first model, got %q", got[0].Models[0].MessageID)
	}
	if got[0].Models[1].MessageID != "" {
		t.Fatalf("expected empty message link on second model, got %q", got[0].Models[1].MessageID)
	}
}
