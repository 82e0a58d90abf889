// Package dispatch runs one audio message end to end: persist the user's
// clip, transcribe it, persist the transcript.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/parlato/pkg/capture"
	"github.com/harunnryd/parlato/pkg/chat"
	"github.com/harunnryd/parlato/pkg/errorsx"
	"github.com/harunnryd/parlato/pkg/metrics"
	"github.com/harunnryd/parlato/pkg/recognizer"
	"github.com/harunnryd/parlato/pkg/session"
)

// Phase tracks how far a dispatch progressed.
type Phase int

const (
	PhaseSubmitted Phase = iota
	PhaseAudioPersisted
	PhaseRecognized
	PhasePersisted
	PhaseComplete
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseSubmitted:
		return "SUBMITTED"
	case PhaseAudioPersisted:
		return "AUDIO_PERSISTED"
	case PhaseRecognized:
		return "RECOGNIZED"
	case PhasePersisted:
		return "PERSISTED"
	case PhaseComplete:
		return "COMPLETE"
	case PhaseFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Result reports a finished dispatch. On failure Phase holds the last phase
// reached before the failing step.
type Result struct {
	Phase         Phase
	UserMessage   *chat.Message
	Transcription *chat.Message
	Transcript    string
	Elapsed       time.Duration
}

// Dispatcher serializes transcription work per chat: at most one dispatch in
// flight per chat at a time.
type Dispatcher struct {
	store    session.Store
	loader   session.AudioLoader
	rec      recognizer.Recognizer
	observer metrics.Observer
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

// Options configures a dispatcher.
type Options struct {
	Observer metrics.Observer
	Logger   *slog.Logger
}

// New builds a dispatcher over a store and a recognizer. loader resolves
// stored audio paths for auto transcription; pass the store itself when it
// implements session.AudioLoader.
func New(store session.Store, loader session.AudioLoader, rec recognizer.Recognizer, opts Options) *Dispatcher {
	observer := opts.Observer
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:    store,
		loader:   loader,
		rec:      rec,
		observer: observer,
		logger:   logger,
		inflight: make(map[string]bool),
	}
}

// acquire claims the chat's dispatch slot.
func (d *Dispatcher) acquire(chatID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inflight[chatID] {
		return false
	}
	d.inflight[chatID] = true
	return true
}

func (d *Dispatcher) release(chatID string) {
	d.mu.Lock()
	delete(d.inflight, chatID)
	d.mu.Unlock()
}

// Dispatch persists the clip as a USER message, transcribes it, and persists
// the transcript. A recognition failure is final: the USER message stays and
// no retry happens.
func (d *Dispatcher) Dispatch(ctx context.Context, chatID string, clip capture.Clip, model string) (*Result, error) {
	if len(clip.Data) == 0 {
		return nil, errorsx.New(errorsx.ReasonValidation, "no audio captured")
	}
	if model == "" {
		return nil, errorsx.New(errorsx.ReasonValidation, "no model selected")
	}
	if !d.acquire(chatID) {
		return nil, errorsx.New(errorsx.ReasonValidation, "a transcription is already running for chat %s", chatID)
	}
	defer d.release(chatID)

	started := time.Now()
	result := &Result{Phase: PhaseSubmitted}

	userMsg, err := d.store.AppendMessage(ctx, chatID, session.NewMessage{
		Type:      chat.MessageUser,
		Content:   "Audio uploaded: " + clip.FileName,
		ModelName: model,
		Audio:     &session.Audio{Name: clip.FileName, Data: clip.Data, MIME: clip.MIME},
	})
	if err != nil {
		return d.fail(result, chatID, "store audio", errorsx.Wrap(fmt.Errorf("could not save your recording: %w", err), errorsx.ReasonPersistence))
	}
	result.Phase = PhaseAudioPersisted
	result.UserMessage = userMsg

	if err := d.transcribe(ctx, chatID, clip, model, result); err != nil {
		return d.fail(result, chatID, "transcribe", err)
	}

	result.Phase = PhaseComplete
	result.Elapsed = time.Since(started)
	d.observer.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventDispatchCompleted,
		Time:  time.Now(),
		Value: result.Elapsed.Seconds(),
		Tags:  map[string]string{"model": model},
	})
	d.logger.Info("dispatch_completed",
		slog.String("chat_id", chatID),
		slog.String("model", model),
		slog.Duration("elapsed", result.Elapsed))
	return result, nil
}

// transcribe runs the recognition and transcript persistence steps, shared
// by Dispatch and AutoTranscribe.
func (d *Dispatcher) transcribe(ctx context.Context, chatID string, clip capture.Clip, model string, result *Result) error {
	recognized, err := d.rec.Transcribe(ctx, model, clip)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("transcription failed, your recording is kept: %w", err), errorsx.ReasonRecognition)
	}
	result.Phase = PhaseRecognized
	result.Transcript = recognized.Text

	transcriptMsg, err := d.store.AppendMessage(ctx, chatID, session.NewMessage{
		Type:      chat.MessageTranscription,
		Content:   recognized.Text,
		ModelName: model,
	})
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("could not save the transcript: %w", err), errorsx.ReasonPersistence)
	}
	result.Phase = PhasePersisted
	result.Transcription = transcriptMsg
	return nil
}

func (d *Dispatcher) fail(result *Result, chatID, stage string, err error) (*Result, error) {
	phase := result.Phase
	result.Phase = PhaseFailed
	d.observer.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventDispatchFailed,
		Time: time.Now(),
		Tags: map[string]string{"stage": stage, "phase": phase.String()},
	})
	d.logger.Error("dispatch_failed",
		slog.String("chat_id", chatID),
		slog.String("stage", stage),
		slog.String("phase", phase.String()),
		slog.String("error", err.Error()))
	return result, err
}

// AutoTranscribe transcribes a chat whose only message is a pending USER
// audio upload. Ineligible chats and chats with a dispatch already running
// return (nil, nil); concurrent triggers collapse to one run.
func (d *Dispatcher) AutoTranscribe(ctx context.Context, chatID string) (*Result, error) {
	if !d.acquire(chatID) {
		return nil, nil
	}
	defer d.release(chatID)

	c, err := d.store.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if c == nil || len(c.Messages) != 1 {
		return nil, nil
	}
	pending := *c.LastMessage()
	if pending.Type != chat.MessageUser || pending.AudioPath == "" || pending.ModelName == "" {
		return nil, nil
	}

	data, mime, err := d.loader.LoadAudio(ctx, pending.AudioPath)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("could not reload the recording: %w", err), errorsx.ReasonPersistence)
	}
	clip := capture.Clip{Data: data, MIME: mime, FileName: pending.AudioName}

	d.logger.Info("auto_transcribe_started",
		slog.String("chat_id", chatID),
		slog.String("model", pending.ModelName))

	result := &Result{Phase: PhaseAudioPersisted, UserMessage: &pending}
	if err := d.transcribe(ctx, chatID, clip, pending.ModelName, result); err != nil {
		return d.fail(result, chatID, "auto_transcribe", err)
	}
	result.Phase = PhaseComplete
	return result, nil
}
