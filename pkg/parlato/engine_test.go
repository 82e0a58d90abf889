package parlato

import (
	"context"
	"testing"

	"github.com/harunnryd/parlato/pkg/capture"
	"github.com/harunnryd/parlato/pkg/chat"
	"github.com/harunnryd/parlato/pkg/providers/mock"
	"github.com/harunnryd/parlato/pkg/recognizer"
)

func guestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.Session.Mode == "" {
		cfg.Session.Mode = "guest"
	}
	if cfg.Recognizer.Provider == "" {
		cfg.Recognizer.Provider = "mock"
	}
	if cfg.Models.Default == "" {
		cfg.Models.Default = "whisper"
	}
	providers := NewProviderRegistry()
	providers.RegisterRecognizer("mock", func(Config) (recognizer.Recognizer, error) {
		rec := mock.NewRecognizer()
		rec.Script("whisper", mock.Outcome{Text: "hello from the microphone"})
		return rec, nil
	})
	engine, err := NewEngine(EngineOptions{Config: cfg, Providers: providers})
	if err != nil {
		t.Fatalf("engine init: %v", err)
	}
	return engine
}

func TestEngineGuestDispatchRoundTrip(t *testing.T) {
	engine := guestEngine(t, Config{})
	ctx := context.Background()

	created, err := engine.Store().Create(ctx, "morning note", nil)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	clip := capture.Clip{
		Data:     []byte("opus-bytes"),
		MIME:     "audio/ogg;codecs=opus",
		FileName: "recording-1.ogg",
	}
	result, err := engine.Dispatcher().Dispatch(ctx, created.ID, clip, "whisper")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Transcript != "hello from the microphone" {
		t.Fatalf("unexpected transcript: %q", result.Transcript)
	}

	got, err := engine.Store().Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("expected USER + TRANSCRIPTION messages, got %d", len(got.Messages))
	}
	if got.Messages[0].Type != chat.MessageUser || got.Messages[1].Type != chat.MessageTranscription {
		t.Fatalf("unexpected message types: %s, %s", got.Messages[0].Type, got.Messages[1].Type)
	}
}

func TestEngineCaptureControllerUsesConfiguredPreferences(t *testing.T) {
	cfg := Config{}
	cfg.Capture.Preferences = []string{"audio/ogg;codecs=opus", "audio/webm;codecs=opus"}
	engine := guestEngine(t, cfg)

	device := mock.NewDevice("audio/webm;codecs=opus", "audio/ogg;codecs=opus")
	controller := engine.NewCaptureController(device)
	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	clip, err := controller.Stop()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if clip.MIME != "audio/ogg;codecs=opus" {
		t.Fatalf("expected first configured preference, got %s", clip.MIME)
	}
}
