package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/parlato/pkg/chat"
	"github.com/harunnryd/parlato/pkg/errorsx"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newGuestUnderTest(clock *fakeClock) *GuestStore {
	return NewGuestStore(GuestOptions{Clock: clock.Now})
}

func userMessage() NewMessage {
	return NewMessage{
		Type:      chat.MessageUser,
		ModelName: "whisper",
		Audio:     &Audio{Name: "recording-1.webm", Data: []byte("opus bytes"), MIME: "audio/webm;codecs=opus"},
	}
}

func TestGuestChatReadableBeforeTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := newGuestUnderTest(clock)
	ctx := context.Background()

	created, err := store.Create(ctx, "New chat", nil)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if !strings.HasPrefix(created.ID, "guest_") {
		t.Fatalf("expected guest id prefix, got %s", created.ID)
	}

	clock.Advance(9 * time.Minute)
	got, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got == nil {
		t.Fatalf("chat should still be readable at nine minutes")
	}
}

func TestGuestChatExpiresAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := newGuestUnderTest(clock)
	ctx := context.Background()

	created, err := store.Create(ctx, "New chat", nil)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}

	clock.Advance(11 * time.Minute)
	got, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got != nil {
		t.Fatalf("chat should be absent after eleven minutes")
	}

	_, err = store.AppendMessage(ctx, created.ID, userMessage())
	if !errorsx.HasReason(err, errorsx.ReasonNotFound) {
		t.Fatalf("append after purge should be not_found, got %v", err)
	}
}

func TestGuestAppendOnLapsedChatIsSessionExpired(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := newGuestUnderTest(clock)
	ctx := context.Background()

	created, err := store.Create(ctx, "New chat", nil)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}

	clock.Advance(11 * time.Minute)
	_, err = store.AppendMessage(ctx, created.ID, userMessage())
	if !errorsx.HasReason(err, errorsx.ReasonSessionExpired) {
		t.Fatalf("expected session_expired, got %v", err)
	}
}

func TestGuestWriteRenewsTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := newGuestUnderTest(clock)
	ctx := context.Background()

	created, err := store.Create(ctx, "New chat", nil)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}

	clock.Advance(9 * time.Minute)
	if _, err := store.AppendMessage(ctx, created.ID, userMessage()); err != nil {
		t.Fatalf("append error: %v", err)
	}

	clock.Advance(9 * time.Minute)
	got, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got == nil {
		t.Fatalf("append should have renewed the TTL")
	}
	if len(got.Messages) != 1 {
		t.Fatalf("expected one message, got %d", len(got.Messages))
	}
}

func TestGuestAudioRoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := newGuestUnderTest(clock)
	ctx := context.Background()

	created, err := store.Create(ctx, "New chat", nil)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	stored, err := store.AppendMessage(ctx, created.ID, userMessage())
	if err != nil {
		t.Fatalf("append error: %v", err)
	}
	if !strings.HasPrefix(stored.AudioPath, "mem://") {
		t.Fatalf("expected mem:// audio path, got %s", stored.AudioPath)
	}
	if stored.AudioSize != int64(len("opus bytes")) {
		t.Fatalf("unexpected audio size %d", stored.AudioSize)
	}

	data, mime, err := store.LoadAudio(ctx, stored.AudioPath)
	if err != nil {
		t.Fatalf("load audio error: %v", err)
	}
	if string(data) != "opus bytes" {
		t.Fatalf("unexpected audio payload %q", data)
	}
	if mime != "audio/webm;codecs=opus" {
		t.Fatalf("unexpected audio mime %s", mime)
	}
}

func TestGuestListNewestFirstWithLazyPurge(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := newGuestUnderTest(clock)
	ctx := context.Background()

	older, err := store.Create(ctx, "Older", nil)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	clock.Advance(8 * time.Minute)
	newer, err := store.Create(ctx, "Newer", nil)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}

	clock.Advance(3 * time.Minute)
	chats, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(chats) != 1 {
		t.Fatalf("expected the lapsed chat to be purged, got %d chats", len(chats))
	}
	if chats[0].ID != newer.ID {
		t.Fatalf("expected %s, got %s", newer.ID, chats[0].ID)
	}
	if got, _ := store.Get(ctx, older.ID); got != nil {
		t.Fatalf("purged chat should stay absent")
	}
}

func TestGuestValidationRejectsBareUserMessage(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := newGuestUnderTest(clock)
	ctx := context.Background()

	created, err := store.Create(ctx, "New chat", nil)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	_, err = store.AppendMessage(ctx, created.ID, NewMessage{Type: chat.MessageUser})
	if !errorsx.HasReason(err, errorsx.ReasonValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestImportLegacyEnvelope(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: base}
	store := newGuestUnderTest(clock)
	ctx := context.Background()

	fresh := &chat.Chat{ID: "guest_fresh", Title: "Fresh", CreatedAt: base.Add(-time.Minute)}
	raw, err := json.Marshal(LegacyEnvelope{
		Chats:     []*chat.Chat{fresh, {ID: "guest_other", Title: "Other", CreatedAt: base.Add(-2 * time.Minute)}},
		Timestamp: base.Add(-5 * time.Minute).UnixMilli(),
	})
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	imported, err := store.ImportLegacyEnvelope(raw)
	if err != nil {
		t.Fatalf("import error: %v", err)
	}
	if imported != 2 {
		t.Fatalf("expected two imported chats, got %d", imported)
	}

	// The legacy write time governs expiry: five minutes consumed already.
	clock.Advance(4 * time.Minute)
	if got, _ := store.Get(ctx, "guest_fresh"); got == nil {
		t.Fatalf("imported chat should still be live at nine legacy minutes")
	}
	clock.Advance(2 * time.Minute)
	if got, _ := store.Get(ctx, "guest_fresh"); got != nil {
		t.Fatalf("imported chat should expire on the legacy timestamp")
	}
}

func TestGuestStoreConcurrentAppendsAndReads(t *testing.T) {
	store := NewGuestStore(GuestOptions{})
	ctx := context.Background()

	created, err := store.Create(ctx, "busy chat", nil)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}

	const writers, perWriter = 4, 25
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				if _, err := store.AppendMessage(ctx, created.ID, userMessage()); err != nil {
					t.Errorf("append error: %v", err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				if _, err := store.Get(ctx, created.ID); err != nil {
					t.Errorf("get error: %v", err)
					return
				}
				if _, err := store.List(ctx); err != nil {
					t.Errorf("list error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if len(got.Messages) != writers*perWriter {
		t.Fatalf("expected %d messages, got %d", writers*perWriter, len(got.Messages))
	}
	seen := make(map[string]bool, len(got.Messages))
	for _, m := range got.Messages {
		if seen[m.ID] {
			t.Fatalf("duplicate message id %s", m.ID)
		}
		seen[m.ID] = true
	}
}
