package session

import (
	"context"
	"testing"
	"time"

	"github.com/harunnryd/parlato/pkg/chat"
)

// countingStore tracks backend reads so cache behavior is observable.
type countingStore struct {
	*GuestStore
	gets int
}

func (c *countingStore) Get(ctx context.Context, chatID string) (*chat.Chat, error) {
	c.gets++
	return c.GuestStore.Get(ctx, chatID)
}

func TestCachedGetServesWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	backend := &countingStore{GuestStore: newGuestUnderTest(clock)}
	cached := NewCachedStore(backend, CacheOptions{Clock: clock.Now})
	ctx := context.Background()

	created, err := cached.Create(ctx, "New chat", nil)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}

	if _, err := cached.Get(ctx, created.ID); err != nil {
		t.Fatalf("get error: %v", err)
	}
	clock.Advance(4 * time.Second)
	if _, err := cached.Get(ctx, created.ID); err != nil {
		t.Fatalf("get error: %v", err)
	}
	if backend.gets != 1 {
		t.Fatalf("second read within TTL should come from cache, backend saw %d", backend.gets)
	}

	clock.Advance(2 * time.Second)
	if _, err := cached.Get(ctx, created.ID); err != nil {
		t.Fatalf("get error: %v", err)
	}
	if backend.gets != 2 {
		t.Fatalf("stale read should hit the backend, backend saw %d", backend.gets)
	}
}

func TestCachedAppendInvalidatesBeforeReturning(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	backend := &countingStore{GuestStore: newGuestUnderTest(clock)}
	cached := NewCachedStore(backend, CacheOptions{Clock: clock.Now})
	ctx := context.Background()

	created, err := cached.Create(ctx, "New chat", nil)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if _, err := cached.Get(ctx, created.ID); err != nil {
		t.Fatalf("get error: %v", err)
	}

	if _, err := cached.AppendMessage(ctx, created.ID, userMessage()); err != nil {
		t.Fatalf("append error: %v", err)
	}

	got, err := cached.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("read after append must see the new message, got %d", len(got.Messages))
	}
}

func TestCachedDeleteDropsEntry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	backend := &countingStore{GuestStore: newGuestUnderTest(clock)}
	cached := NewCachedStore(backend, CacheOptions{Clock: clock.Now})
	ctx := context.Background()

	created, err := cached.Create(ctx, "New chat", nil)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if _, err := cached.Get(ctx, created.ID); err != nil {
		t.Fatalf("get error: %v", err)
	}
	if err := cached.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete error: %v", err)
	}

	got, err := cached.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got != nil {
		t.Fatalf("deleted chat should be absent, not served from cache")
	}
}
