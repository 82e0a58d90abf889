package session

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/harunnryd/parlato/pkg/chat"
)

// DefaultReadTTL is how long a cached chat read stays fresh.
const DefaultReadTTL = 5 * time.Second

type cachedChat struct {
	chat     *chat.Chat
	storedAt time.Time
}

// CachedStore is a per-chat read-through cache in front of another Store.
// Every successful mutation invalidates its chat entry before returning, so
// a read after a write always sees the backend.
type CachedStore struct {
	backend Store
	cache   *gocache.Cache
	ttl     time.Duration
	clock   func() time.Time
}

// CacheOptions configures a cached store.
type CacheOptions struct {
	TTL   time.Duration
	Clock func() time.Time
}

// NewCachedStore wraps backend with a read cache.
func NewCachedStore(backend Store, opts CacheOptions) *CachedStore {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultReadTTL
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &CachedStore{
		backend: backend,
		cache:   gocache.New(gocache.NoExpiration, 0),
		ttl:     ttl,
		clock:   clock,
	}
}

// Get serves from cache within the TTL, otherwise fetches from the backend
// and re-primes. Absent chats are not cached.
func (s *CachedStore) Get(ctx context.Context, chatID string) (*chat.Chat, error) {
	if raw, ok := s.cache.Get(chatID); ok {
		entry := raw.(cachedChat)
		if s.clock().Sub(entry.storedAt) <= s.ttl {
			return entry.chat.Clone(), nil
		}
		s.cache.Delete(chatID)
	}
	c, err := s.backend.Get(ctx, chatID)
	if err != nil || c == nil {
		return c, err
	}
	s.cache.Set(chatID, cachedChat{chat: c.Clone(), storedAt: s.clock()}, gocache.NoExpiration)
	return c, nil
}

func (s *CachedStore) Create(ctx context.Context, title string, first *NewMessage) (*chat.Chat, error) {
	return s.backend.Create(ctx, title, first)
}

func (s *CachedStore) List(ctx context.Context) ([]*chat.Chat, error) {
	return s.backend.List(ctx)
}

func (s *CachedStore) AppendMessage(ctx context.Context, chatID string, msg NewMessage) (*chat.Message, error) {
	stored, err := s.backend.AppendMessage(ctx, chatID, msg)
	if err != nil {
		return nil, err
	}
	s.Invalidate(chatID)
	return stored, nil
}

func (s *CachedStore) Rename(ctx context.Context, chatID, title string) (*chat.Chat, error) {
	updated, err := s.backend.Rename(ctx, chatID, title)
	if err != nil {
		return nil, err
	}
	s.Invalidate(chatID)
	return updated, nil
}

func (s *CachedStore) Delete(ctx context.Context, chatID string) error {
	if err := s.backend.Delete(ctx, chatID); err != nil {
		return err
	}
	s.Invalidate(chatID)
	return nil
}

func (s *CachedStore) Clear(ctx context.Context) error {
	if err := s.backend.Clear(ctx); err != nil {
		return err
	}
	s.InvalidateAll()
	return nil
}

// Invalidate drops one chat's cached read.
func (s *CachedStore) Invalidate(chatID string) {
	s.cache.Delete(chatID)
}

// InvalidateAll drops every cached read.
func (s *CachedStore) InvalidateAll() {
	s.cache.Flush()
}

var _ Store = (*CachedStore)(nil)
