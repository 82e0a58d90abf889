package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/harunnryd/parlato/pkg/chat"
	"github.com/harunnryd/parlato/pkg/errorsx"
)

// DefaultGuestTTL is how long a guest chat survives after its last write.
const DefaultGuestTTL = 10 * time.Minute

const guestKeyPrefix = "guest-chat:"

// GuestEnvelope wraps one stored chat with its last-write timestamp. The
// timestamp, not the cache library's expiry, is the authority: expiry is
// checked against an injectable clock so it can be tested without sleeping.
type GuestEnvelope struct {
	Chat     *chat.Chat `json:"chat"`
	StoredAt time.Time  `json:"storedAt"`
}

// LegacyEnvelope is the single-blob layout older clients stored: every chat
// in one envelope under one shared timestamp, in milliseconds.
type LegacyEnvelope struct {
	Chats     []*chat.Chat `json:"chats"`
	Timestamp int64        `json:"timestamp"`
}

// GuestStore keeps chats in process memory with a rolling TTL. Audio for
// guest messages stays in memory too, addressed by mem:// paths.
type GuestStore struct {
	cache *gocache.Cache
	ttl   time.Duration
	clock func() time.Time

	// mu serializes every envelope read and mutation: the cache only
	// guards its own map, not the chats stored inside the envelopes.
	mu    sync.Mutex
	audio map[string]Audio
}

// GuestOptions configures a guest store.
type GuestOptions struct {
	TTL   time.Duration
	Clock func() time.Time
}

// NewGuestStore builds an empty guest store.
func NewGuestStore(opts GuestOptions) *GuestStore {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultGuestTTL
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &GuestStore{
		cache: gocache.New(gocache.NoExpiration, 0),
		ttl:   ttl,
		clock: clock,
		audio: make(map[string]Audio),
	}
}

func guestKey(chatID string) string { return guestKeyPrefix + chatID }

// envelope returns the live envelope for chatID, purging it when expired.
// Callers hold g.mu.
func (g *GuestStore) envelope(chatID string) (*GuestEnvelope, bool) {
	raw, ok := g.cache.Get(guestKey(chatID))
	if !ok {
		return nil, false
	}
	env := raw.(*GuestEnvelope)
	if g.clock().Sub(env.StoredAt) > g.ttl {
		g.cache.Delete(guestKey(chatID))
		g.dropAudioLocked(chatID)
		return nil, false
	}
	return env, true
}

// put stamps and stores the envelope. Callers hold g.mu.
func (g *GuestStore) put(env *GuestEnvelope) {
	env.StoredAt = g.clock()
	g.cache.Set(guestKey(env.Chat.ID), env, gocache.NoExpiration)
}

func (g *GuestStore) Create(ctx context.Context, title string, first *NewMessage) (*chat.Chat, error) {
	if first != nil {
		if err := first.Validate(); err != nil {
			return nil, err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock()
	c := &chat.Chat{
		ID:        chat.NewGuestID(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	g.put(&GuestEnvelope{Chat: c})
	if first != nil {
		if _, err := g.appendLocked(c.ID, *first); err != nil {
			g.cache.Delete(guestKey(c.ID))
			return nil, err
		}
	}
	return c.Clone(), nil
}

func (g *GuestStore) Get(ctx context.Context, chatID string) (*chat.Chat, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	env, ok := g.envelope(chatID)
	if !ok {
		return nil, nil
	}
	return env.Chat.Clone(), nil
}

// List returns live chats newest-first, purging any expired entries it
// walks over.
func (g *GuestStore) List(ctx context.Context) ([]*chat.Chat, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*chat.Chat
	for key := range g.cache.Items() {
		chatID := strings.TrimPrefix(key, guestKeyPrefix)
		env, ok := g.envelope(chatID)
		if !ok {
			continue
		}
		out = append(out, env.Chat.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (g *GuestStore) AppendMessage(ctx context.Context, chatID string, msg NewMessage) (*chat.Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.appendLocked(chatID, msg)
}

// appendLocked does the envelope fetch, expiry check, and append. Callers
// hold g.mu and have validated msg.
func (g *GuestStore) appendLocked(chatID string, msg NewMessage) (*chat.Message, error) {
	raw, present := g.cache.Get(guestKey(chatID))
	if !present {
		return nil, errorsx.New(errorsx.ReasonNotFound, "chat %s not found", chatID)
	}
	env := raw.(*GuestEnvelope)
	if g.clock().Sub(env.StoredAt) > g.ttl {
		g.cache.Delete(guestKey(chatID))
		g.dropAudioLocked(chatID)
		return nil, errorsx.New(errorsx.ReasonSessionExpired, "guest chat %s has expired", chatID)
	}

	now := g.clock()
	stored := &chat.Message{
		ID:        chat.NewMessageID(),
		Type:      msg.Type,
		Content:   msg.Content,
		ModelName: msg.ModelName,
		CreatedAt: now,
	}
	if msg.Audio != nil {
		path := fmt.Sprintf("mem://%s/%s", chatID, stored.ID)
		g.audio[path] = *msg.Audio
		stored.AudioName = msg.Audio.Name
		stored.AudioSize = int64(len(msg.Audio.Data))
		stored.AudioPath = path
	}

	env.Chat.Messages = append(env.Chat.Messages, *stored)
	env.Chat.UpdatedAt = now
	g.put(env)
	return stored, nil
}

func (g *GuestStore) Rename(ctx context.Context, chatID, title string) (*chat.Chat, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	env, ok := g.envelope(chatID)
	if !ok {
		return nil, errorsx.New(errorsx.ReasonNotFound, "chat %s not found", chatID)
	}
	env.Chat.Title = title
	env.Chat.UpdatedAt = g.clock()
	g.put(env)
	return env.Chat.Clone(), nil
}

func (g *GuestStore) Delete(ctx context.Context, chatID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.envelope(chatID); !ok {
		return errorsx.New(errorsx.ReasonNotFound, "chat %s not found", chatID)
	}
	g.cache.Delete(guestKey(chatID))
	g.dropAudioLocked(chatID)
	return nil
}

func (g *GuestStore) Clear(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache.Flush()
	g.audio = make(map[string]Audio)
	return nil
}

// LoadAudio resolves a mem:// path stored by AppendMessage.
func (g *GuestStore) LoadAudio(ctx context.Context, audioPath string) ([]byte, string, error) {
	g.mu.Lock()
	clip, ok := g.audio[audioPath]
	g.mu.Unlock()
	if !ok {
		return nil, "", errorsx.New(errorsx.ReasonNotFound, "audio %s not found", audioPath)
	}
	return clip.Data, clip.MIME, nil
}

// dropAudioLocked removes all clips stored for chatID. Callers hold g.mu.
func (g *GuestStore) dropAudioLocked(chatID string) {
	prefix := "mem://" + chatID + "/"
	for path := range g.audio {
		if strings.HasPrefix(path, prefix) {
			delete(g.audio, path)
		}
	}
}

// ImportLegacyEnvelope migrates the old single-blob layout into per-chat
// entries. The legacy write timestamp is preserved so already-stale chats
// expire instead of gaining a fresh TTL.
func (g *GuestStore) ImportLegacyEnvelope(raw []byte) (int, error) {
	var legacy LegacyEnvelope
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return 0, errorsx.Wrap(fmt.Errorf("decode legacy guest envelope: %w", err), errorsx.ReasonValidation)
	}
	storedAt := time.UnixMilli(legacy.Timestamp)
	g.mu.Lock()
	defer g.mu.Unlock()
	imported := 0
	for _, c := range legacy.Chats {
		if c == nil || c.ID == "" {
			continue
		}
		if _, exists := g.envelope(c.ID); exists {
			continue
		}
		g.cache.Set(guestKey(c.ID), &GuestEnvelope{Chat: c.Clone(), StoredAt: storedAt}, gocache.NoExpiration)
		imported++
	}
	return imported, nil
}

var (
	_ Store       = (*GuestStore)(nil)
	_ AudioLoader = (*GuestStore)(nil)
)
