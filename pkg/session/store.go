// Package session owns chat persistence. Two backends implement the same
// Store contract: an in-memory guest store with a rolling TTL and a remote
// HTTP store for authenticated sessions, plus a read-through cache that can
// wrap either.
package session

import (
	"context"

	"github.com/harunnryd/parlato/pkg/chat"
	"github.com/harunnryd/parlato/pkg/errorsx"
)

// Audio is an uploaded clip attached to a USER message.
type Audio struct {
	Name string
	Data []byte
	MIME string
}

// NewMessage is the input for appending one message to a chat.
type NewMessage struct {
	Type      chat.MessageType
	Content   string
	ModelName string
	Audio     *Audio
}

// Validate enforces the per-type required fields before any backend work.
func (m NewMessage) Validate() error {
	if !m.Type.Valid() {
		return errorsx.New(errorsx.ReasonValidation, "unknown message type %q", string(m.Type))
	}
	switch m.Type {
	case chat.MessageUser:
		if m.Audio == nil || len(m.Audio.Data) == 0 {
			return errorsx.New(errorsx.ReasonValidation, "user message requires an audio clip")
		}
		if m.ModelName == "" {
			return errorsx.New(errorsx.ReasonValidation, "user message requires a model name")
		}
	case chat.MessageTranscription:
		if m.Content == "" {
			return errorsx.New(errorsx.ReasonValidation, "transcription message requires content")
		}
		if m.ModelName == "" {
			return errorsx.New(errorsx.ReasonValidation, "transcription message requires a model name")
		}
	case chat.MessageAssistant:
		if m.Content == "" {
			return errorsx.New(errorsx.ReasonValidation, "assistant message requires content")
		}
	}
	return nil
}

// Store is the chat persistence contract. Get returns (nil, nil) for an
// absent chat; mutations on an absent chat fail with a not_found reason.
type Store interface {
	Create(ctx context.Context, title string, first *NewMessage) (*chat.Chat, error)
	Get(ctx context.Context, chatID string) (*chat.Chat, error)
	List(ctx context.Context) ([]*chat.Chat, error)
	AppendMessage(ctx context.Context, chatID string, msg NewMessage) (*chat.Message, error)
	Rename(ctx context.Context, chatID, title string) (*chat.Chat, error)
	Delete(ctx context.Context, chatID string) error
	Clear(ctx context.Context) error
}

// AudioLoader retrieves the stored bytes behind a message's audio path.
type AudioLoader interface {
	LoadAudio(ctx context.Context, audioPath string) (data []byte, mime string, err error)
}
