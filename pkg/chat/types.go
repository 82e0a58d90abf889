package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType tags the role of a message inside a chat.
type MessageType string

const (
	MessageUser          MessageType = "USER"
	MessageTranscription MessageType = "TRANSCRIPTION"
	MessageAssistant     MessageType = "ASSISTANT"
)

// ParseMessageType normalizes a wire value to the canonical upper-case form.
// Legacy producers emit lower-case variants ("user", "transcription"); both
// spellings decode to the same type.
func ParseMessageType(v string) (MessageType, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "USER":
		return MessageUser, nil
	case "TRANSCRIPTION":
		return MessageTranscription, nil
	case "ASSISTANT":
		return MessageAssistant, nil
	default:
		return "", fmt.Errorf("unknown message type: %q", v)
	}
}

func (t MessageType) Valid() bool {
	switch t {
	case MessageUser, MessageTranscription, MessageAssistant:
		return true
	}
	return false
}

// UnmarshalJSON accepts any casing on the wire.
func (t *MessageType) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseMessageType(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Message is one entry in a chat. Messages are immutable once created; the
// only mutation a chat ever sees is an append.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	AudioName string      `json:"audioName,omitempty"`
	AudioSize int64       `json:"audioSize,omitempty"`
	AudioPath string      `json:"audioPath,omitempty"`
	ModelName string      `json:"modelName,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Chat is one transcription session. Messages are ordered ascending by
// creation time; backends preserve insertion order on every read.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `json:"messages"`
}

// NewID returns an identifier for a durable chat.
func NewID() string {
	return uuid.NewString()
}

// NewGuestID returns an identifier for an ephemeral guest chat. The prefix
// lets callers and storage keys distinguish guest sessions at a glance.
func NewGuestID() string {
	return "guest_" + uuid.NewString()
}

// NewMessageID returns an identifier for a message.
func NewMessageID() string {
	return uuid.NewString()
}

// LastMessage returns the newest message or nil when the chat is empty.
func (c *Chat) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// Clone returns a deep copy so cached chats can be handed out without
// aliasing the stored message slice.
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return &out
}
