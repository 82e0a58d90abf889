package chat

import (
	"encoding/json"
	"testing"
)

func TestParseMessageTypeAcceptsLegacyCasing(t *testing.T) {
	cases := map[string]MessageType{
		"USER":          MessageUser,
		"user":          MessageUser,
		"transcription": MessageTranscription,
		"TRANSCRIPTION": MessageTranscription,
		" Assistant ":   MessageAssistant,
	}
	for in, want := range cases {
		got, err := ParseMessageType(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %s, want %s", in, got, want)
		}
	}
}

func TestParseMessageTypeRejectsUnknown(t *testing.T) {
	if _, err := ParseMessageType("system"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestMessageTypeUnmarshalLegacyPayload(t *testing.T) {
	var msg Message
	payload := []byte(`{"id":"m1","type":"transcription","content":"ciao"}`)
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != MessageTranscription {
		t.Fatalf("expected canonical TRANSCRIPTION, got %s", msg.Type)
	}
}

func TestCloneDoesNotAliasMessages(t *testing.T) {
	c := &Chat{ID: NewID(), Messages: []Message{{ID: "m1", Type: MessageUser}}}
	clone := c.Clone()
	clone.Messages[0].Content = "mutated"
	if c.Messages[0].Content == "mutated" {
		t.Fatalf("clone aliases the original message slice")
	}
}
