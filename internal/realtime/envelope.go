package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names a realtime event.
type EventType string

// Event kinds carried in the envelope.
const (
	EventChatRequest          EventType = "chat_request"
	EventChatAccepted         EventType = "chat_accepted"
	EventMessage              EventType = "message"
	EventVerificationRequired EventType = "verification_required"
	EventChatVerified         EventType = "chat_verified"
	EventChatCleared          EventType = "chat_cleared"
	EventDeleteRequested      EventType = "delete_requested"
	EventChatDeleted          EventType = "chat_deleted"
	EventChatDestroyed        EventType = "chat_destroyed"

	// EventError answers a malformed or unsupported inbound frame. It is sent
	// to the offending connection only.
	EventError EventType = "error"
)

// Envelope is the outbound frame. Timestamp is always set by the server.
type Envelope struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// InboundFrame is a client frame; Data is decoded according to Type.
type InboundFrame struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode marshals an envelope stamped with now in UTC.
func Encode(eventType EventType, data any, now time.Time) ([]byte, error) {
	b, err := json.Marshal(Envelope{Type: eventType, Data: data, Timestamp: now.UTC()})
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", eventType, err)
	}
	return b, nil
}

// DecodeInbound parses a client frame.
func DecodeInbound(raw []byte) (InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return InboundFrame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return InboundFrame{}, fmt.Errorf("decode frame: missing type")
	}
	return f, nil
}
