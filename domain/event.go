package domain

import (
	"encoding/json"
	"fmt"
)

// EventType discriminates the payload of a transport event.
type EventType string

const (
	EventMessage  EventType = "message"
	EventStatus   EventType = "status"
	EventTyping   EventType = "typing"
	EventReaction EventType = "reaction"
	EventError    EventType = "error"
)

// Event is the wire envelope exchanged with the messaging backend.
type Event struct {
	Type    EventType       `json:"type"`
	RoomID  string          `json:"roomId"`
	Payload json.RawMessage `json:"payload"`
}

type TypingPayload struct {
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

type StatusPayload struct {
	MessageID string        `json:"messageId"`
	Status    MessageStatus `json:"status"`
}

type ReactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	Username  string `json:"username"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// NewMessageEvent wraps a message for the wire.
func NewMessageEvent(m Message) (Event, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return Event{}, fmt.Errorf("marshal message payload: %w", err)
	}
	return Event{Type: EventMessage, RoomID: m.RoomID, Payload: payload}, nil
}

// NewTypingEvent wraps a typing indicator for the wire. The payload is
// small and static, so marshalling cannot fail.
func NewTypingEvent(roomID, username string, isTyping bool) Event {
	payload, _ := json.Marshal(TypingPayload{Username: username, IsTyping: isTyping})
	return Event{Type: EventTyping, RoomID: roomID, Payload: payload}
}

// MessagePayload decodes the payload of an EventMessage envelope.
func (e Event) MessagePayload() (Message, error) {
	var m Message
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return Message{}, fmt.Errorf("decode message payload: %w", err)
	}
	if m.RoomID == "" {
		m.RoomID = e.RoomID
	}
	return m, nil
}

// StatusUpdate decodes the payload of an EventStatus envelope.
func (e Event) StatusUpdate() (StatusPayload, error) {
	var p StatusPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return StatusPayload{}, fmt.Errorf("decode status payload: %w", err)
	}
	return p, nil
}

// ReactionUpdate decodes the payload of an EventReaction envelope.
func (e Event) ReactionUpdate() (ReactionPayload, error) {
	var p ReactionPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return ReactionPayload{}, fmt.Errorf("decode reaction payload: %w", err)
	}
	return p, nil
}

// ErrorText extracts the human-readable message of an EventError
// envelope, falling back to a generic text for malformed payloads.
func (e Event) ErrorText() string {
	var p ErrorPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil || p.Message == "" {
		return "server error"
	}
	return p.Message
}
