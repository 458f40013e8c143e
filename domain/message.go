// Package domain contains core concepts of the PAO chat client.
// Messages carry an immutable identity and a mutable delivery status.
package domain

import (
	"time"
)

// MessageStatus is the delivery state of a message on this device.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusError     MessageStatus = "error"
)

// MessageType tags the payload carried by a message.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeAudio    MessageType = "audio"
	TypeDocument MessageType = "document"
	TypeEmoji    MessageType = "emoji"
)

// Sender references the author of a message. The identity is owned by
// the account subsystem, not by this one.
type Sender struct {
	Username      string `json:"username"`
	WalletAddress string `json:"walletAddress"`
}

type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Metadata is the per-type variant of a message. Known fields cover the
// attachment types; Extra is the forward-compatible escape hatch for
// fields this client does not know about yet. ErrorMessage is set iff
// the message is in StatusError.
type Metadata struct {
	FileName      string            `json:"fileName,omitempty"`
	FileSize      int64             `json:"fileSize,omitempty"`
	MimeType      string            `json:"mimeType,omitempty"`
	Duration      float64           `json:"duration,omitempty"`
	Dimensions    *Dimensions       `json:"dimensions,omitempty"`
	AttachmentURL string            `json:"attachmentUrl,omitempty"`
	ThumbnailURL  string            `json:"thumbnailUrl,omitempty"`
	ErrorMessage  string            `json:"errorMessage,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// ReplyRef points at the message being replied to.
type ReplyRef struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Sender  string `json:"sender"`
}

// Reaction groups the users who reacted with one emoji.
type Reaction struct {
	Emoji string   `json:"emoji"`
	Users []string `json:"users"`
}

// Message is a chat event as stored on this device. ID never changes
// after creation and is stable across retries of the same send.
type Message struct {
	ID        string        `json:"id"`
	RoomID    string        `json:"roomId"`
	Sender    Sender        `json:"sender"`
	Type      MessageType   `json:"type"`
	Content   string        `json:"content"`
	At        time.Time     `json:"at"`
	Status    MessageStatus `json:"status"`
	Metadata  Metadata      `json:"metadata"`
	Reactions []Reaction    `json:"reactions,omitempty"`
	ReplyTo   *ReplyRef     `json:"replyTo,omitempty"`
	EditedAt  *time.Time    `json:"editedAt,omitempty"`
	DeletedAt *time.Time    `json:"deletedAt,omitempty"`
}

// Deleted reports whether the message has been soft-deleted locally.
// Deleted messages stay on disk but are excluded from listings.
func (m Message) Deleted() bool {
	return m.DeletedAt != nil
}

// ToggleReaction flips the membership of username in the emoji's user
// list and prunes empty reactions. Toggling twice is a no-op.
func (m *Message) ToggleReaction(emoji, username string) {
	for i := range m.Reactions {
		if m.Reactions[i].Emoji != emoji {
			continue
		}
		users := m.Reactions[i].Users
		for j, u := range users {
			if u == username {
				m.Reactions[i].Users = append(users[:j], users[j+1:]...)
				if len(m.Reactions[i].Users) == 0 {
					m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
				}
				return
			}
		}
		m.Reactions[i].Users = append(users, username)
		return
	}
	m.Reactions = append(m.Reactions, Reaction{Emoji: emoji, Users: []string{username}})
}

// SendRequest is what a caller hands to the message service. ID may be
// preset to retry a previously failed message; when empty the service
// generates one.
type SendRequest struct {
	ID       string      `json:"id,omitempty"`
	RoomID   string      `json:"roomId" validate:"required"`
	Sender   Sender      `json:"sender"`
	Type     MessageType `json:"type"`
	Content  string      `json:"content" validate:"required"`
	Metadata Metadata    `json:"metadata"`
	ReplyTo  *ReplyRef   `json:"replyTo,omitempty"`
}

// ToMessage materializes the request as a message in StatusSending.
func (r SendRequest) ToMessage(id string, at time.Time) Message {
	msgType := r.Type
	if msgType == "" {
		msgType = TypeText
	}
	return Message{
		ID:       id,
		RoomID:   r.RoomID,
		Sender:   r.Sender,
		Type:     msgType,
		Content:  r.Content,
		At:       at,
		Status:   StatusSending,
		Metadata: r.Metadata,
		ReplyTo:  r.ReplyTo,
	}
}

// RequestFrom rebuilds a send request out of a stored message, keeping
// the same identity. Error remnants are stripped so a resend starts
// clean.
func RequestFrom(m Message) SendRequest {
	metadata := m.Metadata
	metadata.ErrorMessage = ""
	return SendRequest{
		ID:       m.ID,
		RoomID:   m.RoomID,
		Sender:   m.Sender,
		Type:     m.Type,
		Content:  m.Content,
		Metadata: metadata,
		ReplyTo:  m.ReplyTo,
	}
}
