// Package domain contains core concepts of the chat system.
// This file defines Message events and related rules.
// Messages are immutable except for the read flag of private messages.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind discriminates the two message variants.
type MessageKind string

const (
	KindRoom    MessageKind = "room"
	KindPrivate MessageKind = "private"
)

// RoomMessage is a message posted into a presence room.
type RoomMessage struct {
	ID           uuid.UUID  `json:"id"`
	Room         RoomName   `json:"room"`
	SenderID     IdentityID `json:"sender_id"`
	SenderName   string     `json:"sender_name"`
	Content      string     `json:"content"`
	AttachmentID string     `json:"attachment_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// PrivateMessage is a message inside a private conversation.
type PrivateMessage struct {
	ID              uuid.UUID      `json:"id"`
	Conversation    ConversationID `json:"conversation"`
	SenderID        IdentityID     `json:"sender_id"`
	RecipientID     IdentityID     `json:"recipient_id"`
	Content         string         `json:"content"`
	AttachmentID    string         `json:"attachment_id,omitempty"`
	ClientTimestamp string         `json:"client_timestamp,omitempty"`
	Read            bool           `json:"read"`
	CreatedAt       time.Time      `json:"created_at"`
}

// MessageRef points at a stored message of either kind.
// It is written next to the message at creation time so that later lookups
// never have to guess which variant an id belongs to.
type MessageRef struct {
	ID       uuid.UUID   `json:"id"`
	Kind     MessageKind `json:"kind"`
	SenderID IdentityID  `json:"sender_id"`
	Scope    string      `json:"scope"`
}

func (m RoomMessage) Ref() MessageRef {
	return MessageRef{ID: m.ID, Kind: KindRoom, SenderID: m.SenderID, Scope: string(m.Room)}
}

func (m PrivateMessage) Ref() MessageRef {
	return MessageRef{ID: m.ID, Kind: KindPrivate, SenderID: m.SenderID, Scope: string(m.Conversation)}
}
