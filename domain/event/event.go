// Package event defines the frames pushed to websocket subscribers.
// Every frame carries a "type" discriminator.
package event

import (
	"chat-relay/domain"
	"time"
)

type Type string

const (
	TypeUserList                   Type = "user_list"
	TypeUserJoin                   Type = "user_join"
	TypeUserLeave                  Type = "user_leave"
	TypeChatMessage                Type = "chat_message"
	TypePrivateMessageDelivered    Type = "private_message_delivered"
	TypePrivateMessageNotification Type = "private_message_notification"
	TypeUnreadCountUpdate          Type = "unread_count_update"
	TypeError                      Type = "error"
)

type DomainEvent interface {
	EventType() Type
}

type UserList struct {
	Type  Type              `json:"type"`
	Room  domain.RoomName   `json:"room"`
	Users []domain.Identity `json:"users"`
	Count int               `json:"count"`
}

func (e UserList) EventType() Type { return TypeUserList }

type UserJoin struct {
	Type  Type            `json:"type"`
	Room  domain.RoomName `json:"room"`
	User  domain.Identity `json:"user"`
	Count int             `json:"count"`
}

func (e UserJoin) EventType() Type { return TypeUserJoin }

type UserLeave struct {
	Type  Type            `json:"type"`
	Room  domain.RoomName `json:"room"`
	User  domain.Identity `json:"user"`
	Count int             `json:"count"`
}

func (e UserLeave) EventType() Type { return TypeUserLeave }

// ChatMessage is broadcast to a room or to a private conversation group.
type ChatMessage struct {
	Type         Type               `json:"type"`
	Kind         domain.MessageKind `json:"kind"`
	MessageID    string             `json:"message_id"`
	Scope        string             `json:"scope"`
	Sender       string             `json:"sender"`
	SenderID     domain.IdentityID  `json:"sender_id"`
	Message      string             `json:"message"`
	AttachmentID string             `json:"attachment_id,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
}

func (e ChatMessage) EventType() Type { return TypeChatMessage }

// PrivateMessageDelivered acknowledges a persisted private message to its sender.
type PrivateMessageDelivered struct {
	Type            Type                  `json:"type"`
	MessageID       string                `json:"message_id"`
	Conversation    domain.ConversationID `json:"conversation"`
	ClientTimestamp string                `json:"client_timestamp,omitempty"`
	Timestamp       time.Time             `json:"timestamp"`
}

func (e PrivateMessageDelivered) EventType() Type { return TypePrivateMessageDelivered }

// PrivateMessageNotification is the lighter event sent on the recipient's notification channel.
type PrivateMessageNotification struct {
	Type         Type                  `json:"type"`
	Conversation domain.ConversationID `json:"conversation"`
	MessageID    string                `json:"message_id"`
	SenderID     domain.IdentityID     `json:"sender_id"`
	Sender       string                `json:"sender"`
	Preview      string                `json:"preview"`
	UnreadCount  int                   `json:"unread_count"`
	Timestamp    time.Time             `json:"timestamp"`
}

func (e PrivateMessageNotification) EventType() Type { return TypePrivateMessageNotification }

type UnreadCountUpdate struct {
	Type         Type                  `json:"type"`
	Conversation domain.ConversationID `json:"conversation"`
	UnreadCount  int                   `json:"unread_count"`
}

func (e UnreadCountUpdate) EventType() Type { return TypeUnreadCountUpdate }

// Error is only ever sent to the connection that caused it.
type Error struct {
	Type    Type   `json:"type"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e Error) EventType() Type { return TypeError }

func NewUserList(room domain.RoomName, users []domain.Identity) UserList {
	return UserList{Type: TypeUserList, Room: room, Users: users, Count: len(users)}
}

func NewUserJoin(room domain.RoomName, user domain.Identity, count int) UserJoin {
	return UserJoin{Type: TypeUserJoin, Room: room, User: user, Count: count}
}

func NewUserLeave(room domain.RoomName, user domain.Identity, count int) UserLeave {
	return UserLeave{Type: TypeUserLeave, Room: room, User: user, Count: count}
}

func NewRoomChatMessage(m domain.RoomMessage) ChatMessage {
	return ChatMessage{
		Type:         TypeChatMessage,
		Kind:         domain.KindRoom,
		MessageID:    m.ID.String(),
		Scope:        string(m.Room),
		Sender:       m.SenderName,
		SenderID:     m.SenderID,
		Message:      m.Content,
		AttachmentID: m.AttachmentID,
		Timestamp:    m.CreatedAt,
	}
}

func NewPrivateChatMessage(m domain.PrivateMessage, senderName string) ChatMessage {
	return ChatMessage{
		Type:         TypeChatMessage,
		Kind:         domain.KindPrivate,
		MessageID:    m.ID.String(),
		Scope:        string(m.Conversation),
		Sender:       senderName,
		SenderID:     m.SenderID,
		Message:      m.Content,
		AttachmentID: m.AttachmentID,
		Timestamp:    m.CreatedAt,
	}
}

func NewPrivateMessageDelivered(m domain.PrivateMessage) PrivateMessageDelivered {
	return PrivateMessageDelivered{
		Type:            TypePrivateMessageDelivered,
		MessageID:       m.ID.String(),
		Conversation:    m.Conversation,
		ClientTimestamp: m.ClientTimestamp,
		Timestamp:       m.CreatedAt,
	}
}

const previewLength = 80

func NewPrivateMessageNotification(m domain.PrivateMessage, senderName string, unread int) PrivateMessageNotification {
	preview := []rune(m.Content)
	if len(preview) > previewLength {
		preview = append(preview[:previewLength], '…')
	}
	return PrivateMessageNotification{
		Type:         TypePrivateMessageNotification,
		Conversation: m.Conversation,
		MessageID:    m.ID.String(),
		SenderID:     m.SenderID,
		Sender:       senderName,
		Preview:      string(preview),
		UnreadCount:  unread,
		Timestamp:    m.CreatedAt,
	}
}

func NewUnreadCountUpdate(c domain.UnreadCounter) UnreadCountUpdate {
	return UnreadCountUpdate{Type: TypeUnreadCountUpdate, Conversation: c.Conversation, UnreadCount: c.Count}
}

func NewError(code int, message string) Error {
	return Error{Type: TypeError, Code: code, Message: message}
}
