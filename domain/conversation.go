package domain

import (
	"chat-relay/errors"
	"fmt"
	"strings"
	"time"
)

// ConversationID is the canonical key of an unordered identity pair: "{min}_{max}".
type ConversationID string

// PrivateConversation is the unique 1:1 thread between two identities.
// UserA is always the smaller id.
type PrivateConversation struct {
	ID        ConversationID `json:"id"`
	UserA     IdentityID     `json:"user_a"`
	UserB     IdentityID     `json:"user_b"`
	CreatedAt time.Time      `json:"created_at"`
}

// PairKey orders the two ids so that (a,b) and (b,a) produce the same key.
func PairKey(a, b IdentityID) (ConversationID, error) {
	if a <= 0 || b <= 0 {
		return "", errors.ErrInvalidIdentityID
	}
	if a == b {
		return "", errors.ErrSelfConversation
	}
	if a > b {
		a, b = b, a
	}
	return ConversationID(fmt.Sprintf("%d_%d", a, b)), nil
}

// NewPrivateConversation builds the conversation for an unordered pair.
func NewPrivateConversation(a, b IdentityID, createdAt time.Time) (PrivateConversation, error) {
	id, err := PairKey(a, b)
	if err != nil {
		return PrivateConversation{}, err
	}
	if a > b {
		a, b = b, a
	}
	return PrivateConversation{ID: id, UserA: a, UserB: b, CreatedAt: createdAt}, nil
}

// ParseConversationID validates a key received from a path.
func ParseConversationID(raw string) (ConversationID, IdentityID, IdentityID, error) {
	left, right, ok := strings.Cut(raw, "_")
	if !ok {
		return "", 0, 0, errors.ErrInvalidPayload
	}
	a, err := ParseIdentityID(left)
	if err != nil {
		return "", 0, 0, err
	}
	b, err := ParseIdentityID(right)
	if err != nil {
		return "", 0, 0, err
	}
	id, err := PairKey(a, b)
	if err != nil {
		return "", 0, 0, err
	}
	if string(id) != raw {
		return "", 0, 0, errors.ErrInvalidPayload
	}
	return id, a, b, nil
}

func (c PrivateConversation) Has(id IdentityID) bool {
	return c.UserA == id || c.UserB == id
}

// Peer returns the other participant.
func (c PrivateConversation) Peer(id IdentityID) IdentityID {
	if c.UserA == id {
		return c.UserB
	}
	return c.UserA
}

// UnreadCounter tracks unseen messages for one owner in one conversation.
type UnreadCounter struct {
	Owner         IdentityID     `json:"owner"`
	Conversation  ConversationID `json:"conversation"`
	Count         int            `json:"count"`
	LastMessageID string         `json:"last_message_id,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
