package domain

import (
	"chat-relay/errors"
	"regexp"
)

// RoomName identifies a presence room. Rooms are created on first reference.
type RoomName string

var roomNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,100}$`)

func ParseRoomName(raw string) (RoomName, error) {
	if !roomNamePattern.MatchString(raw) {
		return "", errors.ErrInvalidPayload
	}
	return RoomName(raw), nil
}

// PrivateGroup is the broadcast group name of a private conversation.
// The colon cannot appear in a parsed room name, so clients cannot join it as a room.
func PrivateGroup(id ConversationID) RoomName {
	return RoomName("private:" + string(id))
}
