// Package domain contains core concepts of the chat system.
// This file defines the Identity acting on a connection.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"chat-relay/errors"
	"strconv"
)

type IdentityID int64

type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// Identity is an authenticated or anonymous actor on a connection.
// It is read-only to the chat core.
type Identity struct {
	ID          IdentityID `json:"id"`
	DisplayName string     `json:"display_name"`
	Status      Status     `json:"status"`
}

// Anonymous is returned by the resolver when no credential matches.
var Anonymous = Identity{ID: 0, DisplayName: "anonymous", Status: StatusOffline}

func (i Identity) IsAnonymous() bool {
	return i.ID <= 0
}

func (id IdentityID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseIdentityID accepts the decimal form used on the wire.
func ParseIdentityID(raw string) (IdentityID, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, errors.ErrInvalidIdentityID
	}
	return IdentityID(v), nil
}
