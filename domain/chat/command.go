package chat

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate runs the struct tags of a command and folds failures into ErrInvalidPayload.
func Validate(cmd any) error {
	if err := validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	return nil
}

// RoomFrame is the inbound frame on a room socket.
type RoomFrame struct {
	Message      string `json:"message" validate:"required,max=4000"`
	AttachmentID string `json:"attachment_id" validate:"omitempty,uuid"`
}

type PostRoomMessageCommand struct {
	Room         domain.RoomName
	Sender       domain.Identity
	Content      string `validate:"required,max=4000"`
	AttachmentID string `validate:"omitempty,uuid"`
}

// PrivateFrame is the inbound frame on a private conversation socket.
// user1 and user2 arrive as strings or numbers depending on the client; both are parsed.
type PrivateFrame struct {
	Type         string     `json:"type" validate:"omitempty,oneof=message read"`
	Message      string     `json:"message" validate:"required_unless=Type read,max=4000"`
	Timestamp    string     `json:"timestamp" validate:"max=64"`
	User1        FlexibleID `json:"user1"`
	User2        FlexibleID `json:"user2"`
	AttachmentID string     `json:"attachment_id" validate:"omitempty,uuid"`
}

func (f PrivateFrame) IsReadAck() bool {
	return f.Type == "read"
}

type SendPrivateMessageCommand struct {
	Sender          domain.Identity
	User1           domain.IdentityID `validate:"gt=0"`
	User2           domain.IdentityID `validate:"gt=0,nefield=User1"`
	Content         string            `validate:"required,max=4000"`
	ClientTimestamp string            `validate:"max=64"`
	AttachmentID    string            `validate:"omitempty,uuid"`
}

type MarkReadCommand struct {
	Reader       domain.Identity
	Conversation domain.ConversationID `validate:"required"`
}

type UploadChunkCommand struct {
	Owner       domain.Identity
	UploadID    string `json:"upload_id" validate:"required,max=128,excludesall=/\\:"`
	ChunkIndex  int    `json:"chunk_index" validate:"gte=0"`
	TotalChunks int    `json:"total_chunks" validate:"gt=0"`
	FileName    string `json:"file_name" validate:"required,max=255"`
	MediaType   string `json:"media_type" validate:"max=128"`
	ChunkData   []byte `json:"-" validate:"required"`
}

type FinalizeUploadCommand struct {
	Owner     domain.Identity
	UploadID  string `json:"upload_id" validate:"required,max=128"`
	RoomID    string `json:"room_id" validate:"required,max=128"`
	MessageID string `json:"message_id" validate:"omitempty,uuid"`
	IsPublic  bool   `json:"is_public"`
}

// FlexibleID accepts an identity id encoded as a JSON number or string.
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	*f = FlexibleID(strings.Trim(string(data), `"`))
	return nil
}

// Identity parses the id; missing or non-numeric values are validation errors.
func (f FlexibleID) Identity() (domain.IdentityID, error) {
	return domain.ParseIdentityID(string(f))
}
