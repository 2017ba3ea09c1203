package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/chat"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type IChatService interface {
	JoinRoom(ctx context.Context, room domain.RoomName, connID string, identity domain.Identity, sink contract.EventSink) (int, error)
	LeaveRoom(ctx context.Context, room domain.RoomName, connID string)
	PostMessage(ctx context.Context, cmd chat.PostRoomMessageCommand) (domain.RoomMessage, error)
	GetMessages(ctx context.Context, room domain.RoomName, cursor *string) ([]domain.RoomMessage, *string, error)
}

type Presence interface {
	Join(ctx context.Context, name domain.RoomName, connID string, identity domain.Identity, sink contract.EventSink) (int, error)
	Leave(ctx context.Context, name domain.RoomName, connID string)
	Roster(name domain.RoomName) []domain.Identity
}

type RoomMessageStore interface {
	StoreMessage(ctx context.Context, message domain.RoomMessage) error
	GetMessages(ctx context.Context, room domain.RoomName, cursor *string) ([]domain.RoomMessage, *string, error)
}

// AttachmentLinker validates and records attachment references carried by messages.
type AttachmentLinker interface {
	Authorize(ctx context.Context, sender domain.IdentityID, id string) error
	Link(ctx context.Context, id string, ref domain.MessageRef) error
}

// ContentFilter masks blocked words in message text.
type ContentFilter interface {
	Censor(text string) (string, []string)
}

type ChatService struct {
	presence    Presence
	rooms       contract.Broadcaster
	messages    RoomMessageStore
	attachments AttachmentLinker
	filter      ContentFilter
	metrics     *observability.Metrics
	log         *slog.Logger
	now         func() time.Time
}

func NewChatService(log *slog.Logger, presence Presence, rooms contract.Broadcaster, messages RoomMessageStore,
	attachments AttachmentLinker, filter ContentFilter, metrics *observability.Metrics) *ChatService {
	return &ChatService{
		presence:    presence,
		rooms:       rooms,
		messages:    messages,
		attachments: attachments,
		filter:      filter,
		metrics:     metrics,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// JoinRoom returns the number of identities online in the room after the join.
func (s *ChatService) JoinRoom(ctx context.Context, room domain.RoomName, connID string, identity domain.Identity, sink contract.EventSink) (int, error) {
	count, err := s.presence.Join(ctx, room, connID, identity, sink)
	if err != nil {
		return 0, err
	}
	s.log.Debug("Joined room", "room", room, "identity", identity.ID, "conn", connID, "online", count)
	return count, nil
}

func (s *ChatService) LeaveRoom(ctx context.Context, room domain.RoomName, connID string) {
	s.presence.Leave(ctx, room, connID)
	s.log.Debug("Left room", "room", room, "conn", connID)
}

// PostMessage persists the message, then broadcasts it to the room.
// Nothing is broadcast when persistence fails.
func (s *ChatService) PostMessage(ctx context.Context, cmd chat.PostRoomMessageCommand) (domain.RoomMessage, error) {
	if cmd.Sender.IsAnonymous() {
		return domain.RoomMessage{}, errors.ErrAnonymous
	}
	if err := chat.Validate(cmd); err != nil {
		return domain.RoomMessage{}, err
	}
	if cmd.AttachmentID != "" {
		if err := s.attachments.Authorize(ctx, cmd.Sender.ID, cmd.AttachmentID); err != nil {
			return domain.RoomMessage{}, err
		}
	}

	content, masked := s.filter.Censor(cmd.Content)
	if len(masked) > 0 {
		s.log.Info("Message content masked", "room", cmd.Room, "sender", cmd.Sender.ID, "words", len(masked))
	}
	message := domain.RoomMessage{
		ID:           uuid.New(),
		Room:         cmd.Room,
		SenderID:     cmd.Sender.ID,
		SenderName:   cmd.Sender.DisplayName,
		Content:      content,
		AttachmentID: cmd.AttachmentID,
		CreatedAt:    s.now(),
	}
	if err := s.messages.StoreMessage(ctx, message); err != nil {
		return domain.RoomMessage{}, err
	}
	s.metrics.MessageStored(ctx, string(domain.KindRoom))

	if message.AttachmentID != "" {
		if err := s.attachments.Link(ctx, message.AttachmentID, message.Ref()); err != nil {
			s.log.Warn("Attachment link failed", "attachment_id", message.AttachmentID, "error", err)
		}
	}

	s.rooms.Broadcast(ctx, message.Room, event.NewRoomChatMessage(message))
	return message, nil
}

func (s *ChatService) GetMessages(ctx context.Context, room domain.RoomName, cursor *string) ([]domain.RoomMessage, *string, error) {
	return s.messages.GetMessages(ctx, room, cursor)
}

// Roster lists who is in a room right now.
func (s *ChatService) Roster(room domain.RoomName) []domain.Identity {
	return s.presence.Roster(room)
}
