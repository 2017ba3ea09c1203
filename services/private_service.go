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

type PrivateMessageStore interface {
	Send(ctx context.Context, message domain.PrivateMessage) (domain.UnreadCounter, error)
	MarkRead(ctx context.Context, reader domain.IdentityID, id domain.ConversationID, now time.Time) (domain.UnreadCounter, error)
	UnreadCounters(ctx context.Context, owner domain.IdentityID) ([]domain.UnreadCounter, error)
	GetMessages(ctx context.Context, id domain.ConversationID, cursor *string) ([]domain.PrivateMessage, *string, error)
}

// PrivateService runs 1:1 conversations: persistence with unread counters,
// delivery to the conversation group and notification of the recipient.
type PrivateService struct {
	identities  contract.IdentityStore
	messages    PrivateMessageStore
	groups      contract.Broadcaster
	notifier    contract.Notifier
	attachments AttachmentLinker
	filter      ContentFilter
	metrics     *observability.Metrics
	log         *slog.Logger
	now         func() time.Time
}

func NewPrivateService(log *slog.Logger, identities contract.IdentityStore, messages PrivateMessageStore,
	groups contract.Broadcaster, notifier contract.Notifier, attachments AttachmentLinker,
	filter ContentFilter, metrics *observability.Metrics) *PrivateService {
	return &PrivateService{
		identities:  identities,
		messages:    messages,
		groups:      groups,
		notifier:    notifier,
		attachments: attachments,
		filter:      filter,
		metrics:     metrics,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Open checks that caller may use the conversation named raw and that the peer exists.
// Foreign conversations are reported as not found.
func (s *PrivateService) Open(ctx context.Context, caller domain.Identity, raw string) (domain.PrivateConversation, error) {
	if caller.IsAnonymous() {
		return domain.PrivateConversation{}, errors.ErrAnonymous
	}
	_, a, b, err := domain.ParseConversationID(raw)
	if err != nil {
		return domain.PrivateConversation{}, err
	}
	conversation, err := domain.NewPrivateConversation(a, b, s.now())
	if err != nil {
		return domain.PrivateConversation{}, err
	}
	if !conversation.Has(caller.ID) {
		return domain.PrivateConversation{}, errors.ErrNotParticipant
	}
	if _, err := s.identity(ctx, conversation.Peer(caller.ID)); err != nil {
		return domain.PrivateConversation{}, err
	}
	return conversation, nil
}

// Send persists a private message and bumps the recipient's unread counter
// atomically, then publishes it. The returned message is what the sender's
// delivery acknowledgement carries.
func (s *PrivateService) Send(ctx context.Context, cmd chat.SendPrivateMessageCommand) (domain.PrivateMessage, error) {
	if cmd.Sender.IsAnonymous() {
		return domain.PrivateMessage{}, errors.ErrAnonymous
	}
	if err := chat.Validate(cmd); err != nil {
		return domain.PrivateMessage{}, err
	}
	var recipientID domain.IdentityID
	switch cmd.Sender.ID {
	case cmd.User1:
		recipientID = cmd.User2
	case cmd.User2:
		recipientID = cmd.User1
	default:
		return domain.PrivateMessage{}, errors.ErrNotParticipant
	}
	if _, err := s.identity(ctx, recipientID); err != nil {
		return domain.PrivateMessage{}, err
	}
	conversationID, err := domain.PairKey(cmd.User1, cmd.User2)
	if err != nil {
		return domain.PrivateMessage{}, err
	}
	if cmd.AttachmentID != "" {
		if err := s.attachments.Authorize(ctx, cmd.Sender.ID, cmd.AttachmentID); err != nil {
			return domain.PrivateMessage{}, err
		}
	}

	content, masked := s.filter.Censor(cmd.Content)
	if len(masked) > 0 {
		s.log.Info("Message content masked", "conversation", conversationID, "sender", cmd.Sender.ID, "words", len(masked))
	}
	message := domain.PrivateMessage{
		ID:              uuid.New(),
		Conversation:    conversationID,
		SenderID:        cmd.Sender.ID,
		RecipientID:     recipientID,
		Content:         content,
		AttachmentID:    cmd.AttachmentID,
		ClientTimestamp: cmd.ClientTimestamp,
		CreatedAt:       s.now(),
	}
	counter, err := s.messages.Send(ctx, message)
	if err != nil {
		return domain.PrivateMessage{}, err
	}
	s.metrics.MessageStored(ctx, string(domain.KindPrivate))

	if message.AttachmentID != "" {
		if err := s.attachments.Link(ctx, message.AttachmentID, message.Ref()); err != nil {
			s.log.Warn("Attachment link failed", "attachment_id", message.AttachmentID, "error", err)
		}
	}

	s.groups.Broadcast(ctx, domain.PrivateGroup(conversationID), event.NewPrivateChatMessage(message, cmd.Sender.DisplayName))
	s.notifier.Notify(ctx, recipientID, event.NewPrivateMessageNotification(message, cmd.Sender.DisplayName, counter.Count))
	return message, nil
}

// MarkRead zeroes the reader's counter and tells the reader's other connections.
func (s *PrivateService) MarkRead(ctx context.Context, cmd chat.MarkReadCommand) (domain.UnreadCounter, error) {
	if cmd.Reader.IsAnonymous() {
		return domain.UnreadCounter{}, errors.ErrAnonymous
	}
	if err := chat.Validate(cmd); err != nil {
		return domain.UnreadCounter{}, err
	}
	counter, err := s.messages.MarkRead(ctx, cmd.Reader.ID, cmd.Conversation, s.now())
	if err != nil {
		return domain.UnreadCounter{}, err
	}
	s.notifier.Notify(ctx, cmd.Reader.ID, event.NewUnreadCountUpdate(counter))
	return counter, nil
}

func (s *PrivateService) UnreadCounters(ctx context.Context, owner domain.Identity) ([]domain.UnreadCounter, error) {
	if owner.IsAnonymous() {
		return nil, errors.ErrAnonymous
	}
	return s.messages.UnreadCounters(ctx, owner.ID)
}

// History pages a conversation newest first, for its participants only.
func (s *PrivateService) History(ctx context.Context, caller domain.Identity, raw string, cursor *string) ([]domain.PrivateMessage, *string, error) {
	conversation, err := s.Open(ctx, caller, raw)
	if err != nil {
		return nil, nil, err
	}
	return s.messages.GetMessages(ctx, conversation.ID, cursor)
}

func (s *PrivateService) identity(ctx context.Context, id domain.IdentityID) (domain.Identity, error) {
	identity, ok, err := s.identities.LookupByID(ctx, id)
	if err != nil {
		return domain.Identity{}, errors.Transient("lookup identity", err)
	}
	if !ok {
		return domain.Identity{}, errors.ErrIdentityNotFound
	}
	return identity, nil
}
