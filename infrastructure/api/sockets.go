package api

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/domain/chat"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/infrastructure/ws"
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gin-gonic/gin"
)

// accept upgrades the request. The returned context ends with the request or the server.
func (s *Server) accept(c *gin.Context, endpoint string) (*ws.Conn, context.Context, func(), bool) {
	raw, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.logger(c).Debug("Websocket upgrade failed", "endpoint", endpoint, "error", err)
		return nil, nil, nil, false
	}
	conn := ws.NewConn(raw, s.cfg.Socket, s.logger(c))
	ctx, cancel := context.WithCancel(c.Request.Context())
	stop := context.AfterFunc(s.base, cancel)
	closed := s.deps.Metrics.ConnectionOpened(ctx, endpoint)
	return conn, ctx, func() {
		closed()
		stop()
		cancel()
	}, true
}

// roomSocket joins a presence room for the lifetime of the connection.
func (s *Server) roomSocket(c *gin.Context) {
	room, err := domain.ParseRoomName(c.Param("room"))
	if err != nil {
		s.fail(c, err)
		return
	}
	identity := auth.IdentityFrom(c.Request.Context())

	conn, ctx, done, ok := s.accept(c, "room")
	if !ok {
		return
	}
	defer done()

	if _, err := s.deps.Chat.JoinRoom(ctx, room, conn.ID(), identity, conn); err != nil {
		conn.Reject(err)
		return
	}
	// Leave runs before the connection is torn down.
	defer s.deps.Chat.LeaveRoom(context.WithoutCancel(ctx), room, conn.ID())

	conn.Run(ctx, func(ctx context.Context, raw []byte) error {
		var frame chat.RoomFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return errors.ErrInvalidPayload
		}
		_, err := s.deps.Chat.PostMessage(ctx, chat.PostRoomMessageCommand{
			Room:         room,
			Sender:       identity,
			Content:      frame.Message,
			AttachmentID: frame.AttachmentID,
		})
		return err
	})
}

// privateSocket subscribes to one conversation. Only its two participants may open it.
func (s *Server) privateSocket(c *gin.Context) {
	identity := auth.IdentityFrom(c.Request.Context())
	conversation, err := s.deps.Private.Open(c.Request.Context(), identity, c.Param("conversation"))
	if err != nil {
		s.fail(c, err)
		return
	}

	conn, ctx, done, ok := s.accept(c, "private")
	if !ok {
		return
	}
	defer done()

	group := domain.PrivateGroup(conversation.ID)
	s.deps.Groups.Subscribe(group, conn.ID(), identity, conn)
	defer s.deps.Groups.Unsubscribe(group, conn.ID())

	log := s.logger(c).With("conversation", conversation.ID)
	conn.Run(ctx, func(ctx context.Context, raw []byte) error {
		return s.handlePrivateFrame(ctx, log, conn, identity, conversation, raw)
	})
}

func (s *Server) handlePrivateFrame(ctx context.Context, log *slog.Logger, conn *ws.Conn, identity domain.Identity,
	conversation domain.PrivateConversation, raw []byte) error {
	var frame chat.PrivateFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return errors.ErrInvalidPayload
	}
	if err := chat.Validate(frame); err != nil {
		return err
	}

	if frame.IsReadAck() {
		_, err := s.deps.Private.MarkRead(ctx, chat.MarkReadCommand{Reader: identity, Conversation: conversation.ID})
		return err
	}

	user1, err := frame.User1.Identity()
	if err != nil {
		return err
	}
	user2, err := frame.User2.Identity()
	if err != nil {
		return err
	}
	if !conversation.Has(user1) || !conversation.Has(user2) {
		return errors.ErrInvalidPayload
	}
	message, err := s.deps.Private.Send(ctx, chat.SendPrivateMessageCommand{
		Sender:          identity,
		User1:           user1,
		User2:           user2,
		Content:         frame.Message,
		ClientTimestamp: frame.Timestamp,
		AttachmentID:    frame.AttachmentID,
	})
	if err != nil {
		return err
	}
	if err := conn.Consume(ctx, event.NewPrivateMessageDelivered(message)); err != nil {
		log.Debug("Delivery ack not queued", "message_id", message.ID, "error", err)
	}
	return nil
}

// notificationSocket carries events addressed to the caller. Current unread counts
// are pushed on connect; inbound frames are ignored.
func (s *Server) notificationSocket(c *gin.Context) {
	identity := auth.IdentityFrom(c.Request.Context())

	conn, ctx, done, ok := s.accept(c, "notifications")
	if !ok {
		return
	}
	defer done()

	s.deps.Notifications.Subscribe(identity.ID, conn.ID(), conn)
	defer s.deps.Notifications.Unsubscribe(identity.ID, conn.ID())

	log := s.logger(c).With("identity", identity.ID)
	counters, err := s.deps.Private.UnreadCounters(ctx, identity)
	if err != nil {
		log.Warn("Unread counters not loaded", "error", err)
	}
	for _, counter := range counters {
		if err := conn.Consume(ctx, event.NewUnreadCountUpdate(counter)); err != nil {
			// The connection is closed once a frame is refused.
			log.Debug("Unread counter not queued", "conversation", counter.Conversation, "error", err)
			break
		}
	}

	conn.Run(ctx, func(context.Context, []byte) error { return nil })
}
