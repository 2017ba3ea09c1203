package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type AttachmentStore interface {
	Attachment(ctx context.Context, id string) (domain.Attachment, error)
	Link(ctx context.Context, id string, ref domain.MessageRef) (domain.Attachment, error)
	LookupMessage(ctx context.Context, id uuid.UUID) (domain.MessageRef, error)
}

// AttachmentService resolves artifacts for viewers and links them to messages.
// Attachments a viewer may not see are reported as not found.
type AttachmentService struct {
	store AttachmentStore
	urls  contract.URLCache
	log   *slog.Logger
}

func NewAttachmentService(log *slog.Logger, store AttachmentStore, urls contract.URLCache) *AttachmentService {
	return &AttachmentService{store: store, urls: urls, log: log}
}

// Get returns the artifact reference when viewer owns it or it is public.
func (s *AttachmentService) Get(ctx context.Context, viewer domain.IdentityID, id string) (domain.ArtifactRef, error) {
	attachment, err := s.visible(ctx, viewer, id)
	if err != nil {
		return domain.ArtifactRef{}, err
	}
	ref := attachment.Ref()
	if url, ok := s.urls.Get(id); ok {
		ref.URL = url
	} else {
		s.urls.Set(id, attachment.URL)
	}
	return ref, nil
}

// Authorize checks that sender may reference the attachment in a message.
func (s *AttachmentService) Authorize(ctx context.Context, sender domain.IdentityID, id string) error {
	_, err := s.visible(ctx, sender, id)
	return err
}

// Link records that message carries the attachment.
func (s *AttachmentService) Link(ctx context.Context, id string, ref domain.MessageRef) error {
	_, err := s.store.Link(ctx, id, ref)
	return err
}

// MessageForLink resolves the message an upload wants to attach to.
// Only the message's sender may attach to it.
func (s *AttachmentService) MessageForLink(ctx context.Context, owner domain.IdentityID, raw string) (*domain.MessageRef, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, errors.ErrInvalidPayload
	}
	ref, err := s.store.LookupMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if ref.SenderID != owner {
		return nil, errors.ErrMessageNotFound
	}
	return &ref, nil
}

func (s *AttachmentService) visible(ctx context.Context, viewer domain.IdentityID, id string) (domain.Attachment, error) {
	attachment, err := s.store.Attachment(ctx, id)
	if err != nil {
		return domain.Attachment{}, err
	}
	if !attachment.Visible(viewer) {
		s.log.Debug("Attachment hidden from viewer", "attachment_id", id, "viewer", viewer)
		return domain.Attachment{}, errors.ErrAttachmentNotFound
	}
	return attachment, nil
}
