package storage

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// AttachmentRepository stores finalized artifacts under "attachment:{id}".
// A linked message is kept on the record itself.
type AttachmentRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewAttachmentRepository(db *badger.DB, log *slog.Logger) *AttachmentRepository {
	return &AttachmentRepository{db: db, log: log}
}

func attachmentKey(id string) string {
	return "attachment:" + id
}

func putAttachment(txn *badger.Txn, attachment domain.Attachment) error {
	return setJSON(txn, attachmentKey(attachment.ID), attachment)
}

func (a *AttachmentRepository) Attachment(_ context.Context, id string) (domain.Attachment, error) {
	var attachment domain.Attachment
	err := view(a.db, "load attachment", func(txn *badger.Txn) error {
		found, err := getJSON(txn, attachmentKey(id), &attachment)
		if err != nil {
			return err
		}
		if !found {
			return errors.ErrAttachmentNotFound
		}
		return nil
	})
	return attachment, err
}

// Link attaches an existing artifact to a message.
func (a *AttachmentRepository) Link(_ context.Context, id string, ref domain.MessageRef) (domain.Attachment, error) {
	var attachment domain.Attachment
	err := update(a.db, "link attachment", func(txn *badger.Txn) error {
		found, err := getJSON(txn, attachmentKey(id), &attachment)
		if err != nil {
			return err
		}
		if !found {
			return errors.ErrAttachmentNotFound
		}
		attachment.Message = &ref
		return putAttachment(txn, attachment)
	})
	return attachment, err
}

// LookupMessage resolves a message id through the shared message index.
func (a *AttachmentRepository) LookupMessage(_ context.Context, id uuid.UUID) (domain.MessageRef, error) {
	return LookupMessage(a.db, id)
}
