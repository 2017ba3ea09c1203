package storage

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IRoomMessageRepository interface {
	StoreMessage(ctx context.Context, message domain.RoomMessage) error
	GetMessages(ctx context.Context, room domain.RoomName, cursor *string) ([]domain.RoomMessage, *string, error)
}

type RoomMessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages int
}

func NewRoomMessageRepository(db *badger.DB, log *slog.Logger, limitMessages int) *RoomMessageRepository {
	return &RoomMessageRepository{db: db, log: log, limitMessages: limitMessages}
}

func roomMessageKey(m domain.RoomMessage) string {
	return fmt.Sprintf("msg:%s:%s:%s", m.Room, timeKey(m.CreatedAt.UnixNano()), m.ID)
}

func messageIndexKey(id uuid.UUID) string {
	return "msgidx:" + id.String()
}

// StoreMessage persists a message in BadgerDB.
// The key is formatted as "msg:{room}:{timestamp_padded}:{uuid}":
//  1. 19-digit zero padding keeps chronological order under lexicographical sort.
//  2. The uuid separates two messages written in the same nanosecond.
//
// The message index entry is written in the same transaction.
func (m *RoomMessageRepository) StoreMessage(_ context.Context, message domain.RoomMessage) error {
	key := roomMessageKey(message)
	return update(m.db, "store room message", func(txn *badger.Txn) error {
		if err := setJSON(txn, key, message); err != nil {
			return err
		}
		return setJSON(txn, messageIndexKey(message.ID), message.Ref())
	})
}

// GetMessages returns one page of a room's history, newest first.
// The returned cursor is nil when there is nothing older to read.
func (m *RoomMessageRepository) GetMessages(_ context.Context, room domain.RoomName, cursor *string) ([]domain.RoomMessage, *string, error) {
	var messages []domain.RoomMessage
	next, err := scanBackwards(m.db, fmt.Sprintf("msg:%s:", room), cursor, m.limitMessages, func(value []byte) error {
		var message domain.RoomMessage
		if err := jsonDecode(value, &message); err != nil {
			return err
		}
		messages = append(messages, message)
		return nil
	})
	if err != nil {
		return nil, nil, errors.Transient("read room history", err)
	}
	return messages, next, nil
}

// LookupMessage resolves a message id to its kind and location.
func LookupMessage(db *badger.DB, id uuid.UUID) (domain.MessageRef, error) {
	var ref domain.MessageRef
	err := view(db, "lookup message", func(txn *badger.Txn) error {
		found, err := getJSON(txn, messageIndexKey(id), &ref)
		if err != nil {
			return err
		}
		if !found {
			return errors.ErrMessageNotFound
		}
		return nil
	})
	return ref, err
}

// scanBackwards walks keys under prefix from newest to oldest, starting after cursor.
func scanBackwards(db *badger.DB, prefixStr string, cursor *string, limit int, each func(value []byte) error) (*string, error) {
	var lastKey string
	var count int
	var more bool
	err := db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// One past the newest possible key, then walk back.
			seekKey = append([]byte(prefixStr), 0xFF)
		default:
			seekKey = append([]byte(prefixStr), []byte(*cursor)...)
		}

		it.Seek(seekKey)
		if cursor != nil && it.ValidForPrefix(prefix) && string(it.Item().Key()) == string(seekKey) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && count == limit {
				more = true
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[len(prefix):])
			if err := item.Value(each); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil || !more {
		return nil, err
	}
	return &lastKey, nil
}
