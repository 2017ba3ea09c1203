package storage

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/internal/keylock"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// PrivateMessageRepository persists private conversations, their messages and
// the per-recipient unread counters.
//
// Keys:
//
//	conv:{pair}                      conversation record
//	pmsg:{pair}:{ts019}:{uuid}       message
//	unread:{owner}:{pair}            unread counter of owner
//	msgidx:{uuid}                    message index
//
// Writes that touch a counter hold the (pair, owner) lock so that a send and a
// read acknowledgement of the same counter never interleave.
type PrivateMessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	locks         *keylock.KeyLock
	limitMessages int
}

func NewPrivateMessageRepository(db *badger.DB, log *slog.Logger, limitMessages int) *PrivateMessageRepository {
	return &PrivateMessageRepository{db: db, log: log, locks: keylock.New(), limitMessages: limitMessages}
}

func conversationKey(id domain.ConversationID) string {
	return "conv:" + string(id)
}

func privateMessageKey(m domain.PrivateMessage) string {
	return fmt.Sprintf("pmsg:%s:%s:%s", m.Conversation, timeKey(m.CreatedAt.UnixNano()), m.ID)
}

func unreadKey(owner domain.IdentityID, id domain.ConversationID) string {
	return fmt.Sprintf("unread:%d:%s", owner, id)
}

func counterLock(owner domain.IdentityID, id domain.ConversationID) string {
	return fmt.Sprintf("%s/%d", id, owner)
}

// EnsureConversation returns the conversation of the pair, creating it on first use.
// Concurrent creations of the same pair converge on a single record.
func (r *PrivateMessageRepository) EnsureConversation(_ context.Context, a, b domain.IdentityID, now time.Time) (domain.PrivateConversation, error) {
	candidate, err := domain.NewPrivateConversation(a, b, now)
	if err != nil {
		return domain.PrivateConversation{}, err
	}
	var conversation domain.PrivateConversation
	err = update(r.db, "ensure conversation", func(txn *badger.Txn) error {
		var err error
		conversation, err = ensureConversation(txn, candidate)
		return err
	})
	return conversation, err
}

func ensureConversation(txn *badger.Txn, candidate domain.PrivateConversation) (domain.PrivateConversation, error) {
	var existing domain.PrivateConversation
	found, err := getJSON(txn, conversationKey(candidate.ID), &existing)
	if err != nil {
		return domain.PrivateConversation{}, err
	}
	if found {
		return existing, nil
	}
	return candidate, setJSON(txn, conversationKey(candidate.ID), candidate)
}

// Conversation loads an existing conversation.
func (r *PrivateMessageRepository) Conversation(_ context.Context, id domain.ConversationID) (domain.PrivateConversation, error) {
	var conversation domain.PrivateConversation
	err := view(r.db, "load conversation", func(txn *badger.Txn) error {
		found, err := getJSON(txn, conversationKey(id), &conversation)
		if err != nil {
			return err
		}
		if !found {
			return errors.ErrConversationMissing
		}
		return nil
	})
	return conversation, err
}

// Send persists message and increments the recipient's counter in one transaction.
// The conversation is created if this is the first message of the pair.
func (r *PrivateMessageRepository) Send(_ context.Context, message domain.PrivateMessage) (domain.UnreadCounter, error) {
	candidate, err := domain.NewPrivateConversation(message.SenderID, message.RecipientID, message.CreatedAt)
	if err != nil {
		return domain.UnreadCounter{}, err
	}
	if candidate.ID != message.Conversation {
		return domain.UnreadCounter{}, errors.ErrNotParticipant
	}

	unlock := r.locks.Lock(counterLock(message.RecipientID, message.Conversation))
	defer unlock()

	var counter domain.UnreadCounter
	err = update(r.db, "send private message", func(txn *badger.Txn) error {
		if _, err := ensureConversation(txn, candidate); err != nil {
			return err
		}
		key := privateMessageKey(message)
		if err := setJSON(txn, key, message); err != nil {
			return err
		}
		if err := setJSON(txn, messageIndexKey(message.ID), message.Ref()); err != nil {
			return err
		}

		counter = domain.UnreadCounter{Owner: message.RecipientID, Conversation: message.Conversation}
		if _, err := getJSON(txn, unreadKey(message.RecipientID, message.Conversation), &counter); err != nil {
			return err
		}
		counter.Count++
		counter.LastMessageID = message.ID.String()
		counter.UpdatedAt = message.CreatedAt
		return setJSON(txn, unreadKey(message.RecipientID, message.Conversation), counter)
	})
	if err != nil {
		return domain.UnreadCounter{}, err
	}
	return counter, nil
}

// MarkRead zeroes the reader's counter and flags the messages addressed to the reader as read.
// Calling it again is harmless.
func (r *PrivateMessageRepository) MarkRead(_ context.Context, reader domain.IdentityID, id domain.ConversationID, now time.Time) (domain.UnreadCounter, error) {
	unlock := r.locks.Lock(counterLock(reader, id))
	defer unlock()

	counter := domain.UnreadCounter{Owner: reader, Conversation: id}
	err := update(r.db, "mark conversation read", func(txn *badger.Txn) error {
		var conversation domain.PrivateConversation
		found, err := getJSON(txn, conversationKey(id), &conversation)
		if err != nil {
			return err
		}
		if !found {
			return errors.ErrConversationMissing
		}
		if !conversation.Has(reader) {
			return errors.ErrNotParticipant
		}

		if _, err := getJSON(txn, unreadKey(reader, id), &counter); err != nil {
			return err
		}
		if counter.Count == 0 {
			return nil
		}
		if err := markMessagesRead(txn, id, reader); err != nil {
			return err
		}
		counter.Count = 0
		counter.UpdatedAt = now
		return setJSON(txn, unreadKey(reader, id), counter)
	})
	if err != nil {
		return domain.UnreadCounter{}, err
	}
	return counter, nil
}

func markMessagesRead(txn *badger.Txn, id domain.ConversationID, reader domain.IdentityID) error {
	prefix := []byte("pmsg:" + string(id) + ":")
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	var unread []domain.PrivateMessage
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var message domain.PrivateMessage
		err := it.Item().Value(func(v []byte) error {
			return jsonDecode(v, &message)
		})
		if err != nil {
			it.Close()
			return err
		}
		if message.RecipientID == reader && !message.Read {
			unread = append(unread, message)
		}
	}
	it.Close()

	for _, message := range unread {
		message.Read = true
		if err := setJSON(txn, privateMessageKey(message), message); err != nil {
			return err
		}
	}
	return nil
}

// UnreadCounter returns the counter of owner for one conversation; absent counters are zero.
func (r *PrivateMessageRepository) UnreadCounter(_ context.Context, owner domain.IdentityID, id domain.ConversationID) (domain.UnreadCounter, error) {
	counter := domain.UnreadCounter{Owner: owner, Conversation: id}
	err := view(r.db, "read unread counter", func(txn *badger.Txn) error {
		_, err := getJSON(txn, unreadKey(owner, id), &counter)
		return err
	})
	return counter, err
}

// UnreadCounters lists every counter of owner with a non-zero count.
func (r *PrivateMessageRepository) UnreadCounters(_ context.Context, owner domain.IdentityID) ([]domain.UnreadCounter, error) {
	counters := []domain.UnreadCounter{}
	prefix := []byte(fmt.Sprintf("unread:%d:", owner))
	err := view(r.db, "list unread counters", func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var counter domain.UnreadCounter
			err := it.Item().Value(func(v []byte) error {
				return jsonDecode(v, &counter)
			})
			if err != nil {
				return err
			}
			if counter.Count > 0 {
				counters = append(counters, counter)
			}
		}
		return nil
	})
	return counters, err
}

// GetMessages returns one page of a conversation, newest first.
func (r *PrivateMessageRepository) GetMessages(_ context.Context, id domain.ConversationID, cursor *string) ([]domain.PrivateMessage, *string, error) {
	var messages []domain.PrivateMessage
	next, err := scanBackwards(r.db, "pmsg:"+string(id)+":", cursor, r.limitMessages, func(value []byte) error {
		var message domain.PrivateMessage
		if err := jsonDecode(value, &message); err != nil {
			return err
		}
		messages = append(messages, message)
		return nil
	})
	if err != nil {
		return nil, nil, errors.Transient("read private history", err)
	}
	return messages, next, nil
}
