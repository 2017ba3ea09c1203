package storage

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// UploadRepository keeps upload sessions and their chunk payloads.
//
// Keys:
//
//	upload:{id}                session record
//	chunk:{id}:{index09}       chunk payload
type UploadRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewUploadRepository(db *badger.DB, log *slog.Logger) *UploadRepository {
	return &UploadRepository{db: db, log: log}
}

func uploadKey(id string) string {
	return "upload:" + id
}

func chunkPrefix(id string) string {
	return "chunk:" + id + ":"
}

func chunkKey(id string, index int) string {
	return fmt.Sprintf("%s%09d", chunkPrefix(id), index)
}

// Session loads a live session.
func (u *UploadRepository) Session(_ context.Context, id string) (domain.UploadSession, error) {
	var session domain.UploadSession
	err := view(u.db, "load upload session", func(txn *badger.Txn) error {
		found, err := getJSON(txn, uploadKey(id), &session)
		if err != nil {
			return err
		}
		if !found {
			return errors.ErrUploadNotFound
		}
		return nil
	})
	return session, err
}

// FindSession is Session without the not-found error.
func (u *UploadRepository) FindSession(_ context.Context, id string) (domain.UploadSession, bool, error) {
	var session domain.UploadSession
	var found bool
	err := view(u.db, "load upload session", func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, uploadKey(id), &session)
		return err
	})
	return session, found, err
}

func (u *UploadRepository) SaveSession(_ context.Context, session domain.UploadSession) error {
	return update(u.db, "save upload session", func(txn *badger.Txn) error {
		return setJSON(txn, uploadKey(session.ID), session)
	})
}

// Sessions lists every live session.
func (u *UploadRepository) Sessions(_ context.Context) ([]domain.UploadSession, error) {
	var sessions []domain.UploadSession
	prefix := []byte("upload:")
	err := view(u.db, "list upload sessions", func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var session domain.UploadSession
			err := it.Item().Value(func(v []byte) error {
				return jsonDecode(v, &session)
			})
			if err != nil {
				return err
			}
			sessions = append(sessions, session)
		}
		return nil
	})
	return sessions, err
}

// PutChunk stores a payload; writing the same index twice keeps the last bytes.
func (u *UploadRepository) PutChunk(_ context.Context, id string, index int, data []byte) error {
	return update(u.db, "store chunk", func(txn *badger.Txn) error {
		return txn.Set([]byte(chunkKey(id, index)), data)
	})
}

// ReadChunk copies one payload out of the store.
func (u *UploadRepository) ReadChunk(_ context.Context, id string, index int) ([]byte, error) {
	var data []byte
	err := view(u.db, "read chunk", func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(chunkKey(id, index)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return &errors.MissingChunksError{UploadID: id, Missing: []int{index}}
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	return data, err
}

func (u *UploadRepository) DeleteChunk(_ context.Context, id string, index int) error {
	return update(u.db, "delete chunk", func(txn *badger.Txn) error {
		return txn.Delete([]byte(chunkKey(id, index)))
	})
}

// Discard removes a session with all of its chunks.
func (u *UploadRepository) Discard(_ context.Context, id string) error {
	return update(u.db, "discard upload", func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(uploadKey(id))); errors.Is(err, badger.ErrKeyNotFound) {
			return errors.ErrUploadNotFound
		} else if err != nil {
			return err
		}
		if _, err := deletePrefix(txn, chunkPrefix(id)); err != nil {
			return err
		}
		return txn.Delete([]byte(uploadKey(id)))
	})
}

// CommitFinalize persists the attachment and removes the session with its chunks atomically.
// A session already gone means another finalize won.
func (u *UploadRepository) CommitFinalize(_ context.Context, sessionID string, attachment domain.Attachment) error {
	return update(u.db, "commit finalize", func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(uploadKey(sessionID))); errors.Is(err, badger.ErrKeyNotFound) {
			return errors.ErrUploadNotFound
		} else if err != nil {
			return err
		}
		if err := putAttachment(txn, attachment); err != nil {
			return err
		}
		if _, err := deletePrefix(txn, chunkPrefix(sessionID)); err != nil {
			return err
		}
		return txn.Delete([]byte(uploadKey(sessionID)))
	})
}
