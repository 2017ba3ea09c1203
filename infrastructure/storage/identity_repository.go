package storage

import (
	"chat-relay/domain"
	"context"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/crypto/blake2b"
)

// IdentityRepository is the credential store read by the resolver.
// Session ids are never stored in clear: the key is their blake2b digest.
type IdentityRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewIdentityRepository(db *badger.DB, log *slog.Logger) *IdentityRepository {
	return &IdentityRepository{db: db, log: log}
}

type sessionRecord struct {
	IdentityID domain.IdentityID `json:"identity_id"`
	CreatedAt  time.Time         `json:"created_at"`
}

func identityKey(id domain.IdentityID) string {
	return "identity:" + id.String()
}

func sessionKey(sessionID string) string {
	sum := blake2b.Sum256([]byte(sessionID))
	return "session:" + hex.EncodeToString(sum[:])
}

// PutIdentity upserts an identity record.
func (r *IdentityRepository) PutIdentity(_ context.Context, identity domain.Identity) error {
	return update(r.db, "put identity", func(txn *badger.Txn) error {
		return setJSON(txn, identityKey(identity.ID), identity)
	})
}

// PutSession binds a session id to an identity; the entry expires after ttl.
func (r *IdentityRepository) PutSession(_ context.Context, sessionID string, id domain.IdentityID, ttl time.Duration) error {
	return update(r.db, "put session", func(txn *badger.Txn) error {
		record := sessionRecord{IdentityID: id, CreatedAt: time.Now().UTC()}
		data, err := jsonBytes(record)
		if err != nil {
			return err
		}
		entry := badger.NewEntry([]byte(sessionKey(sessionID)), data)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (r *IdentityRepository) LookupByID(_ context.Context, id domain.IdentityID) (domain.Identity, bool, error) {
	var identity domain.Identity
	var found bool
	err := view(r.db, "lookup identity", func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, identityKey(id), &identity)
		return err
	})
	return identity, found, err
}

func (r *IdentityRepository) LookupBySession(_ context.Context, sessionID string) (domain.Identity, bool, error) {
	var identity domain.Identity
	var found bool
	err := view(r.db, "lookup session", func(txn *badger.Txn) error {
		var record sessionRecord
		ok, err := getJSON(txn, sessionKey(sessionID), &record)
		if err != nil || !ok {
			return err
		}
		found, err = getJSON(txn, identityKey(record.IdentityID), &identity)
		return err
	})
	if !found {
		r.log.Debug("Session did not resolve")
	}
	return identity, found, err
}
