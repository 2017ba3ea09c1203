package storage

import (
	"chat-relay/errors"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const maxConflictRetries = 3

// getJSON decodes the value at key into v. A missing key reports false.
func getJSON(txn *badger.Txn, key string, v any) (bool, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = item.Value(func(val []byte) error {
		return jsonDecode(val, v)
	})
	if err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := jsonBytes(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

func jsonBytes(v any) ([]byte, error) {
	return json.Marshal(v)
}

func jsonDecode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// update runs fn in a read-write transaction, retrying a bounded number of
// times when Badger reports a serialization conflict.
// Domain errors returned by fn are passed through untouched; storage errors become transient.
func update(db *badger.DB, op string, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	return classify(op, err)
}

func view(db *badger.DB, op string, fn func(txn *badger.Txn) error) error {
	return classify(op, db.View(fn))
}

func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errors.ErrValidation),
		errors.Is(err, errors.ErrNotFound),
		errors.Is(err, errors.ErrConflict),
		errors.Is(err, errors.ErrForbidden):
		return err
	default:
		return errors.Transient(op, err)
	}
}

// deletePrefix removes every key under prefix inside txn.
func deletePrefix(txn *badger.Txn, prefix string) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// timeKey renders a nanosecond timestamp padded to 19 digits so that keys sort chronologically.
func timeKey(nanos int64) string {
	return fmt.Sprintf("%019d", nanos)
}
