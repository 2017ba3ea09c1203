package storage

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

const blocklistPrefix = "blocklist:"

// BlocklistRepository keeps the moderation word list. The word is the key; values are empty.
type BlocklistRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewBlocklistRepository(db *badger.DB, log *slog.Logger) *BlocklistRepository {
	return &BlocklistRepository{db: db, log: log}
}

// Add stores words in lower case. Blank entries are skipped and duplicates collapse.
func (b *BlocklistRepository) Add(_ context.Context, words ...string) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, word := range words {
		word = strings.ToLower(strings.TrimSpace(word))
		if word == "" {
			continue
		}
		if err := wb.Set([]byte(blocklistPrefix+word), nil); err != nil {
			return classify("add blocked word", err)
		}
	}
	return classify("add blocked word", wb.Flush())
}

func (b *BlocklistRepository) Remove(_ context.Context, word string) error {
	return update(b.db, "remove blocked word", func(txn *badger.Txn) error {
		return txn.Delete([]byte(blocklistPrefix + strings.ToLower(strings.TrimSpace(word))))
	})
}

// Words lists the whole blocklist in key order. Only keys are read.
func (b *BlocklistRepository) Words(_ context.Context) ([]string, error) {
	var words []string
	err := view(b.db, "list blocked words", func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(blocklistPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			words = append(words, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return words, err
}
