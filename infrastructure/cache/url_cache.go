package cache

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
)

// URLCache keeps artifact urls in memory, keyed by attachment id.
// Each entry costs 1, so size is a number of entries.
type URLCache struct {
	cache *ristretto.Cache[string, string]
}

func NewURLCache(size int64) (*URLCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create url cache: %w", err)
	}
	return &URLCache{cache: c}, nil
}

func (u *URLCache) Get(attachmentID string) (string, bool) {
	return u.cache.Get(attachmentID)
}

// Set is applied asynchronously; an entry may be dropped under contention.
func (u *URLCache) Set(attachmentID, url string) {
	u.cache.Set(attachmentID, url, 1)
}

func (u *URLCache) Delete(attachmentID string) {
	u.cache.Del(attachmentID)
}

// Wait blocks until buffered writes are applied.
func (u *URLCache) Wait() {
	u.cache.Wait()
}

func (u *URLCache) Close() {
	u.cache.Close()
}
