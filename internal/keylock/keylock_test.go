package keylock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyLock_SerializesSameKey(t *testing.T) {
	req := require.New(t)
	locks := New()
	counter := 0
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("upload-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	req.Equal(100, counter)
	req.Equal(0, locks.Len(), "released keys must not leak")
}

func TestKeyLock_DistinctKeysDoNotBlock(t *testing.T) {
	req := require.New(t)
	locks := New()

	unlockA := locks.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	req.Equal(1, locks.Len())
	unlockA()
	req.Equal(0, locks.Len())
}
