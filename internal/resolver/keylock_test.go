package resolver

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyLockSerializesSameKey(t *testing.T) {
	t.Parallel()

	locks := newKeyLock()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("http://a.example/")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	require.Equal(t, 64, counter)
}

func TestKeyLockIndependentKeys(t *testing.T) {
	t.Parallel()

	locks := newKeyLock()
	unlockA := locks.Lock("a")

	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
}

func TestKeyLockReleasesEntries(t *testing.T) {
	t.Parallel()

	locks := newKeyLock()
	unlock := locks.Lock("a")
	unlock()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	require.Empty(t, locks.entries)
}
