package lock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyMutexSerializesSameKey(t *testing.T) {
	km := NewKeyMutex()
	var counter, max int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("sub_1")
			defer km.Unlock("sub_1")

			mu.Lock()
			counter++
			if counter > max {
				max = counter
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			counter--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, max, "only one goroutine may hold the same key at a time")
}

func TestKeyMutexIndependentKeys(t *testing.T) {
	km := NewKeyMutex()
	km.Lock("sub_1")

	done := make(chan struct{})
	go func() {
		km.Lock("sub_2")
		km.Unlock("sub_2")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key should not block")
	}

	km.Unlock("sub_1")
}

func TestKeyMutexCleansUpEntries(t *testing.T) {
	km := NewKeyMutex()
	km.Lock("sub_1")
	km.Unlock("sub_1")

	km.mu.Lock()
	defer km.mu.Unlock()
	assert.Empty(t, km.locks)
}
