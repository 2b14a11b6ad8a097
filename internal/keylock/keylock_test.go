package keylock

import (
	"sync"
	"testing"
	"time"
)

// TestLockSerializesSameKey verifies that two holders of one key never overlap.
func TestLockSerializesSameKey(t *testing.T) {
	var m Map[int]
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock(7)
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d after all unlocks, want 0", m.Len())
	}
}

// TestLockDifferentKeysIndependent verifies a held key does not block another key.
func TestLockDifferentKeysIndependent(t *testing.T) {
	var m Map[string]
	unlockA := m.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := m.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on key b blocked behind key a")
	}
}
