// ABOUTME: Tests for the pending authorization store
// ABOUTME: Validates single use, TTL expiration, size limits, eviction order, cleanup and concurrency

package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/2389/platform-engine/internal/identity"
)

func TestPendingStore_TakeUnknown(t *testing.T) {
	ps := NewPendingStore(PendingTTL, 100)
	defer ps.Close()

	_, ok := ps.Take("never-issued")
	assert.False(t, ok)
}

func TestPendingStore_TakeOnce(t *testing.T) {
	ps := NewPendingStore(PendingTTL, 100)
	defer ps.Close()

	ps.Put(Pending{State: "s1", Nonce: "n1", Verifier: "v1", ReturnPath: "/my-items", Action: identity.ActionLogin})

	pa, ok := ps.Take("s1")
	assert.True(t, ok)
	assert.Equal(t, "n1", pa.Nonce)
	assert.Equal(t, "/my-items", pa.ReturnPath)
	assert.False(t, pa.Created.IsZero())

	// Second use is rejected
	_, ok = ps.Take("s1")
	assert.False(t, ok)
	assert.Equal(t, 0, ps.Len())
}

func TestPendingStore_Expired(t *testing.T) {
	ps := NewPendingStore(PendingTTL, 100)
	defer ps.Close()

	now := time.Now()
	ps.now = func() time.Time { return now }
	ps.Put(Pending{State: "old"})

	// Eleven minutes later the callback is too late
	ps.now = func() time.Time { return now.Add(11 * time.Minute) }
	_, ok := ps.Take("old")
	assert.False(t, ok)
}

func TestPendingStore_Cleanup(t *testing.T) {
	ps := NewPendingStore(PendingTTL, 100)
	defer ps.Close()

	now := time.Now()
	ps.now = func() time.Time { return now }
	ps.Put(Pending{State: "a"})
	ps.Put(Pending{State: "b"})

	ps.now = func() time.Time { return now.Add(5 * time.Minute) }
	ps.Put(Pending{State: "c"})

	ps.now = func() time.Time { return now.Add(12 * time.Minute) }
	ps.runCleanup()

	assert.Equal(t, 1, ps.Len())
	_, ok := ps.Take("c")
	assert.True(t, ok)
}

func TestPendingStore_EvictionOrder(t *testing.T) {
	ps := NewPendingStore(PendingTTL, 3)
	defer ps.Close()

	ps.Put(Pending{State: "s1"})
	ps.Put(Pending{State: "s2"})
	ps.Put(Pending{State: "s3"})

	// Re-putting s1 moves it to the back
	ps.Put(Pending{State: "s1"})
	ps.Put(Pending{State: "s4"})

	_, ok := ps.Take("s2")
	assert.False(t, ok, "oldest entry should be evicted")

	for _, s := range []string{"s1", "s3", "s4"} {
		_, ok := ps.Take(s)
		assert.True(t, ok, s)
	}
}

func TestPendingStore_ConcurrentTake(t *testing.T) {
	ps := NewPendingStore(PendingTTL, 100)
	defer ps.Close()

	ps.Put(Pending{State: "contested"})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := ps.Take("contested"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestPendingStore_ConcurrentPut(t *testing.T) {
	ps := NewPendingStore(PendingTTL, 1000)
	defer ps.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ps.Put(Pending{State: fmt.Sprintf("s-%d-%d", n, j)})
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 500, ps.Len())
}

func TestPendingStore_Close(t *testing.T) {
	ps := NewPendingStore(PendingTTL, 10)

	// Multiple closes should not panic
	ps.Close()
	ps.Close()
}
