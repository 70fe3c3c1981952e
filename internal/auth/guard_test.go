package auth

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGuardThresholdAndEviction(t *testing.T) {
	guard := NewAttemptGuard(5, 15*time.Minute)

	for i := 0; i < 4; i++ {
		guard.RecordFailure("alice")
		assert.False(t, guard.HasExceededMaxAttempts("alice"))
	}

	guard.RecordFailure("alice")
	assert.True(t, guard.HasExceededMaxAttempts("alice"))

	guard.EvictUser("alice")
	assert.False(t, guard.HasExceededMaxAttempts("alice"))
}

func TestGuardCountersDoNotLeakAcrossUsernames(t *testing.T) {
	guard := NewAttemptGuard(5, 15*time.Minute)

	for i := 0; i < 5; i++ {
		guard.RecordFailure("alice")
	}

	assert.True(t, guard.HasExceededMaxAttempts("alice"))
	assert.False(t, guard.HasExceededMaxAttempts("bob"))
}

func TestGuardRecordExpiresAfterTTL(t *testing.T) {
	guard := NewAttemptGuard(5, 15*time.Minute)

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	guard.now = func() time.Time { return current }

	for i := 0; i < 5; i++ {
		guard.RecordFailure("alice")
	}
	assert.True(t, guard.HasExceededMaxAttempts("alice"))

	// Just before the TTL the record is still live.
	current = current.Add(15*time.Minute - time.Second)
	assert.True(t, guard.HasExceededMaxAttempts("alice"))

	// At the TTL the record behaves as if it never existed.
	current = current.Add(time.Second)
	assert.False(t, guard.HasExceededMaxAttempts("alice"))

	// A failure after expiry starts a fresh counter.
	guard.RecordFailure("alice")
	assert.False(t, guard.HasExceededMaxAttempts("alice"))
}

func TestGuardTTLCountsFromFirstFailure(t *testing.T) {
	guard := NewAttemptGuard(5, 15*time.Minute)

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	guard.now = func() time.Time { return current }

	guard.RecordFailure("alice")

	// Later failures do not extend the window.
	current = current.Add(14 * time.Minute)
	for i := 0; i < 4; i++ {
		guard.RecordFailure("alice")
	}
	assert.True(t, guard.HasExceededMaxAttempts("alice"))

	current = current.Add(time.Minute)
	assert.False(t, guard.HasExceededMaxAttempts("alice"))
}

func TestGuardConcurrentFailuresLoseNoIncrement(t *testing.T) {
	const parallel = 100

	guard := NewAttemptGuard(parallel, 15*time.Minute)

	var wg sync.WaitGroup
	wg.Add(parallel)
	for i := 0; i < parallel; i++ {
		go func() {
			defer wg.Done()
			guard.RecordFailure("carol")
		}()
	}
	wg.Wait()

	guard.mu.Lock()
	record := guard.records["carol"]
	guard.mu.Unlock()

	assert.Equal(t, parallel, record.failures)
	assert.True(t, guard.HasExceededMaxAttempts("carol"))
}

func TestGuardPruneDropsOnlyExpiredRecords(t *testing.T) {
	guard := NewAttemptGuard(5, 15*time.Minute)

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	guard.now = func() time.Time { return current }

	guard.RecordFailure("old")
	current = current.Add(20 * time.Minute)
	guard.RecordFailure("fresh")

	assert.Equal(t, 1, guard.Prune())

	guard.mu.Lock()
	_, oldOK := guard.records["old"]
	_, freshOK := guard.records["fresh"]
	guard.mu.Unlock()

	assert.False(t, oldOK)
	assert.True(t, freshOK)
}
