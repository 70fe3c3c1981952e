package auth

import (
	"sync"
	"time"
)

const (
	defaultMaxAttempts = 5
	defaultAttemptTTL  = 15 * time.Minute
	defaultMaxRecords  = 1000
)

type attemptRecord struct {
	failures  int
	createdAt time.Time
}

// AttemptGuard tracks failed-login counters per username. Records self-expire
// a fixed TTL after their first failure; expiry is checked on access so an
// expired record is never visible to callers. The cache is single-process
// and best-effort: it resets on restart and sheds stale entries when the
// record count exceeds its bound.
type AttemptGuard struct {
	mu          sync.Mutex
	maxAttempts int
	ttl         time.Duration
	maxRecords  int
	records     map[string]*attemptRecord
	now         func() time.Time
}

func NewAttemptGuard(maxAttempts int, ttl time.Duration) *AttemptGuard {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if ttl <= 0 {
		ttl = defaultAttemptTTL
	}

	return &AttemptGuard{
		maxAttempts: maxAttempts,
		ttl:         ttl,
		maxRecords:  defaultMaxRecords,
		records:     make(map[string]*attemptRecord),
		now:         time.Now,
	}
}

// RecordFailure increments the failure counter for the username, starting a
// fresh record if none is live. Safe for concurrent use; parallel failures
// for the same username never lose an increment.
func (g *AttemptGuard) RecordFailure(username string) {
	now := g.now().UTC()

	g.mu.Lock()
	defer g.mu.Unlock()

	record, ok := g.records[username]
	if !ok || g.expired(record, now) {
		g.records[username] = &attemptRecord{failures: 1, createdAt: now}
	} else {
		record.failures++
	}

	if len(g.records) > g.maxRecords {
		g.pruneLocked(now)
	}
}

// HasExceededMaxAttempts reports whether a live record for the username has
// reached the failure threshold. Expired records are evicted on sight.
func (g *AttemptGuard) HasExceededMaxAttempts(username string) bool {
	now := g.now().UTC()

	g.mu.Lock()
	defer g.mu.Unlock()

	record, ok := g.records[username]
	if !ok {
		return false
	}
	if g.expired(record, now) {
		delete(g.records, username)
		return false
	}

	return record.failures >= g.maxAttempts
}

// EvictUser drops any live record for the username immediately, independent
// of TTL. Called on successful login and on explicit account unlock so a
// stale counter cannot resurrect a lock.
func (g *AttemptGuard) EvictUser(username string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.records, username)
}

// Prune removes all expired records and returns how many were dropped.
func (g *AttemptGuard) Prune() int {
	now := g.now().UTC()

	g.mu.Lock()
	defer g.mu.Unlock()

	return g.pruneLocked(now)
}

func (g *AttemptGuard) pruneLocked(now time.Time) int {
	dropped := 0
	for username, record := range g.records {
		if g.expired(record, now) {
			delete(g.records, username)
			dropped++
		}
	}
	return dropped
}

func (g *AttemptGuard) expired(record *attemptRecord, now time.Time) bool {
	return now.Sub(record.createdAt) >= g.ttl
}
