package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCapacity is returned by a store that cannot track another identity.
var ErrCapacity = errors.New("ratelimit: store at capacity")

// Store counts requests per key in fixed windows.
type Store interface {
	// Increment adds one request for key and returns the count within the
	// current window and when that window ends. A key without a live window
	// starts a new one at now.
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (count int, resetAt time.Time, err error)
}

type counter struct {
	count   int
	resetAt time.Time
}

// MemoryStore keeps counters in process memory with background eviction of
// expired windows.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*counter

	// maxKeys caps the number of tracked identities to bound memory use under a
	// spoofed-address flood. Zero disables the cap.
	maxKeys int
	// atCapacity suppresses repeat OnCapacity calls until space frees up
	atCapacity bool

	sweepEvery time.Duration
	now        func() time.Time

	// OnCapacity is called once each time the store fills up.
	OnCapacity func()
}

type MemoryOption func(*MemoryStore)

// WithMaxKeys sets the identity cap. n <= 0 disables it.
func WithMaxKeys(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxKeys = n }
}

func WithOnCapacity(fn func()) MemoryOption {
	return func(s *MemoryStore) { s.OnCapacity = fn }
}

// WithSweepInterval controls how often expired windows are evicted.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.sweepEvery = d }
}

// WithSweepClock sets the clock used by the background sweeper.
func WithSweepClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore starts the sweeper goroutine, which exits when ctx is done.
func NewMemoryStore(ctx context.Context, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		counters:   make(map[string]*counter),
		maxKeys:    100_000,
		sweepEvery: time.Minute,
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	go s.sweepLoop(ctx)
	return s
}

func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	s.mu.Lock()
	c, ok := s.counters[key]
	if !ok || !now.Before(c.resetAt) {
		if !ok && s.maxKeys > 0 && len(s.counters) >= s.maxKeys {
			s.evictExpired(now)
		}
		if !ok && s.maxKeys > 0 && len(s.counters) >= s.maxKeys {
			notify := !s.atCapacity
			s.atCapacity = true
			s.mu.Unlock()
			// hooks run outside the lock, they may be slow
			if notify && s.OnCapacity != nil {
				s.OnCapacity()
			}
			return 0, time.Time{}, ErrCapacity
		}
		c = &counter{resetAt: now.Add(window)}
		s.counters[key] = c
	}
	c.count++
	count, resetAt := c.count, c.resetAt
	s.mu.Unlock()
	return count, resetAt, nil
}

// Len is the number of tracked identities.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

// evictExpired must be called with mu held.
func (s *MemoryStore) evictExpired(now time.Time) {
	for k, c := range s.counters {
		if !now.Before(c.resetAt) {
			delete(s.counters, k)
		}
	}
	if s.maxKeys <= 0 || len(s.counters) < s.maxKeys {
		s.atCapacity = false
	}
}

func (s *MemoryStore) sweepLoop(ctx context.Context) {
	if s.sweepEvery <= 0 {
		return
	}
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.evictExpired(s.now())
			s.mu.Unlock()
		}
	}
}
