package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory. Entries are lost on
// restart and are not shared between replicas.
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string]memoryEntry
	maxSize int
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore creates a store holding at most maxSize entries and starts
// a sweeper that drops expired entries every interval.
func NewMemoryStore(maxSize int, interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		data:    make(map[string]memoryEntry),
		maxSize: maxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if interval > 0 {
		go s.sweep(interval)
	}
	return s
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[key]
	if !ok || !s.now().Before(e.expiresAt) {
		return nil, ErrNotFound
	}
	return e.value, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; !exists && s.maxSize > 0 && len(s.data) >= s.maxSize {
		s.evictLocked()
	}

	s.data[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.data[key]
	if exists && s.now().Before(e.expiresAt) {
		return false, nil
	}
	if !exists && s.maxSize > 0 && len(s.data) >= s.maxSize {
		s.evictLocked()
	}

	s.data[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: s.now().Add(ttl),
	}
	return true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close stops the sweeper.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// evictLocked drops the entry closest to expiry.
func (s *MemoryStore) evictLocked() {
	var victim string
	var soonest time.Time
	for k, e := range s.data {
		if victim == "" || e.expiresAt.Before(soonest) {
			victim, soonest = k, e.expiresAt
		}
	}
	delete(s.data, victim)
}

func (s *MemoryStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

func (s *MemoryStore) removeExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.data {
		if !now.Before(e.expiresAt) {
			delete(s.data, k)
		}
	}
}
