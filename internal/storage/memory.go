package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore keeps entries in process memory. Contents are lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]memoryEntry
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string]memoryEntry),
		now:  time.Now,
	}
}

// Get returns the value stored under key.
func (s *MemoryStore) Get(_ context.Context, namespace, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.data[namespace][key]
	if !ok || entry.expired(s.now()) {
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key.
func (s *MemoryStore) Set(_ context.Context, namespace, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}

	bucket, ok := s.data[namespace]
	if !ok {
		bucket = make(map[string]memoryEntry)
		s.data[namespace] = bucket
	}
	bucket[key] = entry
	return nil
}

// Delete removes key. Missing keys are ignored.
func (s *MemoryStore) Delete(_ context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.data[namespace]
	if !ok {
		return nil
	}
	delete(bucket, key)
	if len(bucket) == 0 {
		delete(s.data, namespace)
	}
	return nil
}

// Keys lists the live keys of a namespace in lexical order.
func (s *MemoryStore) Keys(_ context.Context, namespace string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	keys := make([]string, 0, len(s.data[namespace]))
	for key, entry := range s.data[namespace] {
		if !entry.expired(now) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// DeleteExpired drops expired entries and reports how many were removed.
func (s *MemoryStore) DeleteExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var removed int64
	for namespace, bucket := range s.data {
		for key, entry := range bucket {
			if entry.expired(now) {
				delete(bucket, key)
				removed++
			}
		}
		if len(bucket) == 0 {
			delete(s.data, namespace)
		}
	}
	return removed, nil
}
