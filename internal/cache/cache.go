package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Store caches values of one type with a per-entry TTL. Concurrent loads of
// the same key share a single call.
type Store[V any] struct {
	mu     sync.Mutex
	items  map[string]entry[V]
	flight singleflight.Group
	now    func() time.Time
}

func NewStore[V any]() *Store[V] {
	return &Store[V]{items: map[string]entry[V]{}, now: time.Now}
}

func (s *Store[V]) Get(key string) (V, bool) {
	var zero V
	if s == nil {
		return zero, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[key]
	if !ok {
		return zero, false
	}
	if s.now().After(item.expiresAt) {
		delete(s.items, key)
		return zero, false
	}
	return item.value, true
}

// Set stores value for ttl. A ttl <= 0 stores nothing.
func (s *Store[V]) Set(key string, value V, ttl time.Duration) {
	if s == nil || key == "" || ttl <= 0 {
		return
	}
	s.mu.Lock()
	s.items[key] = entry[V]{value: value, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
}

// Invalidate drops key so the next GetOrLoad reloads.
func (s *Store[V]) Invalidate(key string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// GetOrLoad returns the cached value for key or runs load once for all
// concurrent callers. Only successful loads are cached.
func (s *Store[V]) GetOrLoad(key string, ttl time.Duration, load func() (V, error)) (V, error) {
	if value, ok := s.Get(key); ok {
		return value, nil
	}
	value, err, _ := s.flight.Do(key, func() (any, error) {
		value, err := load()
		if err != nil {
			return nil, err
		}
		s.Set(key, value, ttl)
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return value.(V), nil
}
