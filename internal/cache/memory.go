package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/metalink-dev/metalink/internal/clock/system"
	"github.com/metalink-dev/metalink/internal/metalink"
)

// DefaultMemoryTTL bounds entries whose TTL sentinel defers to the store.
const DefaultMemoryTTL = time.Hour

// MemoryStoreConfig controls the in-memory backend.
type MemoryStoreConfig struct {
	// MaxEntries caps the store; the least-recently-used entry is evicted
	// when exceeded. Zero means nothing is ever retained.
	MaxEntries int
	DefaultTTL time.Duration
	Clock      metalink.Clock
}

type memoryItem struct {
	key   string
	entry metalink.CacheEntry
}

// MemoryStore is an LRU-evicting, TTL-enforcing in-memory CacheStore.
type MemoryStore struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	order      *list.List // front = most recently used
	maxEntries int
	defaultTTL time.Duration
	clock      metalink.Clock
	closed     bool
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore(cfg MemoryStoreConfig) *MemoryStore {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultMemoryTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	return &MemoryStore{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: cfg.MaxEntries,
		defaultTTL: cfg.DefaultTTL,
		clock:      cfg.Clock,
	}
}

// Read returns a copy of the entry, bumping it to most-recently-used.
// Expired entries are deleted lazily and reported as a miss.
func (s *MemoryStore) Read(_ context.Context, key string) (*metalink.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	elem, ok := s.items[key]
	if !ok {
		return nil, nil
	}
	item := elem.Value.(*memoryItem)
	if isExpired(item.entry, s.defaultTTL, s.clock.Now()) {
		s.removeLocked(elem)
		return nil, nil
	}
	s.order.MoveToFront(elem)
	return copyEntry(item.entry), nil
}

// Write stores an entry, normalizing the TTL sentinel and evicting the
// least-recently-used entry when the cap is exceeded.
func (s *MemoryStore) Write(_ context.Context, key string, entry metalink.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if s.maxEntries <= 0 {
		s.items = make(map[string]*list.Element)
		s.order.Init()
		return nil
	}
	entry = normalizeTTL(entry, s.defaultTTL)
	if elem, ok := s.items[key]; ok {
		elem.Value.(*memoryItem).entry = entry
		s.order.MoveToFront(elem)
		return nil
	}
	s.items[key] = s.order.PushFront(&memoryItem{key: key, entry: entry})
	for s.order.Len() > s.maxEntries {
		if oldest := s.order.Back(); oldest != nil {
			s.removeLocked(oldest)
		}
	}
	return nil
}

// Delete removes an entry if present.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if elem, ok := s.items[key]; ok {
		s.removeLocked(elem)
	}
	return nil
}

// Clear removes every entry.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.items = make(map[string]*list.Element)
	s.order.Init()
	return nil
}

// PurgeExpired removes every expired entry and reports how many.
func (s *MemoryStore) PurgeExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	now := s.clock.Now()
	purged := 0
	for elem := s.order.Front(); elem != nil; {
		next := elem.Next()
		if isExpired(elem.Value.(*memoryItem).entry, s.defaultTTL, now) {
			s.removeLocked(elem)
			purged++
		}
		elem = next
	}
	return purged, nil
}

// Close is idempotent; subsequent operations return ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.items = nil
	s.order.Init()
	return nil
}

// Len reports the current entry count.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

func (s *MemoryStore) removeLocked(elem *list.Element) {
	item := elem.Value.(*memoryItem)
	delete(s.items, item.key)
	s.order.Remove(elem)
}
