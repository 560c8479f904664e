package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"mcphub/pkg/logging"
)

const (
	// DefaultMaxSize bounds a memory tier when the config does not.
	DefaultMaxSize = 1000
	// DefaultTTL applies when Set is called with a non-positive ttl.
	DefaultTTL = 5 * time.Minute
	// sweepInterval is how often the background sweeper drops expired
	// entries that no Get has touched.
	sweepInterval = 60 * time.Second
)

// MemoryStore is the in-process cache tier. Entries expire at a fixed
// deadline set on write; reads never extend a lifetime, they only refresh
// recency for LRU eviction. When an insert would exceed MaxSize exactly one
// entry, the least recently accessed, is evicted.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List // front = most recently accessed

	maxSize    int
	defaultTTL time.Duration

	totalRequests int64
	hits          int64
	misses        int64

	done      chan struct{}
	closeOnce sync.Once
}

type memoryEntry struct {
	key            string
	value          interface{}
	createdAt      time.Time
	expiresAt      time.Time
	accessCount    int64
	lastAccessedAt time.Time
}

// NewMemoryStore creates a memory tier and starts its sweeper. maxSize and
// defaultTTL fall back to package defaults when non-positive. Close stops
// the sweeper.
func NewMemoryStore(maxSize int, defaultTTL time.Duration) *MemoryStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	s := &MemoryStore{
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		done:       make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Get returns the live value for key. Expired entries are removed here
// rather than waiting for the sweeper.
func (s *MemoryStore) Get(_ context.Context, key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalRequests++

	elem, ok := s.entries[key]
	if !ok {
		s.misses++
		return nil, false
	}

	entry := elem.Value.(*memoryEntry)
	if time.Now().After(entry.expiresAt) {
		s.removeElement(elem)
		s.misses++
		return nil, false
	}

	s.hits++
	entry.accessCount++
	entry.lastAccessedAt = time.Now()
	s.lru.MoveToFront(elem)
	return entry.value, true
}

// Set stores value under key for ttl. Writing an existing key resets its
// lifetime and recency.
func (s *MemoryStore) Set(_ context.Context, key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.value = value
		entry.createdAt = now
		entry.expiresAt = now.Add(ttl)
		entry.accessCount = 0
		entry.lastAccessedAt = now
		s.lru.MoveToFront(elem)
		return
	}

	if s.lru.Len() >= s.maxSize {
		s.evictOldest()
	}

	entry := &memoryEntry{
		key:            key,
		value:          value,
		createdAt:      now,
		expiresAt:      now.Add(ttl),
		lastAccessedAt: now,
	}
	s.entries[key] = s.lru.PushFront(entry)
}

// Delete removes key if present.
func (s *MemoryStore) Delete(_ context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		s.removeElement(elem)
	}
}

// Clear drops every entry. Counters survive so hit rates remain meaningful
// across config reloads.
func (s *MemoryStore) Clear(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*list.Element)
	s.lru.Init()
}

// Stats returns a snapshot of the tier's counters.
func (s *MemoryStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		TotalRequests: s.totalRequests,
		Hits:          s.hits,
		Misses:        s.misses,
		CurrentSize:   s.lru.Len(),
		MaxSize:       s.maxSize,
	}
	if s.totalRequests > 0 {
		stats.HitRate = float64(s.hits) / float64(s.totalRequests)
	}
	return stats
}

// Close stops the sweeper. Safe to call more than once.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

// removeElement must be called with the lock held.
func (s *MemoryStore) removeElement(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	delete(s.entries, entry.key)
	s.lru.Remove(elem)
}

// evictOldest must be called with the lock held.
func (s *MemoryStore) evictOldest() {
	oldest := s.lru.Back()
	if oldest == nil {
		return
	}
	entry := oldest.Value.(*memoryEntry)
	logging.Debug("Cache", "evicting least recently used key %s", entry.key)
	s.removeElement(oldest)
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep removes entries whose deadline has passed without a Get noticing.
func (s *MemoryStore) sweep() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*list.Element
	for elem := s.lru.Front(); elem != nil; elem = elem.Next() {
		if now.After(elem.Value.(*memoryEntry).expiresAt) {
			expired = append(expired, elem)
		}
	}
	for _, elem := range expired {
		s.removeElement(elem)
	}
}
