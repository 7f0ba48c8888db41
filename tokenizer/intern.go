package tokenizer

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// internEntry is one entry in the token intern cache.
type internEntry struct {
	value       string
	accessCount int64
	listElement *list.Element
}

// tokenIntern is a bounded, LRU-evicting string pool for tokens. The same
// surface forms (locale particles, common CJK segments, stopwords) recur
// across documents; interning them keeps a single backing array per
// distinct token instead of one per occurrence.
type tokenIntern struct {
	mu          sync.RWMutex
	strings     map[string]*internEntry
	lru         *list.List
	maxSize     int
	currentSize int

	hits      int64
	misses    int64
	evictions int64
}

const defaultInternMaxSize = 200000

var defaultIntern = newTokenIntern(defaultInternMaxSize)

func newTokenIntern(maxSize int) *tokenIntern {
	return &tokenIntern{
		strings: make(map[string]*internEntry),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

// Intern returns a shared instance of s, adding it to the pool if new.
func Intern(s string) string {
	if len(s) == 0 {
		return ""
	}
	return defaultIntern.intern(s)
}

func (ti *tokenIntern) intern(s string) string {
	ti.mu.RLock()
	if entry, ok := ti.strings[s]; ok {
		atomic.AddInt64(&entry.accessCount, 1)
		atomic.AddInt64(&ti.hits, 1)
		ti.mu.RUnlock()
		return entry.value
	}
	ti.mu.RUnlock()

	ti.mu.Lock()
	defer ti.mu.Unlock()

	if entry, ok := ti.strings[s]; ok {
		atomic.AddInt64(&entry.accessCount, 1)
		atomic.AddInt64(&ti.hits, 1)
		ti.lru.MoveToFront(entry.listElement)
		return entry.value
	}
	atomic.AddInt64(&ti.misses, 1)

	if ti.currentSize >= ti.maxSize {
		ti.evictOne()
	}

	entry := &internEntry{value: s, accessCount: 1}
	entry.listElement = ti.lru.PushFront(s)
	ti.strings[s] = entry
	ti.currentSize++
	return s
}

// evictOne removes the least recently used entry, skipping entries that
// have been accessed often (they are worth keeping even under pressure).
func (ti *tokenIntern) evictOne() {
	for elem := ti.lru.Back(); elem != nil; elem = elem.Prev() {
		key := elem.Value.(string)
		entry, ok := ti.strings[key]
		if !ok {
			continue
		}
		if atomic.LoadInt64(&entry.accessCount) > 100 {
			continue
		}
		delete(ti.strings, key)
		ti.lru.Remove(elem)
		ti.currentSize--
		atomic.AddInt64(&ti.evictions, 1)
		return
	}
	// everything is hot; evict the coldest anyway to bound memory
	if elem := ti.lru.Back(); elem != nil {
		key := elem.Value.(string)
		delete(ti.strings, key)
		ti.lru.Remove(elem)
		ti.currentSize--
		atomic.AddInt64(&ti.evictions, 1)
	}
}

// InternStats reports the intern pool's occupancy and hit rate.
type InternStats struct {
	Size      int
	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64
}

// Stats returns current intern pool statistics.
func Stats() InternStats {
	defaultIntern.mu.RLock()
	defer defaultIntern.mu.RUnlock()

	hits := atomic.LoadInt64(&defaultIntern.hits)
	misses := atomic.LoadInt64(&defaultIntern.misses)
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return InternStats{
		Size:      defaultIntern.currentSize,
		Hits:      hits,
		Misses:    misses,
		Evictions: atomic.LoadInt64(&defaultIntern.evictions),
		HitRate:   hitRate,
	}
}

// clearInternForTest resets the default intern pool; test-only.
func clearInternForTest() {
	defaultIntern.mu.Lock()
	defer defaultIntern.mu.Unlock()
	defaultIntern.strings = make(map[string]*internEntry)
	defaultIntern.lru = list.New()
	defaultIntern.currentSize = 0
	atomic.StoreInt64(&defaultIntern.hits, 0)
	atomic.StoreInt64(&defaultIntern.misses, 0)
	atomic.StoreInt64(&defaultIntern.evictions, 0)
}
