// ABOUTME: Thread-safe TTL cache of seen keys with size-bounded eviction
// ABOUTME: Fast-path duplicate detection for connection request keys

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/2389/topicmesh/internal/clock"
)

// DefaultCleanupInterval is how often expired keys are swept.
const DefaultCleanupInterval = time.Minute

type cacheEntry struct {
	marked  time.Time
	element *list.Element
}

// Cache tracks seen keys for ttl, holding at most maxSize of them. The oldest
// key is evicted first.
type Cache struct {
	mu      sync.RWMutex
	seen    map[string]*cacheEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	clock   clock.Clock
	done    chan struct{}
	closed  bool
}

// Options configures a Cache.
type Options struct {
	TTL     time.Duration
	MaxSize int
	Clock   clock.Clock
	// CleanupInterval defaults to DefaultCleanupInterval.
	CleanupInterval time.Duration
}

// New creates a cache on the real clock.
func New(ttl time.Duration, maxSize int) *Cache {
	return NewWithOptions(Options{TTL: ttl, MaxSize: maxSize})
}

// NewWithOptions creates a cache and starts its background sweeper.
func NewWithOptions(opts Options) *Cache {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.MaxSize < 1 {
		opts.MaxSize = 1
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     opts.TTL,
		maxSize: opts.MaxSize,
		clock:   opts.Clock,
		done:    make(chan struct{}),
	}
	ticker := opts.Clock.NewTicker(opts.CleanupInterval)
	go c.cleanup(ticker)
	return c
}

// Check reports whether key was marked and has not expired.
func (c *Cache) Check(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.seen[key]
	if !ok {
		return false
	}
	return c.clock.Now().Sub(entry.marked) < c.ttl
}

// CheckAndMark marks key and reports whether it was already live.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if ok && c.clock.Now().Sub(entry.marked) < c.ttl {
		return true
	}
	c.markLocked(key)
	return false
}

// Mark records key, refreshing it if already present.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key)
}

// Forget removes key so it may be marked again.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}
}

// Len returns the number of keys held, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.seen)
}

func (c *Cache) markLocked(key string) {
	now := c.clock.Now()

	if entry, exists := c.seen[key]; exists {
		entry.marked = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{marked: now, element: elem}
}

// evictOldest must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache) cleanup(ticker clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired keys. The order list is oldest first, so it stops at the
// first live key.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(string)
		if now.Sub(c.seen[key].marked) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.seen, key)
	}
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
