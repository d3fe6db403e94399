// Package cache implements the two-tier cache that shields remote
// dependencies from redundant load.
//
// The fast tier is a bounded in-process map; the slow tier is an embedded
// Badger store that survives restarts. Reads check the fast tier first and
// promote slow-tier hits. Writes go through to both tiers. When the fast
// tier exceeds its bound, the entries closest to expiry are evicted first;
// entries without an expiry are evicted last.
//
// Slow-tier I/O failures are logged and reported as a miss: cache trouble
// must never fail the request path.
package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/vietddude/mediagate/internal/metrics"
)

// Config holds cache settings.
type Config struct {
	// Dir is the directory for the persistent tier.
	// Ignored when InMemory is true.
	Dir string `yaml:"dir"`

	// MaxFastEntries bounds the in-process tier. Default: 1000.
	MaxFastEntries int `yaml:"max_fast_entries"`

	// InMemory keeps the slow tier in memory. Used by tests.
	InMemory bool `yaml:"-"`
}

type fastEntry struct {
	value     []byte
	createdAt time.Time
	expiresAt time.Time // zero = no expiry
}

// diskEntry is the slow-tier envelope. Expiry is checked on read rather
// than delegated to Badger TTLs so CleanExpired can count removals.
type diskEntry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Cache is a tiered key/value cache. Safe for concurrent use.
type Cache struct {
	maxFast int

	mu   sync.Mutex
	fast map[string]fastEntry

	db *badger.DB

	now func() time.Time
}

// New opens the cache. The slow tier directory is created if needed.
func New(cfg Config) (*Cache, error) {
	if cfg.MaxFastEntries <= 0 {
		cfg.MaxFastEntries = 1000
	}

	opts := badger.DefaultOptions(cfg.Dir).
		WithLogger(nil).
		WithSyncWrites(false)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache store: %w", err)
	}

	return &Cache{
		maxFast: cfg.MaxFastEntries,
		fast:    make(map[string]fastEntry),
		db:      db,
		now:     time.Now,
	}, nil
}

// Close releases the persistent tier.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached value for key, or ok=false on a miss. A slow-tier
// hit is promoted into the fast tier.
func (c *Cache) Get(key string) ([]byte, bool) {
	now := c.now()

	c.mu.Lock()
	if e, ok := c.fast[key]; ok {
		if e.expired(now) {
			delete(c.fast, key)
		} else {
			c.mu.Unlock()
			metrics.CacheHitsTotal.WithLabelValues("fast").Inc()
			return e.value, true
		}
	}
	c.mu.Unlock()

	e, ok := c.readSlow(key, now)
	if !ok {
		metrics.CacheMissesTotal.Inc()
		return nil, false
	}

	c.mu.Lock()
	c.fast[key] = e
	c.evictLocked()
	c.mu.Unlock()

	metrics.CacheHitsTotal.WithLabelValues("slow").Inc()
	return e.value, true
}

// Set stores value under key in both tiers. A ttl of zero means no expiry.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) error {
	now := c.now()
	e := fastEntry{value: value, createdAt: now}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}

	c.mu.Lock()
	c.fast[key] = e
	c.evictLocked()
	c.mu.Unlock()

	data, err := json.Marshal(diskEntry{
		Key:       key,
		Value:     value,
		CreatedAt: e.createdAt,
		ExpiresAt: e.expiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		slog.Error("Failed to write persistent cache entry", "key", key, "error", err)
		return fmt.Errorf("failed to persist cache entry: %w", err)
	}
	return nil
}

// Delete removes key from both tiers. Reports whether it was present in
// the fast tier.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	_, found := c.fast[key]
	delete(c.fast, key)
	c.mu.Unlock()

	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		slog.Error("Failed to delete persistent cache entry", "key", key, "error", err)
	}
	return found
}

// Clear drops every entry from both tiers.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.fast = make(map[string]fastEntry)
	c.mu.Unlock()

	if err := c.db.DropAll(); err != nil {
		return fmt.Errorf("failed to clear persistent cache: %w", err)
	}
	return nil
}

// CleanExpired removes expired entries from both tiers and returns how
// many were removed from each. Safe to call concurrently with Get/Set; it
// is invoked periodically by the maintenance scheduler.
func (c *Cache) CleanExpired() (fastRemoved, slowRemoved int) {
	now := c.now()

	c.mu.Lock()
	for k, e := range c.fast {
		if e.expired(now) {
			delete(c.fast, k)
			fastRemoved++
		}
	}
	c.mu.Unlock()

	var expired [][]byte
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var e diskEntry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				// Unreadable entries are treated as expired.
				expired = append(expired, item.KeyCopy(nil))
				continue
			}
			if !e.ExpiresAt.IsZero() && e.ExpiresAt.Before(now) {
				expired = append(expired, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("Failed to scan persistent cache for expiry", "error", err)
		return fastRemoved, 0
	}

	for _, key := range expired {
		err := c.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
		if err != nil {
			slog.Error("Failed to remove expired cache entry", "key", string(key), "error", err)
			continue
		}
		slowRemoved++
	}
	return fastRemoved, slowRemoved
}

// Len returns the number of fast-tier entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fast)
}

func (e fastEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && e.expiresAt.Before(now)
}

// evictLocked trims the fast tier to its bound, removing entries with the
// nearest expiry first. Entries with no expiry sort last. Caller holds mu.
func (c *Cache) evictLocked() {
	excess := len(c.fast) - c.maxFast
	if excess <= 0 {
		return
	}

	type candidate struct {
		key       string
		expiresAt time.Time
	}
	candidates := make([]candidate, 0, len(c.fast))
	for k, e := range c.fast {
		candidates = append(candidates, candidate{key: k, expiresAt: e.expiresAt})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].expiresAt, candidates[j].expiresAt
		if a.IsZero() {
			return false
		}
		if b.IsZero() {
			return true
		}
		return a.Before(b)
	})

	for _, cand := range candidates[:excess] {
		delete(c.fast, cand.key)
	}
	metrics.CacheEvictionsTotal.Add(float64(excess))
}

func (c *Cache) readSlow(key string, now time.Time) (fastEntry, bool) {
	var e diskEntry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if err != nil {
		if err != badger.ErrKeyNotFound {
			slog.Error("Failed to read persistent cache entry", "key", key, "error", err)
		}
		return fastEntry{}, false
	}

	if !e.ExpiresAt.IsZero() && e.ExpiresAt.Before(now) {
		delErr := c.db.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte(key))
		})
		if delErr != nil {
			slog.Error("Failed to remove expired cache entry", "key", key, "error", delErr)
		}
		return fastEntry{}, false
	}

	return fastEntry{value: e.Value, createdAt: e.CreatedAt, expiresAt: e.ExpiresAt}, true
}
