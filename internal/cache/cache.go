// Package cache implements the agent's persistent, crash-tolerant, single
// process K/V store (spec §4.2, component C1): TTL expiry plus a
// size-capped LRU eviction sweep, backed by go.etcd.io/bbolt so state
// survives a process restart.
package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	bolt "go.etcd.io/bbolt"

	nnerrors "github.com/nnoe/node-agent/internal/errors"
)

var bucketName = []byte("kv")

// Stats is the snapshot returned by Stats().
type Stats struct {
	Bytes      int64
	Entries    int
	CapBytes   int64
	DefaultTTL time.Duration
}

type meta struct {
	size       int64
	lastAccess int64
	deadline   int64 // unix seconds; stored_at + ttl
}

type record struct {
	Value      []byte `json:"value"`
	StoredAt   int64  `json:"stored_at"`
	TTLSeconds int64  `json:"ttl_seconds"`
	LastAccess int64  `json:"last_access"`
}

// Cache is a persistent, size-capped, TTL-expiring key/value store.
type Cache struct {
	db         *bolt.DB
	capBytes   int64
	defaultTTL time.Duration
	log        logr.Logger
	now        func() time.Time

	mu      sync.Mutex
	index   map[string]*meta
	total   int64
}

// Open opens (creating if absent) the cache file at path. defaultTTL of 0
// means entries put via Put (not PutTTL) expire immediately, matching
// the "immediate expiry" resolution of spec §9 Open Question 3.
func Open(path string, capBytes int64, defaultTTL time.Duration, log logr.Logger) (*Cache, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, nnerrors.New(nnerrors.LocalIO, "cache", fmt.Errorf("opening %s: %w", path, err))
	}

	c := &Cache{
		db:         db,
		capBytes:   capBytes,
		defaultTTL: defaultTTL,
		log:        log.WithName("cache"),
		now:        time.Now,
		index:      make(map[string]*meta),
	}

	if err := c.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return c, nil
}

func (c *Cache) rebuildIndex() error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return nnerrors.New(nnerrors.LocalIO, "cache", err)
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		return b.ForEach(func(k, v []byte) error {
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				// A corrupted individual value is reported as absent,
				// not as an open failure.
				c.log.Error(err, "dropping corrupted cache record", "key", string(k))
				return nil
			}
			size := int64(len(k)) + int64(len(r.Value))
			c.index[string(k)] = &meta{
				size:       size,
				lastAccess: r.LastAccess,
				deadline:   r.StoredAt + r.TTLSeconds,
			}
			c.total += size
			return nil
		})
	})
}

// Put stores value at key with the cache's default TTL.
func (c *Cache) Put(key string, value []byte) error {
	return c.PutTTL(key, value, c.defaultTTL)
}

// PutTTL stores value at key with deadline now+ttl. After PutTTL returns,
// Stats().Bytes is guaranteed <= the configured cap (invariant 1).
func (c *Cache) PutTTL(key string, value []byte, ttl time.Duration) error {
	now := c.now()
	r := record{
		Value:      value,
		StoredAt:   now.Unix(),
		TTLSeconds: int64(ttl / time.Second),
		LastAccess: now.Unix(),
	}
	blob, err := json.Marshal(r)
	if err != nil {
		return nnerrors.New(nnerrors.LocalIO, "cache", err)
	}

	if err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), blob)
	}); err != nil {
		return nnerrors.New(nnerrors.LocalIO, "cache", fmt.Errorf("put %s: %w", key, err))
	}

	c.mu.Lock()
	size := int64(len(key)) + int64(len(value))
	if old, ok := c.index[key]; ok {
		c.total -= old.size
	}
	c.index[key] = &meta{size: size, lastAccess: now.Unix(), deadline: r.StoredAt + r.TTLSeconds}
	c.total += size
	c.mu.Unlock()

	return c.evictToCap()
}

// Get returns the value stored at key, or found=false if it is absent or
// its deadline has passed (spec invariant 2: a value is never observed
// once expired). A hit refreshes last_access for LRU purposes.
func (c *Cache) Get(key string) (value []byte, found bool, err error) {
	now := c.now()

	var r record
	var present bool
	txErr := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &r); err != nil {
			// A corrupted individual value is reported as absent.
			c.log.Error(err, "ignoring corrupted cache record", "key", key)
			return nil
		}
		present = true
		return nil
	})
	if txErr != nil {
		return nil, false, nnerrors.New(nnerrors.LocalIO, "cache", txErr)
	}
	if !present {
		return nil, false, nil
	}
	if r.TTLSeconds <= 0 || now.Unix() > r.StoredAt+r.TTLSeconds {
		// Expired: lazily delete and report absent, same as a corrupted
		// or missing record.
		_ = c.Delete(key)
		return nil, false, nil
	}

	r.LastAccess = now.Unix()
	blob, _ := json.Marshal(r)
	_ = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), blob)
	})

	c.mu.Lock()
	if m, ok := c.index[key]; ok {
		m.lastAccess = now.Unix()
	}
	c.mu.Unlock()

	return r.Value, true, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (c *Cache) Delete(key string) error {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	}); err != nil {
		return nnerrors.New(nnerrors.LocalIO, "cache", err)
	}

	c.mu.Lock()
	if m, ok := c.index[key]; ok {
		c.total -= m.size
		delete(c.index, key)
	}
	c.mu.Unlock()
	return nil
}

// PrefixScan returns every non-expired key/value pair under prefix.
func (c *Cache) PrefixScan(prefix string) ([]KV, error) {
	now := c.now().Unix()
	var out []KV

	err := c.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bucketName).Cursor()
		bp := []byte(prefix)
		for k, v := cur.Seek(bp); k != nil && strings.HasPrefix(string(k), prefix); k, v = cur.Next() {
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}
			if r.TTLSeconds <= 0 || now > r.StoredAt+r.TTLSeconds {
				continue
			}
			out = append(out, KV{Key: string(k), Value: r.Value})
		}
		return nil
	})
	if err != nil {
		return nil, nnerrors.New(nnerrors.LocalIO, "cache", err)
	}
	return out, nil
}

// KV is a key/value pair returned by PrefixScan.
type KV struct {
	Key   string
	Value []byte
}

// Clear removes every entry.
func (c *Cache) Clear() error {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketName); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(bucketName)
		return err
	}); err != nil {
		return nnerrors.New(nnerrors.LocalIO, "cache", err)
	}

	c.mu.Lock()
	c.index = make(map[string]*meta)
	c.total = 0
	c.mu.Unlock()
	return nil
}

// Flush forces the on-disk file to catch up with in-memory state. bbolt
// fsyncs on every Update commit already; Flush exists so callers have an
// explicit durability checkpoint to call at shutdown.
func (c *Cache) Flush() error {
	return c.db.Sync()
}

// Stats returns the current size/entry counts.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Bytes:      c.total,
		Entries:    len(c.index),
		CapBytes:   c.capBytes,
		DefaultTTL: c.defaultTTL,
	}
}

// Close closes the underlying file.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Sweep runs one maintenance pass: delete expired entries, then evict by
// LRU order until the cap is satisfied. Called periodically by the
// caller's own ticker (see internal/orchestrator); PutTTL runs only the
// LRU-eviction half synchronously.
func (c *Cache) Sweep() error {
	if err := c.deleteExpired(); err != nil {
		return err
	}
	return c.evictToCap()
}

func (c *Cache) deleteExpired() error {
	now := c.now().Unix()

	c.mu.Lock()
	var expired []string
	for k, m := range c.index {
		if now > m.deadline {
			expired = append(expired, k)
		}
	}
	c.mu.Unlock()

	if len(expired) == 0 {
		return nil
	}

	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		for _, k := range expired {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nnerrors.New(nnerrors.LocalIO, "cache", err)
	}

	c.mu.Lock()
	for _, k := range expired {
		if m, ok := c.index[k]; ok {
			c.total -= m.size
			delete(c.index, k)
		}
	}
	c.mu.Unlock()
	return nil
}

// evictToCap evicts entries in ascending last_access order, ties broken
// by key bytewise, until total bytes <= cap. A cap of 0 evicts
// everything, including an entry that was just written.
func (c *Cache) evictToCap() error {
	c.mu.Lock()
	if c.total <= c.capBytes {
		c.mu.Unlock()
		return nil
	}

	type kl struct {
		key        string
		lastAccess int64
		size       int64
	}
	entries := make([]kl, 0, len(c.index))
	for k, m := range c.index {
		entries = append(entries, kl{k, m.lastAccess, m.size})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].lastAccess != entries[j].lastAccess {
			return entries[i].lastAccess < entries[j].lastAccess
		}
		return entries[i].key < entries[j].key
	})

	var toEvict []string
	total := c.total
	for _, e := range entries {
		if total <= c.capBytes {
			break
		}
		toEvict = append(toEvict, e.key)
		total -= e.size
	}
	c.mu.Unlock()

	if len(toEvict) == 0 {
		return nil
	}

	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		for _, k := range toEvict {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nnerrors.New(nnerrors.LocalIO, "cache", err)
	}

	c.mu.Lock()
	for _, k := range toEvict {
		if m, ok := c.index[k]; ok {
			c.total -= m.size
			delete(c.index, k)
		}
	}
	c.mu.Unlock()
	return nil
}
