// Package cache stores synthesized audio keyed by the parameters that
// produced it, so repeated utterances skip synthesis. Lookups hit an
// in-memory LRU first and fall back to a compressed on-disk store.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
)

// ErrTooLarge is returned when a single entry exceeds the cache capacity.
var ErrTooLarge = errors.New("entry too large for cache")

// Key identifies one synthesis result. Two requests with the same key are
// guaranteed to produce the same audio, so every parameter that influences
// synthesis output must be part of it.
type Key struct {
	Engine string
	Voice  string
	Text   string
	Rate   float64
	Pitch  float64
	Volume float64
}

// digest returns the stable hex form of the key used for map lookups and
// cache file names.
func (k Key) digest() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%.4f|%.4f|%.4f|", k.Engine, k.Voice, k.Rate, k.Pitch, k.Volume)
	h.Write([]byte(k.Text))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// Config sizes the cache. The zero value of any field falls back to the
// defaults below.
type Config struct {
	// Dir is the directory for the on-disk store. Empty disables the disk
	// level; the cache then lives in memory only.
	Dir string

	// MemoryCapacity bounds the in-memory level, in bytes.
	MemoryCapacity int64

	// DiskCapacity bounds the on-disk level, in bytes.
	DiskCapacity int64

	// Level is the zstd compression level for disk entries.
	Level int
}

const (
	defaultMemoryCapacity = 32 * 1024 * 1024
	defaultDiskCapacity   = 512 * 1024 * 1024
	defaultLevel          = 3
)

// Stats is a point-in-time snapshot of cache state and effectiveness.
type Stats struct {
	MemoryBytes int64
	MemoryItems int
	DiskBytes   int64
	DiskItems   int
	Hits        int64
	Misses      int64
	Evictions   int64
	HitRate     float64
}

// Cache is a two-level audio cache. Safe for concurrent use.
type Cache struct {
	mu     sync.Mutex
	mem    *memoryLRU
	disk   *diskStore // nil when Config.Dir is empty
	hits   int64
	misses int64
}

// Open creates the cache, preparing the disk directory and indexing any
// entries left over from earlier runs.
func Open(cfg Config) (*Cache, error) {
	if cfg.MemoryCapacity <= 0 {
		cfg.MemoryCapacity = defaultMemoryCapacity
	}
	if cfg.DiskCapacity <= 0 {
		cfg.DiskCapacity = defaultDiskCapacity
	}
	if cfg.Level <= 0 {
		cfg.Level = defaultLevel
	}
	c := &Cache{mem: newMemoryLRU(cfg.MemoryCapacity)}
	if cfg.Dir != "" {
		disk, err := newDiskStore(cfg.Dir, cfg.DiskCapacity, cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("open disk cache: %w", err)
		}
		c.disk = disk
	}
	return c, nil
}

// Get returns the cached audio for the key. A disk hit is promoted to the
// memory level.
func (c *Cache) Get(k Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := k.digest()
	if data, ok := c.mem.get(d); ok {
		c.hits++
		return data, true
	}
	if c.disk != nil {
		if data, ok := c.disk.get(d); ok {
			c.hits++
			c.mem.put(d, data)
			return data, true
		}
	}
	c.misses++
	return nil, false
}

// Put stores audio under the key at both levels. Entries larger than a
// level's capacity skip that level; an entry too large for every level
// returns ErrTooLarge.
func (c *Cache) Put(k Key, audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := k.digest()
	memErr := c.mem.put(d, audio)
	if c.disk == nil {
		return memErr
	}
	diskErr := c.disk.put(d, audio)
	if memErr != nil && diskErr != nil {
		return ErrTooLarge
	}
	return nil
}

// Clear drops every entry at every level.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mem.clear()
	if c.disk != nil {
		return c.disk.clear()
	}
	return nil
}

// Stats reports the current cache state.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		MemoryBytes: c.mem.size,
		MemoryItems: c.mem.len(),
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.mem.evictions,
	}
	if c.disk != nil {
		s.DiskBytes = c.disk.size
		s.DiskItems = len(c.disk.entries)
		s.Evictions += c.disk.evictions
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Close releases compressor resources. The disk store needs no flushing;
// entries are durable as soon as Put returns.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disk != nil {
		return c.disk.close()
	}
	return nil
}
