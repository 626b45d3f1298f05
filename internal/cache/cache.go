package cache

import (
	"encoding/binary"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/23skdu/longbow-reduce/internal/tensor"
)

// Entry is a cached reduction result. Entries are immutable once stored;
// callers copy Data before handing it out.
type Entry struct {
	DType tensor.DataType
	Shape tensor.Shape
	Data  any
	// Header is the request header of the key the entry was stored under.
	Header []int64
}

// ResultCache defines a generic interface for caching reduction results.
type ResultCache interface {
	// Get retrieves the result stored under key. An entry whose header
	// differs from the key's is a digest collision and reported as a miss.
	Get(key *Key) (Entry, bool)
	// Put stores a result in the cache.
	Put(key *Key, e Entry)
	// Size returns the number of items in the cache.
	Size() int
}

// MapCache is a bounded in-memory implementation of ResultCache. When full,
// the oldest entry is evicted.
type MapCache struct {
	data     map[uint64]Entry
	order    []uint64
	capacity int
	mu       sync.RWMutex
}

// NewMapCache returns a cache holding at most capacity entries. Zero or
// negative means unbounded.
func NewMapCache(capacity int) *MapCache {
	return &MapCache{
		data:     make(map[uint64]Entry),
		capacity: capacity,
	}
}

func (c *MapCache) Get(key *Key) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.data[key.Sum64()]
	if ok && !slices.Equal(e.Header, key.header) {
		collisions.Inc()
		ok = false
	}
	if !ok {
		misses.Inc()
		return Entry{}, false
	}
	hits.Inc()
	return e, true
}

// Put stores e under key. A colliding entry is replaced.
func (c *MapCache) Put(key *Key, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sum := key.Sum64()
	if _, ok := c.data[sum]; !ok {
		if c.capacity > 0 && len(c.data) >= c.capacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.data, oldest)
			evictions.Inc()
		}
		c.order = append(c.order, sum)
	}
	e.Shape = e.Shape.Clone()
	e.Header = slices.Clone(key.header)
	c.data[sum] = e
	size.Set(float64(len(c.data)))
}

func (c *MapCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Key hashes a reduction request: the operation header and the raw input
// bytes. The header is also kept verbatim and checked on lookup.
type Key struct {
	d      *xxhash.Digest
	header []int64
}

// NewKey starts a key with the given header fields.
func NewKey(fields ...int64) *Key {
	k := &Key{d: xxhash.New(), header: slices.Clone(fields)}
	var buf [8]byte
	for _, f := range fields {
		binary.LittleEndian.PutUint64(buf[:], uint64(f))
		_, _ = k.d.Write(buf[:])
	}
	return k
}

// Write appends raw bytes to the key.
func (k *Key) Write(p []byte) (int, error) {
	return k.d.Write(p)
}

// Sum64 returns the key digest.
func (k *Key) Sum64() uint64 {
	return k.d.Sum64()
}
