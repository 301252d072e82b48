// Package chainstate reads historical chain storage.
package chainstate

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// Storage items read by the resolver.
const (
	ItemTopDelegations    = "ParachainStaking.TopDelegations"
	ItemBottomDelegations = "ParachainStaking.BottomDelegations"
	ItemCollatorState     = "ParachainStaking.CollatorState"
)

// Accessor returns the value of a storage item as of a given height: the
// latest value written at or below it. A missing value, or one removed by a
// JSON null, is reported with ok == false and a nil error.
type Accessor interface {
	Get(ctx context.Context, height uint64, item, key string) (value json.RawMessage, ok bool, err error)
}

// MemoryAccessor is an Accessor over an in-memory snapshot set.
type MemoryAccessor struct {
	mu      sync.RWMutex
	entries map[string][]entry
}

type entry struct {
	height uint64
	value  json.RawMessage
}

func NewMemoryAccessor() *MemoryAccessor {
	return &MemoryAccessor{entries: make(map[string][]entry)}
}

func (m *MemoryAccessor) Put(height uint64, item, key string, value json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := item + "/" + key
	list := m.entries[k]
	i, found := slices.BinarySearchFunc(list, height, func(e entry, h uint64) int { return cmp.Compare(e.height, h) })
	if found {
		list[i].value = value
		return
	}
	m.entries[k] = slices.Insert(list, i, entry{height: height, value: value})
}

func (m *MemoryAccessor) Get(_ context.Context, height uint64, item, key string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.entries[item+"/"+key]
	i, found := slices.BinarySearchFunc(list, height, func(e entry, h uint64) int { return cmp.Compare(e.height, h) })
	if !found {
		if i == 0 {
			return nil, false, nil
		}
		i--
	}
	v := list[i].value
	if Removed(v) {
		return nil, false, nil
	}
	return v, true, nil
}

// Removed reports whether a stored value marks the item as deleted.
func Removed(value json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(value), []byte("null"))
}

// CachedAccessor memoizes lookups, including misses. The state as of a
// finalized height never changes, so entries are never invalidated.
type CachedAccessor struct {
	next  Accessor
	cache *lru.Cache
}

type cached struct {
	value json.RawMessage
	ok    bool
}

func NewCachedAccessor(next Accessor, size int) (*CachedAccessor, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedAccessor{next: next, cache: cache}, nil
}

func (c *CachedAccessor) Get(ctx context.Context, height uint64, item, key string) (json.RawMessage, bool, error) {
	k := cacheKey(height, item, key)
	if v, ok := c.cache.Get(k); ok {
		hit := v.(cached)
		return hit.value, hit.ok, nil
	}
	value, ok, err := c.next.Get(ctx, height, item, key)
	if err != nil {
		return nil, false, err
	}
	c.cache.Add(k, cached{value: value, ok: ok})
	return value, ok, nil
}

func cacheKey(height uint64, item, key string) string {
	return fmt.Sprintf("%d/%s/%s", height, item, key)
}
