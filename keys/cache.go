// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package keys

import (
	"bytes"
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const fetchTimeout = 30 * time.Second

// keyCache holds a single key with optional TTL and single-flight fetch.
type keyCache struct {
	ttl time.Duration
	now func() time.Time

	lock      sync.RWMutex
	key       []byte
	fetchedAt time.Time
	// generation is bumped on every invalidation so that a fetch started
	// before the invalidation cannot repopulate the cache.
	generation uint64

	sfGroup singleflight.Group
}

func newKeyCache(ttl time.Duration) *keyCache {
	return &keyCache{
		ttl: ttl,
		now: time.Now,
	}
}

// peek returns the cached key if present and fresh.
func (c *keyCache) peek() ([]byte, uint64, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.key == nil {
		return nil, c.generation, false
	}
	if c.ttl > 0 && c.now().Sub(c.fetchedAt) >= c.ttl {
		return nil, c.generation, false
	}
	return bytes.Clone(c.key), c.generation, true
}

// get returns the cached key or fetches it. Concurrent fetches within one
// generation are deduplicated. The shared fetch is detached from the caller
// that started it and bounded by fetchTimeout; each caller still returns as
// soon as its own ctx is done.
func (c *keyCache) get(ctx context.Context, fetch func(context.Context) ([]byte, error)) ([]byte, error) {
	key, generation, ok := c.peek()
	if ok {
		return key, nil
	}

	ch := c.sfGroup.DoChan(strconv.FormatUint(generation, 10), func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()

		newKey, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		c.lock.Lock()
		if c.generation == generation {
			c.key = newKey
			c.fetchedAt = c.now()
		}
		c.lock.Unlock()
		return newKey, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return bytes.Clone(res.Val.([]byte)), nil
	}
}

// invalidate clears the cache. Readers see no key until a fetch started
// after this call completes.
func (c *keyCache) invalidate() {
	c.lock.Lock()
	c.key = nil
	c.fetchedAt = time.Time{}
	c.generation++
	c.lock.Unlock()
}
