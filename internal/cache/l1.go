// Copyright (c) 2024 The vecs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache implements the exact-match L1 layer: a separate-chaining
// hash map keyed by a normalized composite string, with per-entry TTL
// and lazy expiry on access. It is owned exclusively by the reactor
// goroutine and requires no internal locking.
package cache

import (
	"time"

	"github.com/riccardogiuriola/vecs/internal/stats"
)

type entry struct {
	key    string
	value  string
	expiry time.Time
	next   *entry
}

const defaultBucketCount = 1024

// L1 is the exact-cache hash map.
type L1 struct {
	buckets []*entry
	count   int
	stats   *stats.Stats
}

// NewL1 creates an L1 cache with the default bucket count (1024).
func NewL1() *L1 {
	return NewL1WithBuckets(defaultBucketCount)
}

// NewL1WithBuckets creates an L1 cache with an explicit bucket count.
func NewL1WithBuckets(n int) *L1 {
	if n <= 0 {
		n = defaultBucketCount
	}
	return &L1{buckets: make([]*entry, n)}
}

// SetStats attaches the metric set Get/Each increment when they discover
// (and unlink) an expired entry. Passing nil disables metric emission.
func (c *L1) SetStats(st *stats.Stats) {
	c.stats = st
}

// djb2 is the classic Bernstein hash, extended to 64 bits.
func djb2(s string) uint64 {
	var h uint64 = 5381
	for i := 0; i < len(s); i++ {
		h = h*33 + uint64(s[i])
	}
	return h
}

func (c *L1) bucketIndex(key string) int {
	return int(djb2(key) % uint64(len(c.buckets)))
}

// Set upserts key with value, refreshing its expiry to now+ttl.
func (c *L1) Set(key, value string, ttl time.Duration) {
	idx := c.bucketIndex(key)
	expiry := time.Now().Add(ttl)
	for e := c.buckets[idx]; e != nil; e = e.next {
		if e.key == key {
			e.value = value
			e.expiry = expiry
			return
		}
	}
	c.buckets[idx] = &entry{key: key, value: value, expiry: expiry, next: c.buckets[idx]}
	c.count++
}

// Get returns the value for key and true, unless the key is absent or
// its TTL has elapsed (in which case it is unlinked first and a miss
// is reported). The returned string is a borrowed view, not owned by
// the caller in the sense that callers must not expect it to outlive
// a subsequent Set/Delete of the same key.
func (c *L1) Get(key string) (string, bool) {
	idx := c.bucketIndex(key)
	now := time.Now()

	var prev *entry
	for e := c.buckets[idx]; e != nil; e = e.next {
		if e.key != key {
			prev = e
			continue
		}
		if now.After(e.expiry) {
			c.unlink(idx, prev, e)
			if c.stats != nil {
				c.stats.L1ExactExpiry.Inc()
			}
			return "", false
		}
		return e.value, true
	}
	return "", false
}

// Delete removes key if present, reporting whether it was found.
func (c *L1) Delete(key string) bool {
	idx := c.bucketIndex(key)
	var prev *entry
	for e := c.buckets[idx]; e != nil; e = e.next {
		if e.key == key {
			c.unlink(idx, prev, e)
			return true
		}
		prev = e
	}
	return false
}

func (c *L1) unlink(idx int, prev, e *entry) {
	if prev == nil {
		c.buckets[idx] = e.next
	} else {
		prev.next = e.next
	}
	c.count--
}

// Clear removes every entry.
func (c *L1) Clear() {
	for i := range c.buckets {
		c.buckets[i] = nil
	}
	c.count = 0
}

// Len returns the number of live (not necessarily unexpired) entries.
func (c *L1) Len() int {
	return c.count
}

// SnapshotEntry is the shape handed to the snapshot codec: one live,
// unexpired key/value/expiry triple.
type SnapshotEntry struct {
	Key    string
	Value  string
	Expiry time.Time
}

// Each invokes fn for every live entry whose TTL has not yet elapsed,
// skipping (and unlinking) expired ones, for use by the snapshot codec's
// save path.
func (c *L1) Each(fn func(SnapshotEntry)) {
	now := time.Now()
	for idx, head := range c.buckets {
		var prev *entry
		e := head
		for e != nil {
			next := e.next
			if now.After(e.expiry) {
				c.unlink(idx, prev, e)
				if c.stats != nil {
					c.stats.L1ExactExpiry.Inc()
				}
				e = next
				continue
			}
			fn(SnapshotEntry{Key: e.key, Value: e.value, Expiry: e.expiry})
			prev = e
			e = next
		}
	}
}

// LoadEntry inserts a snapshot-restored entry verbatim, preserving its
// absolute expiry instant rather than recomputing it from a TTL.
func (c *L1) LoadEntry(key, value string, expiry time.Time) {
	idx := c.bucketIndex(key)
	for e := c.buckets[idx]; e != nil; e = e.next {
		if e.key == key {
			e.value = value
			e.expiry = expiry
			return
		}
	}
	c.buckets[idx] = &entry{key: key, value: value, expiry: expiry, next: c.buckets[idx]}
	c.count++
}
