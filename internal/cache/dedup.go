// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package cache

import (
	"sync"
	"time"
)

type dedupEntry struct {
	key       string
	seenAt    time.Time
	expiresAt time.Time
	prev      *dedupEntry
	next      *dedupEntry
}

// DedupWindow is a thread-safe LRU window over recently seen event IDs.
// It is a fast-path filter in front of the durable applied markers: a hit
// means the event was seen within the TTL, a miss means the store must be
// consulted. All operations are O(1).
//
// The window uses a doubly-linked list for recency ordering and a map for
// lookup. Expired entries are dropped lazily on access and eagerly by
// CleanupExpired.
type DedupWindow struct {
	mu sync.Mutex

	capacity int
	ttl      time.Duration

	items map[string]*dedupEntry

	// head.next is most recently seen, tail.prev is least recently seen.
	head *dedupEntry
	tail *dedupEntry

	hits   int64
	misses int64
}

// NewDedupWindow creates a deduplication window with the given capacity
// and TTL. Non-positive values fall back to 10000 entries and 5 minutes.
func NewDedupWindow(capacity int, ttl time.Duration) *DedupWindow {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	w := &DedupWindow{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*dedupEntry, capacity),
		head:     &dedupEntry{},
		tail:     &dedupEntry{},
	}
	w.head.next = w.tail
	w.tail.prev = w.head
	return w
}

// Seen reports whether the key was observed within the TTL, recording it
// if not. A true return means the caller is looking at a redelivery.
func (w *DedupWindow) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()

	if entry, ok := w.items[key]; ok {
		if !now.After(entry.expiresAt) {
			w.moveToFront(entry)
			w.hits++
			return true
		}
		w.unlink(entry)
	}

	entry := &dedupEntry{
		key:       key,
		seenAt:    now,
		expiresAt: now.Add(w.ttl),
	}
	w.pushFront(entry)
	w.items[key] = entry

	for len(w.items) > w.capacity {
		w.evictOldest()
	}

	w.misses++
	return false
}

// Contains checks membership without recording the key or touching
// recency order.
func (w *DedupWindow) Contains(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, ok := w.items[key]
	return ok && !time.Now().After(entry.expiresAt)
}

// Forget drops a key from the window. Used when a store write fails after
// the key was optimistically recorded, so a redelivery is not filtered.
func (w *DedupWindow) Forget(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if entry, ok := w.items[key]; ok {
		w.unlink(entry)
		return true
	}
	return false
}

// Len returns the current number of tracked keys.
func (w *DedupWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

// Stats returns hit/miss counters and the current size.
func (w *DedupWindow) Stats() (hits, misses int64, size int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hits, w.misses, len(w.items)
}

// CleanupExpired removes all expired keys and returns how many were
// dropped.
func (w *DedupWindow) CleanupExpired() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	removed := 0
	for entry := w.tail.prev; entry != w.head; {
		prev := entry.prev
		if now.After(entry.expiresAt) {
			w.unlink(entry)
			removed++
		}
		entry = prev
	}
	return removed
}

// Internal list operations, called with w.mu held.

func (w *DedupWindow) pushFront(entry *dedupEntry) {
	entry.prev = w.head
	entry.next = w.head.next
	w.head.next.prev = entry
	w.head.next = entry
}

func (w *DedupWindow) moveToFront(entry *dedupEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	w.pushFront(entry)
}

func (w *DedupWindow) unlink(entry *dedupEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(w.items, entry.key)
}

func (w *DedupWindow) evictOldest() {
	oldest := w.tail.prev
	if oldest == w.head {
		return
	}
	w.unlink(oldest)
}
