// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package eventprocessor

import (
	"hash/fnv"
	"sync"
)

// partitionLocks serializes dispatches that share a partition key.
// Keys hash onto a fixed set of stripes, so two envelopes for the same
// subject always contend on the same mutex while unrelated subjects
// mostly proceed in parallel. This is what lets SubscribersCount exceed
// one without racing ordering-sensitive effects like quest steps and
// tier progression.
type partitionLocks struct {
	stripes []sync.Mutex
}

func newPartitionLocks(n int) *partitionLocks {
	if n <= 0 {
		n = defaultPartitionStripes
	}
	return &partitionLocks{stripes: make([]sync.Mutex, n)}
}

// lock acquires the stripe for key and returns its release func.
func (p *partitionLocks) lock(key string) func() {
	m := &p.stripes[p.stripe(key)]
	m.Lock()
	return m.Unlock
}

func (p *partitionLocks) stripe(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % uint32(len(p.stripes))
}
