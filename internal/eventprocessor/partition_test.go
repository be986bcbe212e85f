// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package eventprocessor

import "testing"

func TestPartitionLocks_SameKeySameStripe(t *testing.T) {
	p := newPartitionLocks(8)

	key := "acme:user-1"
	first := p.stripe(key)
	for i := 0; i < 100; i++ {
		if got := p.stripe(key); got != first {
			t.Fatalf("stripe(%q) = %d on repeat, want %d", key, got, first)
		}
	}
	if p.stripe(key) >= 8 {
		t.Fatalf("stripe out of range: %d", p.stripe(key))
	}
}

func TestPartitionLocks_ZeroStripesGetsDefault(t *testing.T) {
	p := newPartitionLocks(0)
	if len(p.stripes) != defaultPartitionStripes {
		t.Fatalf("stripes = %d, want %d", len(p.stripes), defaultPartitionStripes)
	}

	unlock := p.lock("acme:user-1")
	unlock()
}
