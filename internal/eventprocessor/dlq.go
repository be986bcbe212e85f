// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package eventprocessor

import (
	"sync/atomic"
	"time"

	"github.com/perkforge/perkforge/internal/cache"
	"github.com/perkforge/perkforge/internal/metrics"
	"github.com/perkforge/perkforge/internal/models"
)

// DLQEntry is one permanently failed envelope surfaced for inspection.
// Entries are in-memory operator visibility on top of the durable failed
// processing records; losing them on restart loses nothing durable.
type DLQEntry struct {
	// Envelope is the failed event.
	Envelope *models.Envelope `json:"envelope"`

	// MessageID is the stream message or event ID.
	MessageID string `json:"message_id"`

	// Error is the terminal error message.
	Error string `json:"error"`

	// Category is the error category for routing and metrics.
	Category ErrorCategory `json:"category"`

	// FailedAt is when the envelope was dead-lettered.
	FailedAt time.Time `json:"failed_at"`
}

// DLQStats holds runtime statistics for the DLQ.
type DLQStats struct {
	TotalEntries int64     `json:"total_entries"`
	TotalAdded   int64     `json:"total_added"`
	TotalRemoved int64     `json:"total_removed"`
	TotalExpired int64     `json:"total_expired"`
	OldestEntry  time.Time `json:"oldest_entry,omitempty"`
}

// DLQHandler manages the in-memory dead letter queue. A min-heap keyed
// by failure time gives O(log n) capacity eviction and O(k log n)
// retention cleanup.
type DLQHandler struct {
	config  DLQConfig
	entries *cache.MinHeap[*DLQEntry]

	totalAdded   atomic.Int64
	totalRemoved atomic.Int64
	totalExpired atomic.Int64
}

// NewDLQHandler creates a dead letter queue handler.
func NewDLQHandler(cfg DLQConfig) (*DLQHandler, error) {
	if cfg.MaxEntries <= 0 {
		return nil, ErrInvalidConfig
	}
	if cfg.RetentionTime <= 0 {
		cfg.RetentionTime = 7 * 24 * time.Hour
	}
	return &DLQHandler{
		config:  cfg,
		entries: cache.NewMinHeap[*DLQEntry](cfg.MaxEntries),
	}, nil
}

// AddEntry records a failed envelope. When at capacity the oldest entry
// is evicted.
func (h *DLQHandler) AddEntry(env *models.Envelope, err error, messageID string) *DLQEntry {
	entry := &DLQEntry{
		Envelope:  env,
		MessageID: messageID,
		Error:     err.Error(),
		Category:  CategoryOf(err),
		FailedAt:  time.Now().UTC(),
	}

	if evicted := h.entries.Push(entryKey(env, messageID), entry, entry.FailedAt); evicted != nil {
		h.totalExpired.Add(1)
	}
	h.totalAdded.Add(1)
	metrics.DLQAdded.WithLabelValues(entry.Category.String()).Inc()
	h.updateGauges()

	return entry
}

// GetEntry retrieves an entry by event ID, or nil.
func (h *DLQHandler) GetEntry(eventID string) *DLQEntry {
	if e := h.entries.Get(eventID); e != nil {
		return e.Value
	}
	return nil
}

// RemoveEntry removes an entry, returning whether it existed.
func (h *DLQHandler) RemoveEntry(eventID string) bool {
	if h.entries.Remove(eventID) != nil {
		h.totalRemoved.Add(1)
		h.updateGauges()
		return true
	}
	return false
}

// ListEntries returns all entries, newest-failure last is not
// guaranteed; callers sort as needed.
func (h *DLQHandler) ListEntries() []*DLQEntry {
	heapEntries := h.entries.All()
	out := make([]*DLQEntry, 0, len(heapEntries))
	for _, e := range heapEntries {
		out = append(out, e.Value)
	}
	return out
}

// Cleanup removes entries past the retention window and returns how
// many were dropped.
func (h *DLQHandler) Cleanup() int {
	removed := h.entries.PopBefore(time.Now().Add(-h.config.RetentionTime))
	h.totalExpired.Add(int64(len(removed)))
	h.updateGauges()
	return len(removed)
}

// Stats returns current DLQ statistics and refreshes the gauges.
func (h *DLQHandler) Stats() DLQStats {
	stats := DLQStats{
		TotalEntries: int64(h.entries.Len()),
		TotalAdded:   h.totalAdded.Load(),
		TotalRemoved: h.totalRemoved.Load(),
		TotalExpired: h.totalExpired.Load(),
	}
	if oldest := h.entries.Peek(); oldest != nil {
		stats.OldestEntry = oldest.Timestamp
	}
	h.updateGauges()
	return stats
}

func (h *DLQHandler) updateGauges() {
	oldestAge := float64(0)
	if oldest := h.entries.Peek(); oldest != nil {
		oldestAge = time.Since(oldest.Timestamp).Seconds()
	}
	metrics.UpdateDLQGauges(int64(h.entries.Len()), oldestAge)
}

func entryKey(env *models.Envelope, messageID string) string {
	if env != nil && env.EventID != "" {
		return env.EventID
	}
	return messageID
}
