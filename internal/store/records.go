// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/perkforge/perkforge/internal/metrics"
	"github.com/perkforge/perkforge/internal/models"
)

// UpsertProcessingRecord writes a processing record, stamping UpdatedAt.
func (s *Store) UpsertProcessingRecord(ctx context.Context, rec *models.ProcessingRecord) error {
	start := time.Now()
	defer func() { metrics.RecordStoreOp("upsert_record", time.Since(start)) }()

	rec.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.ProjectID, rec.EventID), data)
	})
}

// GetProcessingRecord retrieves a record by event ID.
// Returns ErrNotFound when the event has never been accepted.
func (s *Store) GetProcessingRecord(ctx context.Context, projectID, eventID string) (*models.ProcessingRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOp("get_record", time.Since(start)) }()

	var rec models.ProcessingRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(projectID, eventID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get record: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// MarkInFlight sets the in-flight marker on a record if no other
// consumer holds a live marker. Returns ErrInFlight when the record is
// already being worked on, so the sweeper and a live consumer never
// process the same envelope concurrently.
func (s *Store) MarkInFlight(ctx context.Context, projectID, eventID string, until time.Time) error {
	start := time.Now()
	defer func() { metrics.RecordStoreOp("mark_in_flight", time.Since(start)) }()

	return s.db.Update(func(txn *badger.Txn) error {
		key := recordKey(projectID, eventID)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get record: %w", err)
		}

		var rec models.ProcessingRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}

		now := time.Now().UTC()
		if rec.InFlight(now) {
			return ErrInFlight
		}
		rec.InFlightUntil = until
		rec.UpdatedAt = now

		data, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		return txn.Set(key, data)
	})
}

// ClearInFlight drops the in-flight marker after a dispatch attempt.
func (s *Store) ClearInFlight(ctx context.Context, projectID, eventID string) error {
	rec, err := s.GetProcessingRecord(ctx, projectID, eventID)
	if err != nil {
		return err
	}
	rec.InFlightUntil = time.Time{}
	return s.UpsertProcessingRecord(ctx, rec)
}

// ListStalePending scans for pending records whose last update is older
// than the threshold and that no live consumer holds, up to limit.
// The scan is bounded so a sweeper cycle never starves live traffic.
func (s *Store) ListStalePending(ctx context.Context, threshold time.Duration, limit int) ([]*models.ProcessingRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOp("list_stale", time.Since(start)) }()

	now := time.Now().UTC()
	var out []*models.ProcessingRecord

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("record:")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if limit > 0 && len(out) >= limit {
				return nil
			}

			var rec models.ProcessingRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if rec.Stale(now, threshold) {
				r := rec
				out = append(out, &r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListRecordsByState returns up to limit records in the given state,
// for the admin surface.
func (s *Store) ListRecordsByState(ctx context.Context, projectID string, state models.ProcessingState, limit int) ([]*models.ProcessingRecord, error) {
	var out []*models.ProcessingRecord

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("record:" + projectID + ":")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			var rec models.ProcessingRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if rec.State == state {
				r := rec
				out = append(out, &r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
