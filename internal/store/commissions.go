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

// InsertCommissionRecord books a commission, keyed by the originating
// event ID. A record that already exists is left untouched, so
// redelivery never books a second commission.
func (s *Store) InsertCommissionRecord(ctx context.Context, rec *models.CommissionRecord) error {
	start := time.Now()
	defer func() { metrics.RecordStoreOp("insert_commission", time.Since(start)) }()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal commission: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := commissionKey(rec.ProjectID, rec.EventID)
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check commission: %w", err)
		}
		return txn.Set(key, data)
	})
}

// GetCommissionRecord retrieves the commission booked for an event.
// Returns ErrNotFound when none was booked.
func (s *Store) GetCommissionRecord(ctx context.Context, projectID, eventID string) (*models.CommissionRecord, error) {
	var rec models.CommissionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(commissionKey(projectID, eventID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get commission: %w", err)
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
