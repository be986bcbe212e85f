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

// ReadSubjectState returns a snapshot of a subject's progress state. A
// subject that has never been seen gets a fresh empty state, not an
// error, so first events need no separate creation path.
func (s *Store) ReadSubjectState(ctx context.Context, projectID, subjectID string) (*models.SubjectState, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOp("read_subject", time.Since(start)) }()

	state := models.NewSubjectState(projectID, subjectID)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(subjectKey(projectID, subjectID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get subject: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, state)
		})
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// ApplySubjectMutation runs mutate against the subject's current state
// and persists the result, as one atomic unit guarded by the subject's
// stripe lock.
//
// The (event, subject, source) applied marker is written in the same
// transaction: a redelivered event or a sweeper re-drive that reaches
// this point again gets ErrAlreadyApplied and mutates nothing. This is
// the authoritative barrier against double application under
// at-least-once delivery.
func (s *Store) ApplySubjectMutation(ctx context.Context, projectID, subjectID, eventID, source string, mutate func(*models.SubjectState) error) error {
	start := time.Now()
	defer func() { metrics.RecordStoreOp("apply_mutation", time.Since(start)) }()

	lock := s.subjectLock(projectID, subjectID)
	lock.Lock()
	defer lock.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		marker := appliedKey(projectID, eventID, subjectID, source)
		_, err := txn.Get(marker)
		if err == nil {
			return ErrAlreadyApplied
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check applied marker: %w", err)
		}

		state := models.NewSubjectState(projectID, subjectID)
		item, err := txn.Get(subjectKey(projectID, subjectID))
		if err == nil {
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, state)
			}); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get subject: %w", err)
		}

		if err := mutate(state); err != nil {
			return err
		}
		state.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("marshal subject: %w", err)
		}
		if err := txn.Set(subjectKey(projectID, subjectID), data); err != nil {
			return err
		}
		return txn.Set(marker, []byte{1})
	})
}
