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

// PutRule writes a rule definition, bumping its version and UpdatedAt.
// Rule changes take effect for subsequently dispatched events only; the
// engine evaluates against the snapshot it was handed.
func (s *Store) PutRule(ctx context.Context, rule *models.Rule) error {
	rule.Version++
	rule.UpdatedAt = time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = rule.UpdatedAt
	}

	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("marshal rule: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(ruleKey(rule.ProjectID, rule.ID), data)
	})
}

// GetRule retrieves one rule. Returns ErrNotFound when absent.
func (s *Store) GetRule(ctx context.Context, projectID, ruleID string) (*models.Rule, error) {
	var rule models.Rule
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(ruleKey(projectID, ruleID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get rule: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rule)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// DeactivateRule clears a rule's active flag without deleting it, so
// its history remains inspectable.
func (s *Store) DeactivateRule(ctx context.Context, projectID, ruleID string) error {
	rule, err := s.GetRule(ctx, projectID, ruleID)
	if err != nil {
		return err
	}
	rule.Active = false
	return s.PutRule(ctx, rule)
}

// ListActiveRules returns the active rules for a tenant, in storage
// order. Ordering for evaluation (priority, then rule ID) is the rule
// engine's responsibility, not the store's.
func (s *Store) ListActiveRules(ctx context.Context, projectID string) ([]models.Rule, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOp("list_rules", time.Since(start)) }()

	var out []models.Rule
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("rule:" + projectID + ":")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rule models.Rule
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rule)
			}); err != nil {
				return err
			}
			if rule.Active {
				out = append(out, rule)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListRules returns every rule for a tenant, active or not.
func (s *Store) ListRules(ctx context.Context, projectID string) ([]models.Rule, error) {
	var out []models.Rule
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("rule:" + projectID + ":")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rule models.Rule
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rule)
			}); err != nil {
				return err
			}
			out = append(out, rule)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PutQuest writes a quest definition.
func (s *Store) PutQuest(ctx context.Context, quest *models.QuestDefinition) error {
	quest.UpdatedAt = time.Now().UTC()
	if quest.CreatedAt.IsZero() {
		quest.CreatedAt = quest.UpdatedAt
	}

	data, err := json.Marshal(quest)
	if err != nil {
		return fmt.Errorf("marshal quest: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(questKey(quest.ProjectID, quest.ID), data)
	})
}

// ListActiveQuests returns the active quests for a tenant.
func (s *Store) ListActiveQuests(ctx context.Context, projectID string) ([]models.QuestDefinition, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOp("list_quests", time.Since(start)) }()

	var out []models.QuestDefinition
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("quest:" + projectID + ":")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var quest models.QuestDefinition
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &quest)
			}); err != nil {
				return err
			}
			if quest.Active {
				out = append(out, quest)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
