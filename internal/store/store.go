// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

// Package store persists the event processing core's durable state in
// BadgerDB: processing records, subject progress state, rule and quest
// definitions, and commission records.
//
// Key layout:
//
//	record:<project>:<event>              ProcessingRecord
//	subject:<project>:<subject>           SubjectState
//	applied:<project>:<event>:<subject>:<source>  applied marker
//	rule:<project>:<rule>                 Rule
//	quest:<project>:<quest>               QuestDefinition
//	commission:<project>:<event>          CommissionRecord
//
// All mutations for one subject run inside a single Badger transaction
// guarded by a per-subject lock stripe, so concurrent handlers for the
// same subject never race and a subject's state never reflects a
// partially applied event.
package store

import (
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/perkforge/perkforge/internal/logging"
)

// lockStripes is the size of the per-subject mutex stripe. Power of two
// so the hash reduces with a mask.
const lockStripes = 256

// Store is the BadgerDB-backed persistence layer. It satisfies the
// persistence interfaces the event processor depends on
// (RecordStore, StateStore, RuleSource, QuestSource, CommissionSink).
type Store struct {
	db    *badger.DB
	locks [lockStripes]sync.Mutex
}

// Options configures the store.
type Options struct {
	// Path is the on-disk directory for Badger. Ignored when InMemory.
	Path string

	// InMemory keeps all data in memory. Used by tests.
	InMemory bool
}

// Open opens (or creates) the store at the configured path.
func Open(opts Options) (*Store, error) {
	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(opts.Path)
	}
	badgerOpts = badgerOpts.WithLogger(newBadgerLogger())

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", opts.Path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// subjectLock returns the stripe mutex for a subject.
func (s *Store) subjectLock(projectID, subjectID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(projectID))
	h.Write([]byte{':'})
	h.Write([]byte(subjectID))
	return &s.locks[h.Sum32()&(lockStripes-1)]
}

func recordKey(projectID, eventID string) []byte {
	return []byte("record:" + projectID + ":" + eventID)
}

func subjectKey(projectID, subjectID string) []byte {
	return []byte("subject:" + projectID + ":" + subjectID)
}

func appliedKey(projectID, eventID, subjectID, source string) []byte {
	return []byte("applied:" + projectID + ":" + eventID + ":" + subjectID + ":" + source)
}

func ruleKey(projectID, ruleID string) []byte {
	return []byte("rule:" + projectID + ":" + ruleID)
}

func questKey(projectID, questID string) []byte {
	return []byte("quest:" + projectID + ":" + questID)
}

func commissionKey(projectID, eventID string) []byte {
	return []byte("commission:" + projectID + ":" + eventID)
}

// badgerLogger routes Badger's internal logging into zerolog.
type badgerLogger struct{}

func newBadgerLogger() badgerLogger { return badgerLogger{} }

func (badgerLogger) Errorf(format string, args ...any) {
	logging.Error().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Warningf(format string, args ...any) {
	logging.Warn().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Infof(format string, args ...any) {
	logging.Debug().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Debugf(format string, args ...any) {
	logging.Trace().Str("component", "badger").Msgf(format, args...)
}
