// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package eventprocessor

import (
	"context"
	"testing"
	"time"

	"github.com/perkforge/perkforge/internal/models"
	"github.com/perkforge/perkforge/internal/store"
)

func testSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:           time.Second,
		StalenessThreshold: time.Millisecond,
		BatchSize:          100,
		MaxSweepAttempts:   3,
		RatePerSecond:      0, // No throttle in tests.
	}
}

func newTestSweeper(t *testing.T) (*Sweeper, *Dispatcher, *store.Store) {
	t.Helper()
	d, st := newTestPipeline(t)
	sw, err := NewSweeper(testSweeperConfig(), st, d)
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	return sw, d, st
}

// seedPending writes a pending record with its serialized envelope and
// waits out the staleness threshold.
func seedPending(t *testing.T, st *store.Store, env *models.Envelope) *models.ProcessingRecord {
	t.Helper()
	raw := mustSerialize(t, env)
	rec := models.NewProcessingRecord(env, raw)
	if err := st.UpsertProcessingRecord(context.Background(), rec); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	return rec
}

func TestSweeper_RedrivesStalePending(t *testing.T) {
	sw, _, st := newTestSweeper(t)
	ctx := context.Background()

	env := testEnvelope(models.EventTypeTrack)
	seedPending(t, st, env)

	if touched := sw.Sweep(ctx); touched != 1 {
		t.Fatalf("Sweep() touched %d records, want 1", touched)
	}

	rec, err := st.GetProcessingRecord(ctx, "acme", env.EventID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.State != models.StateProcessed {
		t.Errorf("record state = %q after re-drive, want processed", rec.State)
	}
	if rec.SweepAttempts != 1 {
		t.Errorf("sweep attempts = %d, want 1", rec.SweepAttempts)
	}

	state, err := st.ReadSubjectState(ctx, "acme", "user-1")
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	if state.Streak.Current != 1 {
		t.Errorf("streak = %d after re-driven track event, want 1", state.Streak.Current)
	}
}

func TestSweeper_NothingStale(t *testing.T) {
	sw, _, _ := newTestSweeper(t)

	if touched := sw.Sweep(context.Background()); touched != 0 {
		t.Errorf("Sweep() touched %d records on empty store, want 0", touched)
	}
}

func TestSweeper_SkipsTerminalAndInFlight(t *testing.T) {
	sw, _, st := newTestSweeper(t)
	ctx := context.Background()

	// Terminal record: never swept.
	done := testEnvelope(models.EventTypeTrack)
	done.EventID = "evt-done"
	doneRec := seedPending(t, st, done)
	doneRec.State = models.StateProcessed
	if err := st.UpsertProcessingRecord(ctx, doneRec); err != nil {
		t.Fatalf("upsert record: %v", err)
	}

	// In-flight record: a live consumer holds it.
	busy := testEnvelope(models.EventTypeTrack)
	busy.EventID = "evt-busy"
	seedPending(t, st, busy)
	if err := st.MarkInFlight(ctx, "acme", "evt-busy", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("mark in flight: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if touched := sw.Sweep(ctx); touched != 0 {
		t.Errorf("Sweep() touched %d records, want 0", touched)
	}
}

func TestSweeper_ExhaustedAttemptsDeadLetter(t *testing.T) {
	sw, d, st := newTestSweeper(t)
	ctx := context.Background()

	env := testEnvelope(models.EventTypeTrack)
	rec := seedPending(t, st, env)
	rec.SweepAttempts = testSweeperConfig().MaxSweepAttempts
	if err := st.UpsertProcessingRecord(ctx, rec); err != nil {
		t.Fatalf("upsert record: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if touched := sw.Sweep(ctx); touched != 1 {
		t.Fatalf("Sweep() touched %d records, want 1", touched)
	}

	got, err := st.GetProcessingRecord(ctx, "acme", env.EventID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.State != models.StateFailed {
		t.Errorf("record state = %q, want failed after exhausted sweeps", got.State)
	}
	if d.DLQ().GetEntry(env.EventID) == nil {
		t.Error("dead-lettered record missing from DLQ")
	}
}

func TestSweeper_UnreadableEnvelopeDeadLetter(t *testing.T) {
	sw, d, st := newTestSweeper(t)
	ctx := context.Background()

	env := testEnvelope(models.EventTypeTrack)
	rec := models.NewProcessingRecord(env, []byte("corrupted {{"))
	if err := st.UpsertProcessingRecord(ctx, rec); err != nil {
		t.Fatalf("upsert record: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	sw.Sweep(ctx)

	got, err := st.GetProcessingRecord(ctx, "acme", env.EventID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.State != models.StateFailed {
		t.Errorf("record state = %q, want failed for unreadable envelope", got.State)
	}
	if entry := d.DLQ().GetEntry(env.EventID); entry == nil {
		t.Error("unreadable record missing from DLQ")
	}
}

func TestSweeper_RedriveIsIdempotentWithPriorPartialApply(t *testing.T) {
	sw, _, st := newTestSweeper(t)
	ctx := context.Background()

	env := testEnvelope(models.EventTypeTrack)
	seedPending(t, st, env)

	// Simulate a crash after the tracking handler's effects landed but
	// before the record went terminal.
	err := st.ApplySubjectMutation(ctx, "acme", "user-1", env.EventID, HandlerTracking, func(state *models.SubjectState) error {
		state.Streak.Current = 1
		state.Streak.Longest = 1
		state.Streak.LastDay = env.OccurredAt.UTC().Format("2006-01-02")
		return nil
	})
	if err != nil {
		t.Fatalf("pre-apply mutation: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if touched := sw.Sweep(ctx); touched != 1 {
		t.Fatalf("Sweep() touched %d records, want 1", touched)
	}

	got, err := st.GetProcessingRecord(ctx, "acme", env.EventID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.State != models.StateProcessed {
		t.Errorf("record state = %q, want processed", got.State)
	}

	state, _ := st.ReadSubjectState(ctx, "acme", "user-1")
	if state.Streak.Current != 1 {
		t.Errorf("streak = %d, want 1 (re-drive must not double-apply)", state.Streak.Current)
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	sw, _, _ := newTestSweeper(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
}
