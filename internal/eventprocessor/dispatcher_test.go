// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package eventprocessor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/perkforge/perkforge/internal/commission"
	"github.com/perkforge/perkforge/internal/models"
	"github.com/perkforge/perkforge/internal/progression"
	"github.com/perkforge/perkforge/internal/rules"
	"github.com/perkforge/perkforge/internal/store"
)

// newTestPipeline wires a full dispatch pipeline over an in-memory
// store. The store doubles as the rule and quest source so scenario
// tests configure tenants through the real persistence path.
func newTestPipeline(t *testing.T) (*Dispatcher, *store.Store) {
	t.Helper()
	st := newTestStore(t)

	registry := NewDefaultRegistry(
		DefaultRegistryConfig(),
		commission.NewCalculator(0.05),
		progression.DefaultLadder(),
		rules.NewEngine(),
		st,
		st,
	)

	executor, err := NewExecutor(st, progression.DefaultLadder())
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	dlq, err := NewDLQHandler(DLQConfig{MaxEntries: 100, RetentionTime: time.Hour})
	if err != nil {
		t.Fatalf("new dlq: %v", err)
	}
	d, err := NewDispatcher(DefaultDispatcherConfig(), st, registry, executor, dlq)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d, st
}

// newCustomPipeline wires a dispatcher over an explicit registry, for
// tests that script handler behavior.
func newCustomPipeline(t *testing.T, registry *Registry) (*Dispatcher, *store.Store) {
	t.Helper()
	st := newTestStore(t)

	executor, err := NewExecutor(st, progression.DefaultLadder())
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	d, err := NewDispatcher(DefaultDispatcherConfig(), st, registry, executor, nil)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d, st
}

func mustSerialize(t *testing.T, env *models.Envelope) []byte {
	t.Helper()
	raw, err := SerializeEnvelope(env)
	if err != nil {
		t.Fatalf("serialize envelope: %v", err)
	}
	return raw
}

func TestDispatcher_PurchaseScenario(t *testing.T) {
	d, st := newTestPipeline(t)
	ctx := context.Background()

	rule := percentPointsRule("r1", 10)
	if err := st.PutRule(ctx, &rule); err != nil {
		t.Fatalf("put rule: %v", err)
	}

	env := testEnvelope(models.EventTypePurchase)
	env.Properties = map[string]any{
		"amount":       float64(10000),
		"affiliate_id": "aff-7",
	}

	if err := d.ProcessEnvelope(ctx, env, mustSerialize(t, env)); err != nil {
		t.Fatalf("ProcessEnvelope() error = %v", err)
	}

	state, err := st.ReadSubjectState(ctx, "acme", "user-1")
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	if state.Points != 1000 {
		t.Errorf("points = %d, want 1000 (10%% of amount)", state.Points)
	}
	if state.CommissionTotal != 500 {
		t.Errorf("commission total = %d, want 500 (5%% default rate)", state.CommissionTotal)
	}
	// 1000 lifetime points crosses the first tier threshold inside the
	// same dispatch.
	if state.Tier != 1 {
		t.Errorf("tier = %d, want 1", state.Tier)
	}

	rec, err := st.GetProcessingRecord(ctx, "acme", env.EventID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.State != models.StateProcessed {
		t.Errorf("record state = %q, want processed", rec.State)
	}
	for _, name := range []string{HandlerPurchase, HandlerProgression} {
		if result, ok := rec.Handlers[name]; !ok || !result.Success {
			t.Errorf("handler %q outcome = %+v, want recorded success", name, result)
		}
	}

	if _, err := st.GetCommissionRecord(ctx, "acme", env.EventID); err != nil {
		t.Errorf("commission record missing: %v", err)
	}
}

func TestDispatcher_RedeliveryIsNoOp(t *testing.T) {
	d, st := newTestPipeline(t)
	ctx := context.Background()

	rule := percentPointsRule("r1", 10)
	if err := st.PutRule(ctx, &rule); err != nil {
		t.Fatalf("put rule: %v", err)
	}

	env := testEnvelope(models.EventTypePurchase)
	env.Properties = map[string]any{"amount": float64(10000)}
	raw := mustSerialize(t, env)

	// First delivery and two redeliveries: one hits the durable record,
	// one hits the in-memory window.
	for i := 0; i < 3; i++ {
		if err := d.ProcessEnvelope(ctx, env, raw); err != nil {
			t.Fatalf("delivery %d error = %v", i+1, err)
		}
	}

	state, err := st.ReadSubjectState(ctx, "acme", "user-1")
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	if state.Points != 1000 {
		t.Errorf("points = %d after redeliveries, want 1000", state.Points)
	}
}

func TestDispatcher_ClientPurchaseFailsPermanently(t *testing.T) {
	d, st := newTestPipeline(t)
	ctx := context.Background()

	env := testEnvelope(models.EventTypePurchase)
	env.Provenance = models.ProvenanceClient
	env.Properties = map[string]any{"amount": float64(10000)}

	// Terminal failure is not an error to the transport: the message
	// must be acked, never redelivered.
	if err := d.ProcessEnvelope(ctx, env, mustSerialize(t, env)); err != nil {
		t.Fatalf("ProcessEnvelope() error = %v, want nil for terminal failure", err)
	}

	rec, err := st.GetProcessingRecord(ctx, "acme", env.EventID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.State != models.StateFailed {
		t.Errorf("record state = %q, want failed", rec.State)
	}

	state, err := st.ReadSubjectState(ctx, "acme", "user-1")
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	if state.Points != 0 || state.CommissionTotal != 0 {
		t.Errorf("untrusted purchase mutated state: %+v", state)
	}

	if d.DLQ().GetEntry(env.EventID) == nil {
		t.Error("failed envelope missing from DLQ")
	}
}

func TestDispatcher_QuestCompletionAcrossEvents(t *testing.T) {
	d, st := newTestPipeline(t)
	ctx := context.Background()

	quest := threeStepQuest()
	if err := st.PutQuest(ctx, &quest); err != nil {
		t.Fatalf("put quest: %v", err)
	}

	drive := func(id, eventType string, props map[string]any) {
		t.Helper()
		env := testEnvelope(eventType)
		env.EventID = id
		env.Properties = props
		if err := d.ProcessEnvelope(ctx, env, mustSerialize(t, env)); err != nil {
			t.Fatalf("ProcessEnvelope(%s) error = %v", id, err)
		}
	}

	drive("q-1", models.EventTypeSignup, nil)
	drive("q-2", models.EventTypePurchase, map[string]any{"amount": float64(1000)})
	drive("q-3", models.EventTypeTrack, nil)

	state, err := st.ReadSubjectState(ctx, "acme", "user-1")
	if err != nil {
		t.Fatalf("read state: %v", err)
	}

	progress, ok := state.Quests["q1"]
	if !ok || !progress.Completed || progress.Step != 3 {
		t.Fatalf("quest progress = %+v, want completed at step 3", progress)
	}
	if state.Points != 250 {
		t.Errorf("points = %d, want 250 reward", state.Points)
	}
	if !state.HasBadge("onboarded") {
		t.Error("reward badge not granted")
	}
	if state.Streak.Current != 1 {
		t.Errorf("streak = %d after track event, want 1", state.Streak.Current)
	}
}

func TestDispatcher_PartialFailureStaysPendingThenResolves(t *testing.T) {
	env := testEnvelope(models.EventTypeTrack)

	failures := testRegistryConfig().MaxAttempts
	flaky := &fakeHandler{
		name: "flaky",
		process: func(call int) ([]models.EffectInstruction, error) {
			if call <= failures {
				return nil, NewRetryableError("connection reset", nil)
			}
			return instructionsFor(env, "flaky", 30), nil
		},
	}
	healthy := &fakeHandler{
		name: "healthy",
		process: func(int) ([]models.EffectInstruction, error) {
			return instructionsFor(env, "healthy", 50), nil
		},
	}

	registry := NewRegistry(testRegistryConfig(), fastRetryPolicy(), nil, flaky, healthy)
	d, st := newCustomPipeline(t, registry)
	ctx := context.Background()
	raw := mustSerialize(t, env)

	// First delivery: the healthy handler's effects land, the flaky one
	// exhausts its in-dispatch retries, and the record stays pending.
	err := d.ProcessEnvelope(ctx, env, raw)
	if !IsRetryableError(err) {
		t.Fatalf("ProcessEnvelope() error = %v, want retryable partial failure", err)
	}

	rec, err2 := st.GetProcessingRecord(ctx, "acme", env.EventID)
	if err2 != nil {
		t.Fatalf("get record: %v", err2)
	}
	if rec.State != models.StatePending {
		t.Fatalf("record state = %q, want pending", rec.State)
	}
	if result := rec.Handlers["healthy"]; !result.Success {
		t.Errorf("healthy outcome = %+v, want success recorded", result)
	}
	if result := rec.Handlers["flaky"]; result.Success || result.Permanent {
		t.Errorf("flaky outcome = %+v, want transient failure recorded", result)
	}

	state, _ := st.ReadSubjectState(ctx, "acme", "user-1")
	if state.Points != 50 {
		t.Fatalf("points = %d after partial dispatch, want 50", state.Points)
	}

	// Redelivery: the flaky handler recovers. Its effects apply; the
	// healthy handler's group is skipped by the applied marker.
	if err := d.ProcessEnvelope(ctx, env, raw); err != nil {
		t.Fatalf("redelivery error = %v", err)
	}

	rec, _ = st.GetProcessingRecord(ctx, "acme", env.EventID)
	if rec.State != models.StateProcessed {
		t.Errorf("record state = %q after recovery, want processed", rec.State)
	}
	state, _ = st.ReadSubjectState(ctx, "acme", "user-1")
	if state.Points != 80 {
		t.Errorf("points = %d, want 80 (50 + 30, not 130)", state.Points)
	}
}

// flakyQuestSource fails its first failUntil calls, then serves the
// fixed quest set.
type flakyQuestSource struct {
	quests    []models.QuestDefinition
	failUntil int
	calls     int
}

func (s *flakyQuestSource) ListActiveQuests(_ context.Context, _ string) ([]models.QuestDefinition, error) {
	s.calls++
	if s.calls <= s.failUntil {
		return nil, errors.New("badger closed")
	}
	return s.quests, nil
}

func TestDispatcher_QuestSourceOutageRecoversOnRedelivery(t *testing.T) {
	env := testEnvelope(models.EventTypeSignup)

	// Fail the capability check plus every in-dispatch attempt of the
	// first delivery, so the outage spans the whole dispatch.
	source := &flakyQuestSource{
		quests:    []models.QuestDefinition{threeStepQuest()},
		failUntil: 1 + testRegistryConfig().MaxAttempts,
	}
	registry := NewRegistry(testRegistryConfig(), fastRetryPolicy(), nil, NewQuestHandler(source))
	d, st := newCustomPipeline(t, registry)
	ctx := context.Background()
	raw := mustSerialize(t, env)

	// First delivery during the outage: the quest handler still claims
	// the envelope, the dispatch fails retryable, and the record stays
	// pending rather than finishing as an empty success.
	err := d.ProcessEnvelope(ctx, env, raw)
	if !IsRetryableError(err) {
		t.Fatalf("ProcessEnvelope() error = %v, want retryable during quest source outage", err)
	}

	rec, err2 := st.GetProcessingRecord(ctx, "acme", env.EventID)
	if err2 != nil {
		t.Fatalf("get record: %v", err2)
	}
	if rec.State != models.StatePending {
		t.Fatalf("record state = %q during outage, want pending", rec.State)
	}
	state := readState(t, st, "acme", "user-1")
	if progress := state.Quests["q1"]; progress != nil && progress.Step != 0 {
		t.Fatalf("quest step = %d during outage, want 0", progress.Step)
	}

	// Redelivery after the source recovers: the quest advances.
	if err := d.ProcessEnvelope(ctx, env, raw); err != nil {
		t.Fatalf("redelivery error = %v", err)
	}
	rec, _ = st.GetProcessingRecord(ctx, "acme", env.EventID)
	if rec.State != models.StateProcessed {
		t.Errorf("record state = %q after recovery, want processed", rec.State)
	}
	state = readState(t, st, "acme", "user-1")
	if progress := state.Quests["q1"]; progress == nil || progress.Step != 1 {
		t.Errorf("quest progress = %+v after recovery, want step 1", state.Quests["q1"])
	}
}

// overlapHandler counts dispatches whose Process ran concurrently with
// another.
type overlapHandler struct {
	active   atomic.Int32
	overlaps atomic.Int32
}

func (h *overlapHandler) Name() string { return "overlap" }

func (h *overlapHandler) Handles(context.Context, *models.Envelope) bool { return true }

func (h *overlapHandler) Process(_ context.Context, env *models.Envelope, _ *models.SubjectState) ([]models.EffectInstruction, error) {
	if h.active.Add(1) > 1 {
		h.overlaps.Add(1)
	}
	time.Sleep(time.Millisecond)
	h.active.Add(-1)
	return instructionsFor(env, "overlap", 10), nil
}

func TestDispatcher_SameSubjectDispatchesNeverOverlap(t *testing.T) {
	handler := &overlapHandler{}
	registry := NewRegistry(testRegistryConfig(), fastRetryPolicy(), nil, handler)
	d, st := newCustomPipeline(t, registry)
	ctx := context.Background()

	// Distinct events for one subject, delivered in parallel the way a
	// multi-subscriber consumer would. The partition lock must keep
	// their read-modify-write of the subject snapshot serialized.
	const deliveries = 8
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		env := testEnvelope(models.EventTypeTrack)
		env.EventID = fmt.Sprintf("evt-parallel-%d", i)
		raw := mustSerialize(t, env)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.ProcessEnvelope(ctx, env, raw); err != nil {
				t.Errorf("ProcessEnvelope(%s) error = %v", env.EventID, err)
			}
		}()
	}
	wg.Wait()

	if n := handler.overlaps.Load(); n != 0 {
		t.Errorf("same-subject dispatches overlapped %d times, want 0", n)
	}
	state := readState(t, st, "acme", "user-1")
	if state.Points != deliveries*10 {
		t.Errorf("points = %d, want %d (every delivery applied exactly once)", state.Points, deliveries*10)
	}
}

func TestDispatcher_InFlightEnvelopeNotDoubleWorked(t *testing.T) {
	d, st := newTestPipeline(t)
	ctx := context.Background()

	env := testEnvelope(models.EventTypeTrack)
	raw := mustSerialize(t, env)

	rec := models.NewProcessingRecord(env, raw)
	if err := st.UpsertProcessingRecord(ctx, rec); err != nil {
		t.Fatalf("upsert record: %v", err)
	}
	if err := st.MarkInFlight(ctx, "acme", env.EventID, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("mark in flight: %v", err)
	}

	err := d.ProcessEnvelope(ctx, env, raw)
	if !IsRetryableError(err) {
		t.Fatalf("ProcessEnvelope() error = %v, want retryable claim conflict", err)
	}

	state, _ := st.ReadSubjectState(ctx, "acme", "user-1")
	if state.Streak.Current != 0 {
		t.Error("claimed envelope was processed anyway")
	}
}

func TestDispatcher_HandleMessage(t *testing.T) {
	d, st := newTestPipeline(t)
	ctx := context.Background()

	t.Run("unparsable payload is acked", func(t *testing.T) {
		msg := message.NewMessage("m-1", []byte("][ not json"))
		if err := d.HandleMessage(msg); err != nil {
			t.Errorf("HandleMessage() error = %v, want nil ack", err)
		}
	})

	t.Run("invalid envelope is rejected terminally", func(t *testing.T) {
		msg := message.NewMessage("m-2", []byte(`{"event_id":"evt-bad","project_id":"acme","type":"track","provenance":"server"}`))
		if err := d.HandleMessage(msg); err != nil {
			t.Errorf("HandleMessage() error = %v, want nil ack", err)
		}

		rec, err := st.GetProcessingRecord(ctx, "acme", "evt-bad")
		if err != nil {
			t.Fatalf("rejection record missing: %v", err)
		}
		if rec.State != models.StateFailed {
			t.Errorf("record state = %q, want failed", rec.State)
		}
	})

	t.Run("valid envelope is processed", func(t *testing.T) {
		env := testEnvelope(models.EventTypeTrack)
		env.EventID = "evt-msg"
		msg := message.NewMessage(env.EventID, mustSerialize(t, env))

		if err := d.HandleMessage(msg); err != nil {
			t.Fatalf("HandleMessage() error = %v", err)
		}
		rec, err := st.GetProcessingRecord(ctx, "acme", "evt-msg")
		if err != nil {
			t.Fatalf("get record: %v", err)
		}
		if rec.State != models.StateProcessed {
			t.Errorf("record state = %q, want processed", rec.State)
		}
	})
}
