// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package eventprocessor

import (
	"context"
	"errors"
	"time"

	"github.com/perkforge/perkforge/internal/commission"
	"github.com/perkforge/perkforge/internal/logging"
	"github.com/perkforge/perkforge/internal/metrics"
	"github.com/perkforge/perkforge/internal/models"
	"github.com/perkforge/perkforge/internal/progression"
	"github.com/perkforge/perkforge/internal/rules"
)

// Registry holds the ordered set of handlers and fans an envelope out to
// every handler that claims it. The fallback handler runs only when no
// other handler matched, so every envelope reaches a terminal outcome.
//
// Fan-out (rather than first-match routing) is deliberate: a purchase
// must simultaneously update commission bookkeeping, tier progression,
// and quest progress, and those concerns must not block one another. A
// single handler failure is recorded as that handler's outcome without
// aborting siblings.
type Registry struct {
	handlers []Handler
	fallback Handler
	config   RegistryConfig
	retry    *RetryPolicy
}

// NewRegistry creates a registry over an explicit handler list. The
// handler order is fixed at startup; dispatch never reorders it.
func NewRegistry(cfg RegistryConfig, retry *RetryPolicy, fallback Handler, handlers ...Handler) *Registry {
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	if fallback == nil {
		fallback = NewDefaultHandler()
	}
	return &Registry{
		handlers: handlers,
		fallback: fallback,
		config:   cfg,
		retry:    retry,
	}
}

// NewDefaultRegistry wires the standard handler set: tracking, identity,
// purchase, progression, quest, rule-driven generic, and the no-op
// default fallback.
func NewDefaultRegistry(
	cfg RegistryConfig,
	calc *commission.Calculator,
	ladder *progression.Ladder,
	engine *rules.Engine,
	ruleSource RuleSource,
	questSource QuestSource,
) *Registry {
	claimed := []string{
		models.EventTypePurchase,
		models.EventTypeIdentify,
		models.EventTypeSignup,
	}
	return NewRegistry(
		cfg,
		DefaultRetryPolicy(),
		NewDefaultHandler(),
		NewTrackingHandler(),
		NewIdentityHandler(),
		NewPurchaseHandler(calc, engine, ruleSource),
		NewProgressionHandler(ladder),
		NewQuestHandler(questSource),
		NewRulesHandler(engine, ruleSource, claimed),
	)
}

// Dispatch fans the envelope out to every matching handler and returns
// one outcome per handler that ran. Handlers run in registration order
// against the same read-only snapshot; their instructions are pooled by
// the caller.
func (r *Registry) Dispatch(ctx context.Context, env *models.Envelope, state *models.SubjectState) []HandlerOutcome {
	var matched []Handler
	for _, h := range r.handlers {
		if h.Handles(ctx, env) {
			matched = append(matched, h)
		}
	}
	if len(matched) == 0 {
		matched = []Handler{r.fallback}
	}

	outcomes := make([]HandlerOutcome, 0, len(matched))
	for _, h := range matched {
		outcomes = append(outcomes, r.runHandler(ctx, h, env, state))
	}
	return outcomes
}

// runHandler executes one handler with a per-attempt timeout and bounded
// retries for transient failures. Timeouts count as transient; permanent
// errors terminate immediately.
func (r *Registry) runHandler(ctx context.Context, h Handler, env *models.Envelope, state *models.SubjectState) HandlerOutcome {
	outcome := HandlerOutcome{Handler: h.Name()}

	for {
		outcome.Attempts++

		hctx, cancel := context.WithTimeout(ctx, r.config.HandlerTimeout)
		start := time.Now()
		instructions, err := h.Process(hctx, env, state)
		cancel()
		metrics.RecordHandler(h.Name(), time.Since(start))

		if err == nil {
			outcome.Instructions = instructions
			return outcome
		}

		if errors.Is(err, context.DeadlineExceeded) {
			err = NewRetryableError("handler timed out", err)
		}

		if IsPermanentError(err) {
			outcome.Err = err
			outcome.Permanent = true
			metrics.RecordHandlerFailure(h.Name(), true)
			logging.Warn().
				Str("handler", h.Name()).
				Str("event_id", env.EventID).
				Err(err).
				Msg("Handler failed permanently")
			return outcome
		}

		if outcome.Attempts >= r.config.MaxAttempts {
			outcome.Err = err
			metrics.RecordHandlerFailure(h.Name(), false)
			logging.Warn().
				Str("handler", h.Name()).
				Str("event_id", env.EventID).
				Int("attempts", outcome.Attempts).
				Err(err).
				Msg("Handler exhausted retries")
			return outcome
		}

		select {
		case <-ctx.Done():
			outcome.Err = NewRetryableError("dispatch canceled", ctx.Err())
			return outcome
		case <-time.After(r.retry.CalculateBackoff(outcome.Attempts - 1)):
		}
	}
}
