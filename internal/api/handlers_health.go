// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/perkforge/perkforge/internal/eventprocessor"
)

// HealthLive is the liveness probe. It answers 200 whenever the process
// is serving requests; it makes no claims about dependencies.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	}, 0)
}

// HealthReady is the readiness probe. It fails when any registered
// component reports unhealthy.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	overall := h.health.CheckAll(r.Context())

	status := http.StatusOK
	if !overall.Healthy {
		status = http.StatusServiceUnavailable
	}
	respondSuccess(w, status, overall, len(overall.Components))
}

// Health reports full component-level health detail.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	overall := h.health.CheckAll(r.Context())

	status := http.StatusOK
	if overall.Status == eventprocessor.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	respondSuccess(w, status, overall, len(overall.Components))
}

// HealthComponent reports health for a single named component.
func (h *Handler) HealthComponent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	component := h.health.CheckComponent(r.Context(), name)
	status := http.StatusOK
	if !component.Healthy {
		status = http.StatusServiceUnavailable
	}
	respondSuccess(w, status, component, 0)
}
