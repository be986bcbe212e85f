// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package api

import (
	"net/http"
	"time"

	"github.com/perkforge/perkforge/internal/logging"
	"github.com/perkforge/perkforge/internal/models"
)

// IngestEventRequest is the POST /events body.
//
// EventID is optional: callers that retry submission pass a stable ID
// so the stream's duplicate window and the processing-record layer can
// deduplicate. OccurredAt defaults to the server receive time.
type IngestEventRequest struct {
	ProjectID  string                 `json:"project_id" validate:"required,max=128"`
	SubjectID  string                 `json:"subject_id" validate:"required,max=256"`
	Type       string                 `json:"type" validate:"required,max=128"`
	EventID    string                 `json:"event_id,omitempty" validate:"omitempty,max=256"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	OccurredAt time.Time              `json:"occurred_at,omitempty"`
	Provenance string                 `json:"provenance,omitempty" validate:"omitempty,oneof=server client"`
}

// IngestEvent accepts an event and publishes it to the stream. The
// event is durable once 202 is returned; processing happens
// asynchronously and its outcome is visible through the records API.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		respondError(w, http.StatusServiceUnavailable, "INGEST_DISABLED", "event ingestion is not enabled on this node", nil)
		return
	}

	var req IngestEventRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	env := models.NewEnvelope(req.ProjectID, req.SubjectID, req.Type)
	env.Properties = req.Properties
	if req.EventID != "" {
		env.EventID = req.EventID
	}
	if !req.OccurredAt.IsZero() {
		env.OccurredAt = req.OccurredAt
	}
	if req.Provenance != "" {
		env.Provenance = req.Provenance
	}

	if err := env.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_EVENT", err.Error(), nil)
		return
	}

	if err := h.publisher.PublishEnvelope(r.Context(), env); err != nil {
		respondError(w, http.StatusServiceUnavailable, "PUBLISH_FAILED", "event could not be accepted", err)
		return
	}

	logging.Debug().
		Str("project_id", env.ProjectID).
		Str("event_id", env.EventID).
		Str("type", env.Type).
		Msg("Event accepted")

	respondSuccess(w, http.StatusAccepted, map[string]string{
		"event_id": env.EventID,
		"topic":    env.Topic(),
	}, 0)
}
