// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/perkforge/perkforge/internal/models"
	"github.com/perkforge/perkforge/internal/store"
)

const defaultRecordLimit = 100

// SubjectState returns the accumulated state of one subject. A subject
// that has never produced an event returns its zero state, not 404.
func (h *Handler) SubjectState(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	subjectID := chi.URLParam(r, "subjectID")

	state, err := h.store.ReadSubjectState(r.Context(), projectID, subjectID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to read subject state", err)
		return
	}

	respondSuccess(w, http.StatusOK, state, 0)
}

// GetRecord returns the processing record for one event.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	eventID := chi.URLParam(r, "eventID")

	rec, err := h.store.GetProcessingRecord(r.Context(), projectID, eventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "no processing record for event", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to read record", err)
		return
	}

	respondSuccess(w, http.StatusOK, rec, 0)
}

// ListRecords returns processing records for a project filtered by
// state (?state=pending|processed|failed, default pending). ?limit
// bounds the result, default 100.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	state := models.StatePending
	switch r.URL.Query().Get("state") {
	case "", string(models.StatePending):
	case string(models.StateProcessed):
		state = models.StateProcessed
	case string(models.StateFailed):
		state = models.StateFailed
	default:
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "state must be pending, processed, or failed", nil)
		return
	}

	limit := defaultRecordLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "limit must be an integer between 1 and 1000", nil)
			return
		}
		limit = n
	}

	records, err := h.store.ListRecordsByState(r.Context(), projectID, state, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to list records", err)
		return
	}

	respondSuccess(w, http.StatusOK, records, len(records))
}

// DLQList returns the dead-letter queue contents, oldest first.
func (h *Handler) DLQList(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		respondSuccess(w, http.StatusOK, []interface{}{}, 0)
		return
	}

	entries := h.dlq.ListEntries()
	respondSuccess(w, http.StatusOK, entries, len(entries))
}

// DLQStats returns dead-letter queue counters.
func (h *Handler) DLQStats(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		respondError(w, http.StatusNotFound, "DLQ_DISABLED", "dead letter queue is not enabled", nil)
		return
	}

	respondSuccess(w, http.StatusOK, h.dlq.Stats(), 0)
}

// DLQRemove discards a dead-letter entry after an operator has resolved
// or republished it.
func (h *Handler) DLQRemove(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		respondError(w, http.StatusNotFound, "DLQ_DISABLED", "dead letter queue is not enabled", nil)
		return
	}

	eventID := chi.URLParam(r, "eventID")
	if !h.dlq.RemoveEntry(eventID) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no dead letter entry for event", nil)
		return
	}

	respondSuccess(w, http.StatusOK, map[string]string{"event_id": eventID, "state": "removed"}, 0)
}
