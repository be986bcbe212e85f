// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package api

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"github.com/perkforge/perkforge/internal/eventprocessor"
	"github.com/perkforge/perkforge/internal/logging"
	"github.com/perkforge/perkforge/internal/models"
	"github.com/perkforge/perkforge/internal/store"
)

// Handler contains dependencies for the API handlers.
//
// The publisher and dead-letter queue are optional: a nil publisher
// disables ingestion (POST /events answers 503), and a nil DLQ makes
// the dead-letter endpoints answer with empty results.
type Handler struct {
	store     *store.Store
	health    *eventprocessor.HealthChecker
	publisher *eventprocessor.Publisher
	dlq       *eventprocessor.DLQHandler
	validate  *validator.Validate
	startTime time.Time
}

// NewHandler creates an API handler.
func NewHandler(st *store.Store, health *eventprocessor.HealthChecker, pub *eventprocessor.Publisher, dlq *eventprocessor.DLQHandler) *Handler {
	return &Handler{
		store:     st,
		health:    health,
		publisher: pub,
		dlq:       dlq,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		startTime: time.Now(),
	}
}

// respondJSON sends a JSON response with proper headers.
func respondJSON(w http.ResponseWriter, status int, response *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondSuccess wraps data in the standard success envelope.
func respondSuccess(w http.ResponseWriter, status int, data interface{}, count int) {
	respondJSON(w, status, &models.APIResponse{
		Status: "success",
		Data:   data,
		Metadata: models.Metadata{
			Timestamp: time.Now(),
			Count:     count,
		},
	})
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", code).Err(err).Msg("API error")
	}

	respondJSON(w, status, &models.APIResponse{
		Status: "error",
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
		Error: &models.APIError{
			Code:    code,
			Message: message,
		},
	})
}

// decodeBody decodes and validates a JSON request body. Responds with
// 400 and returns false when the body is malformed or fails validation.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON: "+err.Error(), nil)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return false
	}
	return true
}
