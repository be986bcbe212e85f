// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/perkforge/perkforge/internal/middleware"
)

// Router wires handlers and middleware into the HTTP route tree.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a router. A nil middleware config uses the secure
// defaults (empty CORS origin list, 100 req/min admin limit).
func NewRouter(handler *Handler, mwConfig *ChiMiddlewareConfig) *Router {
	return &Router{
		handler:       handler,
		chiMiddleware: NewChiMiddleware(mwConfig),
	}
}

// Setup registers all routes and returns the root handler.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route in order.
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())

	// Health endpoints get a permissive rate limit so monitoring can
	// poll aggressively without tripping the admin limit.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitHealth())
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
		r.Get("/", router.handler.Health)
		r.Get("/component/{name}", router.handler.HealthComponent)
	})

	// Event ingestion.
	r.Route("/api/v1/events", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitIngest())
		r.Use(middleware.PrometheusMetrics)
		r.Post("/", router.handler.IngestEvent)
	})

	// Administration and inspection.
	r.Route("/api/v1/projects/{projectID}", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(middleware.PrometheusMetrics)

		r.Get("/rules", router.handler.ListRules)
		r.Post("/rules", router.handler.PutRule)
		r.Get("/rules/{ruleID}", router.handler.GetRule)
		r.Delete("/rules/{ruleID}", router.handler.DeactivateRule)

		r.Get("/quests", router.handler.ListQuests)
		r.Post("/quests", router.handler.PutQuest)

		r.Get("/subjects/{subjectID}", router.handler.SubjectState)
		r.Get("/records", router.handler.ListRecords)
		r.Get("/records/{eventID}", router.handler.GetRecord)
	})

	// Dead letter queue.
	r.Route("/api/v1/dlq", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(middleware.PrometheusMetrics)
		r.Get("/", router.handler.DLQList)
		r.Get("/stats", router.handler.DLQStats)
		r.Delete("/{eventID}", router.handler.DLQRemove)
	})

	// Prometheus scrape endpoint.
	r.Handle("/metrics", promhttp.Handler())

	return r
}
