// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package services

import (
	"context"
	"fmt"
)

// StreamRouter matches the message router's lifecycle. Satisfied by
// *eventprocessor.Router: Run blocks until context cancellation or
// Close, and Close waits for in-flight messages to finish.
type StreamRouter interface {
	Run(ctx context.Context) error
	Close() error
}

// RouterService wraps the Watermill router as a supervised service.
//
// Run already honors context cancellation, so Serve simply delegates
// and closes the router afterwards to drain in-flight messages. A Run
// error before cancellation propagates to suture, which restarts the
// stream layer with backoff; unacked messages are redelivered by
// JetStream, and the dispatcher's processing records make redelivery
// safe.
type RouterService struct {
	router StreamRouter
	name   string
}

// NewRouterService creates a router service wrapper.
func NewRouterService(router StreamRouter) *RouterService {
	return &RouterService{
		router: router,
		name:   "stream-router",
	}
}

// Serve implements suture.Service.
func (s *RouterService) Serve(ctx context.Context) error {
	err := s.router.Run(ctx)

	if closeErr := s.router.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream router failed: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// String implements fmt.Stringer; suture uses it in log messages.
func (s *RouterService) String() string {
	return s.name
}
