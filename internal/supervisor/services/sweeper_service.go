// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package services

import (
	"context"
	"fmt"
	"time"
)

// SweeperRunner matches the sweeper's lifecycle. Satisfied by
// *eventprocessor.Sweeper: Run loops on its interval until the context
// is canceled.
type SweeperRunner interface {
	Run(ctx context.Context) error
}

// SweeperService wraps the stale-record sweeper as a supervised
// service. A panic or unexpected error restarts the sweep loop; sweep
// cycles are idempotent, so a restart at any point is safe.
type SweeperService struct {
	sweeper SweeperRunner
	name    string
}

// NewSweeperService creates a sweeper service wrapper.
func NewSweeperService(sweeper SweeperRunner) *SweeperService {
	return &SweeperService{
		sweeper: sweeper,
		name:    "record-sweeper",
	}
}

// Serve implements suture.Service.
func (s *SweeperService) Serve(ctx context.Context) error {
	if err := s.sweeper.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("sweeper failed: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer; suture uses it in log messages.
func (s *SweeperService) String() string {
	return s.name
}

// Cleaner is a component with periodic housekeeping. Satisfied by
// *eventprocessor.DLQHandler, whose Cleanup drops entries past
// retention.
type Cleaner interface {
	Cleanup() int
}

// MaintenanceService runs a Cleaner on a fixed interval.
type MaintenanceService struct {
	cleaner  Cleaner
	interval time.Duration
	name     string
}

// NewMaintenanceService creates a maintenance loop. The name shows up
// in supervisor logs, e.g. "dlq-maintenance".
func NewMaintenanceService(name string, cleaner Cleaner, interval time.Duration) *MaintenanceService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &MaintenanceService{
		cleaner:  cleaner,
		interval: interval,
		name:     name,
	}
}

// Serve implements suture.Service.
func (m *MaintenanceService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.cleaner.Cleanup()
		}
	}
}

// String implements fmt.Stringer; suture uses it in log messages.
func (m *MaintenanceService) String() string {
	return m.name
}
