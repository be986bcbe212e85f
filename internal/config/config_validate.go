// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for structural validity (via
// go-playground/validator struct tags) plus the cross-field rules tags
// cannot express.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, ve := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", ve.Namespace(), ve.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return err
	}

	checks := []func() error{
		c.validateNATS,
		c.validateStore,
		c.validateSweeper,
		c.validateCORS,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Embedded && !strings.HasPrefix(c.NATS.URL, "nats://") && !strings.HasPrefix(c.NATS.URL, "tls://") {
		return fmt.Errorf("nats.url must start with nats:// or tls://, got %q", c.NATS.URL)
	}
	// The consumer must see a redelivery before the sweeper declares the
	// record stale, otherwise every slow envelope is double-driven.
	if c.NATS.AckWaitTimeout >= c.Sweeper.StalenessThreshold {
		return fmt.Errorf("nats.ack_wait_timeout (%s) must be below sweeper.staleness_threshold (%s)",
			c.NATS.AckWaitTimeout, c.Sweeper.StalenessThreshold)
	}
	return nil
}

func (c *Config) validateStore() error {
	if !c.Store.InMemory && c.Store.Path == "" {
		return errors.New("store.path is required unless store.in_memory is true")
	}
	return nil
}

func (c *Config) validateSweeper() error {
	if c.Engine.InFlightTTL >= c.Sweeper.StalenessThreshold {
		return fmt.Errorf("engine.in_flight_ttl (%s) must be below sweeper.staleness_threshold (%s)",
			c.Engine.InFlightTTL, c.Sweeper.StalenessThreshold)
	}
	return nil
}

func (c *Config) validateCORS() error {
	for _, origin := range c.API.CORSOrigins {
		if origin == "*" {
			continue
		}
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("api.cors_origins entry %q must be a full origin URL", origin)
		}
	}
	return nil
}

// HasWildcardCORS reports whether any CORS origin is the wildcard.
// Operators should see a startup warning when this is true.
func (c *Config) HasWildcardCORS() bool {
	for _, origin := range c.API.CORSOrigins {
		if origin == "*" || strings.Contains(origin, "*") {
			return true
		}
	}
	return false
}
