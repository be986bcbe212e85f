// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

// Package commission computes affiliate commissions for purchase events.
// The calculator is a pure function over typed inputs: no clock, no
// randomness, no side effects.
package commission

import (
	"errors"
	"math"
)

// ErrInvalidAmount is returned for non-positive purchase amounts.
var ErrInvalidAmount = errors.New("purchase amount must be positive")

// ErrInvalidRate is returned for rates outside (0, 1].
var ErrInvalidRate = errors.New("commission rate must be in (0, 1]")

// Calculator maps a purchase amount and affiliate context to a
// commission amount in minor currency units.
type Calculator struct {
	// DefaultRate applies when the input carries no explicit rate.
	DefaultRate float64

	// MinAmount is the smallest purchase amount that earns a commission.
	// Purchases below it yield a zero commission, not an error.
	MinAmount int64
}

// NewCalculator creates a calculator with the given default rate.
func NewCalculator(defaultRate float64) *Calculator {
	return &Calculator{DefaultRate: defaultRate}
}

// Input describes one purchase in affiliate context.
type Input struct {
	// Amount is the purchase total in minor currency units.
	Amount int64

	// Rate overrides the calculator default when non-zero, as a fraction
	// (0.05 = 5%).
	Rate float64

	// AffiliateID identifies the referring affiliate. Empty means no
	// affiliate is attached and the commission is zero.
	AffiliateID string
}

// Result is the computed commission.
type Result struct {
	Amount      int64
	Rate        float64
	AffiliateID string
}

// Calculate computes the commission for one purchase.
//
// Rounding is half-up on the minor unit, so results are stable across
// runs and platforms.
func (c *Calculator) Calculate(in Input) (Result, error) {
	if in.Amount <= 0 {
		return Result{}, ErrInvalidAmount
	}

	rate := in.Rate
	if rate == 0 {
		rate = c.DefaultRate
	}
	if rate < 0 || rate > 1 {
		return Result{}, ErrInvalidRate
	}

	if in.AffiliateID == "" || rate == 0 || in.Amount < c.MinAmount {
		return Result{Amount: 0, Rate: rate, AffiliateID: in.AffiliateID}, nil
	}

	amount := int64(math.Floor(float64(in.Amount)*rate + 0.5))
	return Result{Amount: amount, Rate: rate, AffiliateID: in.AffiliateID}, nil
}
