// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package eventprocessor

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/perkforge/perkforge/internal/models"
)

// Serializer handles envelope encoding/decoding for NATS messages.
type Serializer struct{}

// NewSerializer creates a new serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Marshal converts an envelope to JSON bytes. The envelope is validated
// first so malformed events never reach the stream.
func (s *Serializer) Marshal(env *models.Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("validate envelope: %w", err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	return data, nil
}

// Unmarshal converts JSON bytes to an envelope. The envelope is not
// validated here; the dispatcher validates and classifies failures.
func (s *Serializer) Unmarshal(data []byte) (*models.Envelope, error) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	return &env, nil
}

// SerializeEnvelope is a convenience function that marshals an envelope.
func SerializeEnvelope(env *models.Envelope) ([]byte, error) {
	return NewSerializer().Marshal(env)
}

// DeserializeEnvelope is a convenience function that unmarshals an
// envelope.
func DeserializeEnvelope(data []byte) (*models.Envelope, error) {
	return NewSerializer().Unmarshal(data)
}
