// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

package services

import (
	"context"
	"errors"
)

// EventListener matches trigger.Listener.
type EventListener interface {
	Listen(ctx context.Context) error
}

// TriggerService runs the registration event listener under supervision.
// If the listener exits with a real error, suture restarts it and the bus
// subscription is re-established.
type TriggerService struct {
	listener EventListener
	name     string
}

// NewTriggerService creates the trigger listener wrapper.
func NewTriggerService(listener EventListener) *TriggerService {
	return &TriggerService{
		listener: listener,
		name:     "trigger-listener",
	}
}

// Serve implements suture.Service.
func (t *TriggerService) Serve(ctx context.Context) error {
	err := t.listener.Listen(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return ctx.Err()
	}
	return err
}

// String returns the service name for supervision logs.
func (t *TriggerService) String() string {
	return t.name
}
