// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

// Package trigger carries in-process events that kick off pipeline work,
// most notably user registrations: a freshly registered user has no history,
// so an early pipeline evaluation gets popularity data warm before their
// first recommendation request.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/reelrank/reelrank/internal/config"
	"github.com/reelrank/reelrank/internal/logging"
)

// UserRegistered is the event published when a new user signs up.
type UserRegistered struct {
	UserID       string    `json:"user_id"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Bus is an in-process pub/sub channel for trigger events.
type Bus struct {
	pubsub *gochannel.GoChannel
	topic  string
}

// NewBus creates the event bus with the configured topic and buffer size.
func NewBus(cfg config.TriggerConfig) *Bus {
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 64
	}

	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: int64(buffer)},
			logging.NewWatermillLogger(),
		),
		topic: cfg.UserRegisteredTopic,
	}
}

// PublishUserRegistered emits a registration event. Publishing never blocks
// the registering request beyond the channel buffer.
func (b *Bus) PublishUserRegistered(ctx context.Context, userID string) error {
	payload, err := json.Marshal(UserRegistered{
		UserID:       userID,
		RegisteredAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal registration event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	return b.pubsub.Publish(b.topic, msg)
}

// Subscribe returns the stream of registration events. The channel closes
// when ctx is cancelled or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, b.topic)
}

// Topic returns the registration topic name.
func (b *Bus) Topic() string { return b.topic }

// Close shuts the bus down; pending messages are dropped.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
