// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/reelrank/reelrank/internal/config"
	"github.com/reelrank/reelrank/internal/pipeline"
)

func testBus(t *testing.T) *Bus {
	t.Helper()
	bus := NewBus(config.TriggerConfig{
		Enabled:             true,
		UserRegisteredTopic: "user.registered",
		BufferSize:          16,
	})
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	bus := testBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	messages, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	if err := bus.PublishUserRegistered(ctx, "u42"); err != nil {
		t.Fatalf("PublishUserRegistered() error: %v", err)
	}

	select {
	case msg := <-messages:
		var event UserRegistered
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if event.UserID != "u42" {
			t.Errorf("event user = %q, want u42", event.UserID)
		}
		if event.RegisteredAt.IsZero() {
			t.Error("event must carry a registration timestamp")
		}
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

// recordingRunner captures pipeline run requests.
type recordingRunner struct {
	mu    sync.Mutex
	modes []pipeline.Mode
	err   error
	ran   chan struct{}
}

func (r *recordingRunner) Run(_ context.Context, mode pipeline.Mode) (pipeline.Decision, error) {
	r.mu.Lock()
	r.modes = append(r.modes, mode)
	r.mu.Unlock()
	if r.ran != nil {
		r.ran <- struct{}{}
	}
	if r.err != nil {
		return pipeline.Decision{}, r.err
	}
	return pipeline.Decision{Mode: pipeline.ModeSkip, Reason: "test"}, nil
}

func TestListenerRunsPipelineOnRegistration(t *testing.T) {
	bus := testBus(t)
	runner := &recordingRunner{ran: make(chan struct{}, 1)}
	listener := NewListener(bus, runner)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- listener.Listen(ctx) }()

	// Give the subscription time to attach before publishing.
	time.Sleep(20 * time.Millisecond)

	if err := bus.PublishUserRegistered(ctx, "u1"); err != nil {
		t.Fatalf("PublishUserRegistered() error: %v", err)
	}

	select {
	case <-runner.ran:
	case <-ctx.Done():
		t.Fatal("timed out waiting for pipeline run")
	}

	runner.mu.Lock()
	if len(runner.modes) != 1 || runner.modes[0] != pipeline.ModeAuto {
		t.Errorf("runner modes = %v, want [auto]", runner.modes)
	}
	runner.mu.Unlock()

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Listen() = %v, want context.Canceled", err)
	}
}

func TestListenerDropsWhenPipelineBusy(t *testing.T) {
	bus := testBus(t)
	runner := &recordingRunner{ran: make(chan struct{}, 2), err: pipeline.ErrAlreadyRunning}
	listener := NewListener(bus, runner)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() { _ = listener.Listen(ctx) }()
	time.Sleep(20 * time.Millisecond)

	// Both events are consumed and acked despite the busy pipeline.
	for _, user := range []string{"u1", "u2"} {
		if err := bus.PublishUserRegistered(ctx, user); err != nil {
			t.Fatalf("PublishUserRegistered(%s) error: %v", user, err)
		}
	}

	for i := 0; i < 2; i++ {
		select {
		case <-runner.ran:
		case <-ctx.Done():
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}
