package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects events a handler received, safe for concurrent use.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.events))
	for i, e := range r.events {
		ids[i] = e.EventID()
	}
	return ids
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestBusDeliversToSubscribedHandler(t *testing.T) {
	bus := NewBus()
	bus.Start()
	defer bus.Stop()

	rec := &recorder{}
	bus.Subscribe(TypeWebhook, rec.handle)

	event := NewWebhookEvent("github", "push", map[string]interface{}{"ref": "main"}, "d1")
	bus.Publish(event)

	waitFor(t, func() bool { return rec.count() == 1 })
	assert.Equal(t, event.EventID(), rec.ids()[0])

	// Re-publishing the same event object yields a second invocation.
	bus.Publish(event)
	waitFor(t, func() bool { return rec.count() == 2 })
}

func TestBusDoesNotDeliverUnrelatedTypes(t *testing.T) {
	bus := NewBus()
	bus.Start()
	defer bus.Stop()

	webhookRec := &recorder{}
	scheduledRec := &recorder{}
	bus.Subscribe(TypeWebhook, webhookRec.handle)
	bus.Subscribe(TypeScheduled, scheduledRec.handle)

	bus.Publish(NewScheduledEvent("j1", "standup", "report", "", nil, ""))

	waitFor(t, func() bool { return scheduledRec.count() == 1 })
	assert.Zero(t, webhookRec.count())
}

func TestBusSubscribeAllReceivesEveryKind(t *testing.T) {
	bus := NewBus()
	bus.Start()
	defer bus.Stop()

	rec := &recorder{}
	bus.SubscribeAll(rec.handle)

	bus.Publish(NewWebhookEvent("github", "push", nil, "d1"))
	bus.Publish(NewScheduledEvent("j1", "standup", "report", "", nil, ""))
	bus.Publish(NewAgentResponseEvent(42, "hello", ""))
	bus.Publish(NewUserMessageEvent("telegram", 1, 2, "hi", ""))

	waitFor(t, func() bool { return rec.count() == 4 })
}

func TestBusDuplicateSubscriptionFiresTwice(t *testing.T) {
	bus := NewBus()
	bus.Start()
	defer bus.Stop()

	rec := &recorder{}
	bus.Subscribe(TypeWebhook, rec.handle)
	bus.Subscribe(TypeWebhook, rec.handle)

	bus.Publish(NewWebhookEvent("github", "push", nil, "d1"))
	waitFor(t, func() bool { return rec.count() == 2 })
}

func TestBusIsolatesHandlerFailures(t *testing.T) {
	tests := []struct {
		name    string
		failing Handler
	}{
		{
			name: "handler returns error",
			failing: func(context.Context, Event) error {
				return errors.New("boom")
			},
		},
		{
			name: "handler panics",
			failing: func(context.Context, Event) error {
				panic("boom")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := NewBus()
			bus.Start()
			defer bus.Stop()

			rec := &recorder{}
			bus.Subscribe(TypeWebhook, tt.failing)
			bus.Subscribe(TypeWebhook, rec.handle)

			bus.Publish(NewWebhookEvent("github", "push", nil, "d1"))
			bus.Publish(NewWebhookEvent("github", "push", nil, "d2"))

			// The healthy handler still sees both events.
			waitFor(t, func() bool { return rec.count() == 2 })
		})
	}
}

func TestBusProcessesEventsSequentially(t *testing.T) {
	bus := NewBus()
	bus.Start()
	defer bus.Stop()

	var mu sync.Mutex
	var order []string

	slow := func(_ context.Context, event Event) error {
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		order = append(order, "slow:"+event.EventID())
		mu.Unlock()
		return nil
	}
	fast := func(_ context.Context, event Event) error {
		mu.Lock()
		order = append(order, "fast:"+event.EventID())
		mu.Unlock()
		return nil
	}
	bus.Subscribe(TypeWebhook, slow)
	bus.Subscribe(TypeWebhook, fast)

	first := NewWebhookEvent("github", "push", nil, "d1")
	second := NewWebhookEvent("github", "push", nil, "d2")
	bus.Publish(first)
	bus.Publish(second)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 4
	})

	// Both handlers of the first event finish before any handler of the
	// second starts: the first two entries all reference the first event.
	mu.Lock()
	defer mu.Unlock()
	for _, entry := range order[:2] {
		assert.Contains(t, entry, first.EventID())
	}
	for _, entry := range order[2:] {
		assert.Contains(t, entry, second.EventID())
	}
}

func TestBusStartIsIdempotent(t *testing.T) {
	bus := NewBus()
	bus.Start()
	bus.Start()
	defer bus.Stop()

	rec := &recorder{}
	bus.Subscribe(TypeWebhook, rec.handle)
	bus.Publish(NewWebhookEvent("github", "push", nil, "d1"))

	// A double Start must not spawn a second dispatch loop.
	waitFor(t, func() bool { return rec.count() == 1 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestBusStopTwiceDoesNotPanic(t *testing.T) {
	bus := NewBus()
	bus.Start()
	bus.Stop()
	bus.Stop()
}

func TestBusOverflowDropsOldestFirst(t *testing.T) {
	bus := NewBusWithQueueSize(1)

	// Not yet started, so the queue never drains: each publish past
	// capacity displaces the previous event.
	first := NewWebhookEvent("github", "push", nil, "d1")
	second := NewWebhookEvent("github", "push", nil, "d2")
	third := NewWebhookEvent("github", "push", nil, "d3")
	bus.Publish(first)
	bus.Publish(second)
	bus.Publish(third)

	rec := &recorder{}
	bus.Subscribe(TypeWebhook, rec.handle)
	bus.Start()
	defer bus.Stop()

	waitFor(t, func() bool { return rec.count() == 1 })
	assert.Equal(t, []string{third.EventID()}, rec.ids())
}

func TestBusPublishAfterStopDoesNotBlock(t *testing.T) {
	bus := NewBusWithQueueSize(2)
	bus.Start()
	bus.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			bus.Publish(NewWebhookEvent("github", "push", nil, "d"))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked after Stop")
	}
}

func TestEventIdentityInvariants(t *testing.T) {
	before := time.Now().UTC().Add(-time.Second)
	event := NewWebhookEvent("github", "push", nil, "d1")

	require.NotEmpty(t, event.EventID())
	assert.True(t, event.OccurredAt().After(before))
	assert.Equal(t, TypeWebhook, event.EventType())
	assert.Equal(t, "webhook", event.Origin())

	other := NewWebhookEvent("github", "push", nil, "d1")
	assert.NotEqual(t, event.EventID(), other.EventID())
}
