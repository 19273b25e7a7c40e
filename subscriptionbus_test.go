package mcp

import (
	"context"
	"encoding/json"
	"testing"
)

func TestSubscriptionBusSubscribeRejectsUnsubscribableURI(t *testing.T) {
	sm := NewSessionManager()
	bus := NewSubscriptionBus(sm, func(uri string) bool { return uri == "test://dynamic/counter" }, nil)

	if err := bus.SubscribeResource("sess-1", SubscribeResourceParams{URI: "test://static/hello.txt"}); err == nil {
		t.Fatalf("expected an error subscribing to a non-subscribable URI")
	}
	if err := bus.SubscribeResource("sess-1", SubscribeResourceParams{URI: "test://dynamic/counter"}); err != nil {
		t.Fatalf("unexpected error subscribing to a subscribable URI: %v", err)
	}
}

func TestSubscriptionBusPublishDeliversOnlyToSubscribers(t *testing.T) {
	sm := NewSessionManager()
	subscriber := &fakeSession{id: "subscriber"}
	bystander := &fakeSession{id: "bystander"}
	sm.register(subscriber)
	sm.register(bystander)

	bus := NewSubscriptionBus(sm, nil, nil)
	if err := bus.SubscribeResource(subscriber.ID(), SubscribeResourceParams{URI: "test://dynamic/counter"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bus.Publish(context.Background(), "test://dynamic/counter")

	if len(subscriber.sent) != 1 {
		t.Fatalf("expected the subscriber to receive exactly one notification, got %d", len(subscriber.sent))
	}
	if subscriber.sent[0].Method != methodNotificationsResourcesUpdated {
		t.Fatalf("expected a resources/updated notification, got method %q", subscriber.sent[0].Method)
	}
	var params notificationsResourcesUpdatedParams
	if err := json.Unmarshal(subscriber.sent[0].Params, &params); err != nil {
		t.Fatalf("failed to unmarshal params: %v", err)
	}
	if params.URI != "test://dynamic/counter" {
		t.Fatalf("expected notification for the subscribed URI, got %q", params.URI)
	}

	if len(bystander.sent) != 0 {
		t.Fatalf("expected the bystander to receive nothing, got %d messages", len(bystander.sent))
	}
}

func TestSubscriptionBusPublishToVanishedSessionIsSilent(t *testing.T) {
	sm := NewSessionManager()
	bus := NewSubscriptionBus(sm, nil, nil)

	if err := bus.SubscribeResource("ghost", SubscribeResourceParams{URI: "test://dynamic/random"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// No panic and no error return is possible from Publish; this just exercises the
	// best-effort path where the subscriber never actually registered a session.
	bus.Publish(context.Background(), "test://dynamic/random")
}

func TestSubscriptionBusUnsubscribeResourceStopsDelivery(t *testing.T) {
	sm := NewSessionManager()
	sess := &fakeSession{id: "sess-1"}
	sm.register(sess)

	bus := NewSubscriptionBus(sm, nil, nil)
	_ = bus.SubscribeResource(sess.ID(), SubscribeResourceParams{URI: "test://dynamic/timestamp"})
	bus.UnsubscribeResource(sess.ID(), UnsubscribeResourceParams{URI: "test://dynamic/timestamp"})

	bus.Publish(context.Background(), "test://dynamic/timestamp")

	if len(sess.sent) != 0 {
		t.Fatalf("expected no notification after unsubscribing, got %d", len(sess.sent))
	}
}

func TestSubscriptionBusUnsubscribeSessionRemovesAllSubscriptions(t *testing.T) {
	sm := NewSessionManager()
	sess := &fakeSession{id: "sess-1"}
	sm.register(sess)

	bus := NewSubscriptionBus(sm, nil, nil)
	_ = bus.SubscribeResource(sess.ID(), SubscribeResourceParams{URI: "test://dynamic/counter"})
	_ = bus.SubscribeResource(sess.ID(), SubscribeResourceParams{URI: "test://dynamic/random"})

	bus.UnsubscribeSession(sess.ID())

	bus.Publish(context.Background(), "test://dynamic/counter")
	bus.Publish(context.Background(), "test://dynamic/random")

	if len(sess.sent) != 0 {
		t.Fatalf("expected no notifications after UnsubscribeSession, got %d", len(sess.sent))
	}
	bus.mu.Lock()
	remaining := len(bus.bySession[sess.ID()])
	bus.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected bySession bookkeeping to be cleared, found %d entries", remaining)
	}
}
