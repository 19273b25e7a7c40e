package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SubscriptionBus implements ResourceSubscriptionHandler by tracking, for each
// subscribable resource URI, the set of session IDs that subscribed to it, and
// delivering notifications/resources/updated directly to those sessions through a
// SessionManager rather than broadcasting to every connected session.
//
// A Subscription in the data model is the pair (session ID, resource URI); SubscriptionBus
// is simply that pair's storage, indexed by URI for Publish and mirrored by session so
// UnsubscribeSession's teardown on disconnect visits only that session's URIs.
type SubscriptionBus struct {
	sessions *SessionManager
	logger   *slog.Logger

	subscribable func(uri string) bool

	sendTimeout time.Duration

	mu          sync.Mutex
	byURI       map[string]map[string]struct{}
	bySession   map[string]map[string]struct{}
}

// NewSubscriptionBus creates a SubscriptionBus that delivers through sm. subscribable
// reports whether a given URI accepts subscriptions at all; pass nil to allow every URI.
func NewSubscriptionBus(sm *SessionManager, subscribable func(uri string) bool, logger *slog.Logger) *SubscriptionBus {
	if subscribable == nil {
		subscribable = func(string) bool { return true }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionBus{
		sessions:     sm,
		logger:       logger.With(slog.String("component", "subscriptionbus")),
		subscribable: subscribable,
		sendTimeout:  10 * time.Second,
		byURI:        make(map[string]map[string]struct{}),
		bySession:    make(map[string]map[string]struct{}),
	}
}

// SubscribeResource implements ResourceSubscriptionHandler.
func (b *SubscriptionBus) SubscribeResource(sessionID string, params SubscribeResourceParams) error {
	if !b.subscribable(params.URI) {
		return fmt.Errorf("resource %q does not support subscription", params.URI)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.byURI[params.URI] == nil {
		b.byURI[params.URI] = make(map[string]struct{})
	}
	b.byURI[params.URI][sessionID] = struct{}{}

	if b.bySession[sessionID] == nil {
		b.bySession[sessionID] = make(map[string]struct{})
	}
	b.bySession[sessionID][params.URI] = struct{}{}

	return nil
}

// UnsubscribeResource implements ResourceSubscriptionHandler.
func (b *SubscriptionBus) UnsubscribeResource(sessionID string, params UnsubscribeResourceParams) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeLocked(sessionID, params.URI)
}

// UnsubscribeSession implements ResourceSubscriptionHandler.
func (b *SubscriptionBus) UnsubscribeSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for uri := range b.bySession[sessionID] {
		b.removeLocked(sessionID, uri)
	}
}

func (b *SubscriptionBus) removeLocked(sessionID, uri string) {
	if subs, ok := b.byURI[uri]; ok {
		delete(subs, sessionID)
		if len(subs) == 0 {
			delete(b.byURI, uri)
		}
	}
	if uris, ok := b.bySession[sessionID]; ok {
		delete(uris, uri)
		if len(uris) == 0 {
			delete(b.bySession, sessionID)
		}
	}
}

// Publish sends notifications/resources/updated for uri to every session currently
// subscribed to it. Delivery is best-effort: a subscriber whose session has since
// vanished is silently skipped rather than treated as an error, per the bus's design
// as weak references over a SessionManager rather than owned channels.
func (b *SubscriptionBus) Publish(ctx context.Context, uri string) {
	b.mu.Lock()
	subs := make([]string, 0, len(b.byURI[uri]))
	for id := range b.byURI[uri] {
		subs = append(subs, id)
	}
	b.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	paramsBs, err := json.Marshal(notificationsResourcesUpdatedParams{URI: uri})
	if err != nil {
		b.logger.Error("failed to marshal resources updated params", slog.String("err", err.Error()))
		return
	}
	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  methodNotificationsResourcesUpdated,
		Params:  paramsBs,
	}

	sendCtx, cancel := context.WithTimeout(ctx, b.sendTimeout)
	defer cancel()

	for _, id := range subs {
		if err := b.sessions.Send(sendCtx, id, msg); err != nil {
			b.logger.Debug("failed to deliver resource update",
				slog.String("sessionID", id), slog.String("uri", uri), slog.String("err", err.Error()))
		}
	}
}
