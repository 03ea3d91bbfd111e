// Package channels connects codexbot to concrete chat platforms.
// Telegram is the primary platform; additional platforms are attached
// per chat id through the Router.
package channels

import (
	"context"
	"fmt"
	"sync"
)

// Sender delivers one message to one chat id on some platform.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text, parseMode string) error
}

// Router is a Sender that directs each chat id to the platform
// responsible for it. Chat ids without an explicit route go to the
// primary sender.
type Router struct {
	mu      sync.RWMutex
	primary Sender
	routes  map[int64]Sender
}

// NewRouter creates a router with a primary sender.
func NewRouter(primary Sender) *Router {
	return &Router{
		primary: primary,
		routes:  make(map[int64]Sender),
	}
}

// AddRoute directs the given chat ids to a specific sender.
func (r *Router) AddRoute(sender Sender, chatIDs ...int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, chatID := range chatIDs {
		r.routes[chatID] = sender
	}
}

// SendMessage routes the message to the sender owning the chat id.
func (r *Router) SendMessage(ctx context.Context, chatID int64, text, parseMode string) error {
	r.mu.RLock()
	sender, routed := r.routes[chatID]
	if !routed {
		sender = r.primary
	}
	r.mu.RUnlock()

	if sender == nil {
		return fmt.Errorf("no sender for chat %d", chatID)
	}
	return sender.SendMessage(ctx, chatID, text, parseMode)
}
