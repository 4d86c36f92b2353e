// Package relay provides named broadcast channels with presence tracking.
// Delivery is fire-and-forget: messages may be lost, ordering is only
// preserved per sender, and a sender never receives its own broadcasts.
package relay

import "context"

// Meta is the presence payload announced by a member
type Meta struct {
	DisplayLabel string `json:"display_label"`
	JoinedAt     string `json:"joined_at"`
}

// Member is one identity attached to a channel
type Member struct {
	ID   string
	Meta Meta
}

// Message is a broadcast event as received from the channel
type Message struct {
	Event   string `json:"event"`
	Sender  string `json:"sender"`
	Payload []byte `json:"payload"`
}

// BroadcastHandler consumes an incoming broadcast event
type BroadcastHandler func(msg Message)

// PresenceHandler consumes a presence snapshot. Members are sorted by ID
// so every peer sees the same ordering for the same member set.
type PresenceHandler func(members []Member)

// Channel is one subscription to a named broadcast+presence channel.
// Handlers must be registered before Subscribe and are invoked from a
// single goroutine, one event at a time.
type Channel interface {
	// Subscribe attaches to the channel and starts handler dispatch
	Subscribe(ctx context.Context) error
	// Track announces local presence with the given meta
	Track(ctx context.Context, meta Meta) error
	// Untrack retracts local presence
	Untrack(ctx context.Context) error
	// Send broadcasts an event to all other subscribers
	Send(ctx context.Context, event string, payload interface{}) error
	// OnBroadcast registers a handler for a named event
	OnBroadcast(event string, fn BroadcastHandler)
	// OnPresenceSync registers a handler for presence snapshots
	OnPresenceSync(fn PresenceHandler)
	// Close untracks and releases the channel
	Close() error
}

// Relay opens channels. One relay instance is constructed per process and
// injected where needed; there is no ambient global client.
type Relay interface {
	Channel(name, localID string) Channel
}
