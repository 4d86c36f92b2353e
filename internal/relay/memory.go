package relay

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryRelay is an in-process Relay used by tests and local development.
// Delivery is synchronous and deterministic; a DropFilter can simulate
// message loss.
//
// Because Send runs peer handlers on the caller's goroutine, two peers
// sending concurrently can deadlock if their handlers take locks the
// senders hold. Drive a MemoryRelay from one goroutine at a time; use
// RedisRelay where senders run concurrently.
type MemoryRelay struct {
	mu       sync.Mutex
	channels map[string]map[string]*memoryChannel // name -> localID -> channel

	// DropFilter, when set, discards any broadcast it returns true for.
	// Presence notifications are never dropped.
	DropFilter func(channel, event string) bool
}

// NewMemoryRelay creates an empty in-memory relay
func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{channels: make(map[string]map[string]*memoryChannel)}
}

// Channel opens a handle scoped to (name, localID)
func (r *MemoryRelay) Channel(name, localID string) Channel {
	return &memoryChannel{relay: r, name: name, localID: localID, handlers: make(map[string]BroadcastHandler)}
}

type memoryChannel struct {
	relay   *MemoryRelay
	name    string
	localID string

	mu         sync.Mutex
	handlers   map[string]BroadcastHandler
	presenceFn PresenceHandler
	meta       Meta
	tracked    bool
	subscribed bool
}

func (c *memoryChannel) OnBroadcast(event string, fn BroadcastHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = fn
}

func (c *memoryChannel) OnPresenceSync(fn PresenceHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presenceFn = fn
}

func (c *memoryChannel) Subscribe(ctx context.Context) error {
	r := c.relay
	r.mu.Lock()
	if r.channels[c.name] == nil {
		r.channels[c.name] = make(map[string]*memoryChannel)
	}
	r.channels[c.name][c.localID] = c
	r.mu.Unlock()

	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()

	c.deliverPresence(r.snapshot(c.name))
	return nil
}

func (c *memoryChannel) Track(ctx context.Context, meta Meta) error {
	c.mu.Lock()
	c.meta = meta
	c.tracked = true
	c.mu.Unlock()
	c.relay.broadcastPresence(c.name)
	return nil
}

func (c *memoryChannel) Untrack(ctx context.Context) error {
	c.mu.Lock()
	c.tracked = false
	c.mu.Unlock()
	c.relay.broadcastPresence(c.name)
	return nil
}

func (c *memoryChannel) Send(ctx context.Context, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	r := c.relay
	r.mu.Lock()
	drop := r.DropFilter != nil && r.DropFilter(c.name, event)
	var peers []*memoryChannel
	for id, peer := range r.channels[c.name] {
		if id == c.localID {
			continue // senders never receive their own broadcasts
		}
		peers = append(peers, peer)
	}
	r.mu.Unlock()

	if drop {
		return nil
	}

	msg := Message{Event: event, Sender: c.localID, Payload: data}
	for _, peer := range peers {
		peer.mu.Lock()
		fn := peer.handlers[event]
		peer.mu.Unlock()
		if fn != nil {
			fn(msg)
		}
	}
	return nil
}

func (c *memoryChannel) Close() error {
	r := c.relay
	r.mu.Lock()
	if chans, ok := r.channels[c.name]; ok {
		delete(chans, c.localID)
	}
	r.mu.Unlock()

	c.mu.Lock()
	wasTracked := c.tracked
	c.tracked = false
	c.subscribed = false
	c.mu.Unlock()

	if wasTracked {
		r.broadcastPresence(c.name)
	}
	return nil
}

func (c *memoryChannel) deliverPresence(members []Member) {
	c.mu.Lock()
	fn := c.presenceFn
	c.mu.Unlock()
	if fn != nil {
		fn(members)
	}
}

// snapshot builds the sorted member list for a channel name
func (r *MemoryRelay) snapshot(name string) []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	var members []Member
	for id, ch := range r.channels[name] {
		ch.mu.Lock()
		if ch.tracked {
			members = append(members, Member{ID: id, Meta: ch.meta})
		}
		ch.mu.Unlock()
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members
}

// broadcastPresence delivers a fresh snapshot to every subscriber,
// including the member that changed.
func (r *MemoryRelay) broadcastPresence(name string) {
	members := r.snapshot(name)
	r.mu.Lock()
	var peers []*memoryChannel
	for _, ch := range r.channels[name] {
		peers = append(peers, ch)
	}
	r.mu.Unlock()
	for _, ch := range peers {
		ch.deliverPresence(members)
	}
}

// Now is a convenience for presence meta timestamps
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
