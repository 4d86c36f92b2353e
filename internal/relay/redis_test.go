package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRelay(t *testing.T) (*RedisRelay, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisRelay(rdb), func() {
		rdb.Close()
		mr.Close()
	}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestRedisBroadcastBetweenPeers(t *testing.T) {
	r, cleanup := newTestRelay(t)
	defer cleanup()
	ctx := context.Background()

	received := make(chan Message, 4)
	b := r.Channel("game-1", "bob")
	b.OnBroadcast("move", func(m Message) { received <- m })
	if err := b.Subscribe(ctx); err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	a := r.Channel("game-1", "alice")
	gotOwn := make(chan Message, 4)
	a.OnBroadcast("move", func(m Message) { gotOwn <- m })
	if err := a.Subscribe(ctx); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if err := a.Send(ctx, "move", map[string]string{"turn": "red"}); err != nil {
		t.Fatal(err)
	}

	select {
	case m := <-received:
		if m.Sender != "alice" {
			t.Errorf("sender should be alice, got %s", m.Sender)
		}
		var p map[string]string
		if err := json.Unmarshal(m.Payload, &p); err != nil || p["turn"] != "red" {
			t.Errorf("payload should round-trip, got %s (%v)", m.Payload, err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("bob never received the broadcast")
	}

	select {
	case <-gotOwn:
		t.Error("alice must not receive her own broadcast")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRedisPresenceTrackUntrack(t *testing.T) {
	r, cleanup := newTestRelay(t)
	defer cleanup()
	ctx := context.Background()

	sawBoth := make(chan struct{}, 1)
	sawOne := make(chan struct{}, 1)
	a := r.Channel("game-2", "alice")
	a.OnPresenceSync(func(members []Member) {
		ids := make([]string, len(members))
		for i, m := range members {
			ids[i] = m.ID
		}
		switch {
		case len(ids) == 2 && ids[0] == "alice" && ids[1] == "bob":
			select {
			case sawBoth <- struct{}{}:
			default:
			}
		case len(ids) == 1 && ids[0] == "alice":
			select {
			case sawOne <- struct{}{}:
			default:
			}
		}
	})
	if err := a.Subscribe(ctx); err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if err := a.Track(ctx, Meta{DisplayLabel: "Alice", JoinedAt: Now()}); err != nil {
		t.Fatal(err)
	}

	b := r.Channel("game-2", "bob")
	if err := b.Subscribe(ctx); err != nil {
		t.Fatal(err)
	}
	if err := b.Track(ctx, Meta{DisplayLabel: "Bob", JoinedAt: Now()}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, sawBoth, "presence snapshot with both members sorted")

	if err := b.Untrack(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, sawOne, "presence snapshot after untrack")
	b.Close()
}

func TestRedisLateSubscriberSeesExistingPresence(t *testing.T) {
	r, cleanup := newTestRelay(t)
	defer cleanup()
	ctx := context.Background()

	a := r.Channel("game-3", "alice")
	if err := a.Subscribe(ctx); err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if err := a.Track(ctx, Meta{DisplayLabel: "Alice"}); err != nil {
		t.Fatal(err)
	}

	sawAlice := make(chan struct{}, 1)
	b := r.Channel("game-3", "bob")
	b.OnPresenceSync(func(members []Member) {
		for _, m := range members {
			if m.ID == "alice" && m.Meta.DisplayLabel == "Alice" {
				select {
				case sawAlice <- struct{}{}:
				default:
				}
			}
		}
	})
	if err := b.Subscribe(ctx); err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	// The initial snapshot on subscribe covers members who tracked
	// before we attached.
	waitFor(t, sawAlice, "existing member in initial snapshot")
}

func TestRedisCloseRetractsPresence(t *testing.T) {
	r, cleanup := newTestRelay(t)
	defer cleanup()
	ctx := context.Background()

	gone := make(chan struct{}, 1)
	bobSeen := make(chan struct{}, 1)
	sawBob := false
	a := r.Channel("game-4", "alice")
	a.OnPresenceSync(func(members []Member) {
		for _, m := range members {
			if m.ID == "bob" {
				sawBob = true
				select {
				case bobSeen <- struct{}{}:
				default:
				}
				return
			}
		}
		if !sawBob {
			return
		}
		select {
		case gone <- struct{}{}:
		default:
		}
	})
	if err := a.Subscribe(ctx); err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	a.Track(ctx, Meta{DisplayLabel: "Alice"})

	b := r.Channel("game-4", "bob")
	if err := b.Subscribe(ctx); err != nil {
		t.Fatal(err)
	}
	b.Track(ctx, Meta{DisplayLabel: "Bob"})
	waitFor(t, bobSeen, "bob to appear in alice's presence snapshot")

	// Close must untrack on the way out
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, gone, "presence retraction on close")
}

func TestRedisOnlineMembersWithoutSubscribing(t *testing.T) {
	r, cleanup := newTestRelay(t)
	defer cleanup()
	ctx := context.Background()

	online, err := r.OnlineMembers(ctx, "lobby")
	if err != nil {
		t.Fatal(err)
	}
	if len(online) != 0 {
		t.Fatalf("expected empty lobby, got %v", online)
	}

	a := r.Channel("lobby", "alice")
	if err := a.Subscribe(ctx); err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if err := a.Track(ctx, Meta{DisplayLabel: "Alice", JoinedAt: Now()}); err != nil {
		t.Fatal(err)
	}

	online, err = r.OnlineMembers(ctx, "lobby")
	if err != nil {
		t.Fatal(err)
	}
	if !online["alice"] {
		t.Fatalf("expected alice online, got %v", online)
	}
	if online["bob"] {
		t.Fatal("bob should not be online")
	}
}
