package relay

import (
	"context"
	"testing"
)

func TestMemoryPresenceSortedAndShared(t *testing.T) {
	r := NewMemoryRelay()
	ctx := context.Background()

	var snapA, snapB []Member
	a := r.Channel("room", "zeta")
	a.OnPresenceSync(func(m []Member) { snapA = m })
	b := r.Channel("room", "alpha")
	b.OnPresenceSync(func(m []Member) { snapB = m })

	if err := a.Subscribe(ctx); err != nil {
		t.Fatal(err)
	}
	if err := b.Subscribe(ctx); err != nil {
		t.Fatal(err)
	}
	a.Track(ctx, Meta{DisplayLabel: "Z"})
	b.Track(ctx, Meta{DisplayLabel: "A"})

	// Sorted by id regardless of join order, identical on both peers
	want := []string{"alpha", "zeta"}
	for name, snap := range map[string][]Member{"a": snapA, "b": snapB} {
		if len(snap) != 2 {
			t.Fatalf("%s: expected 2 members, got %d", name, len(snap))
		}
		for i, id := range want {
			if snap[i].ID != id {
				t.Errorf("%s: member %d should be %s, got %s", name, i, id, snap[i].ID)
			}
		}
	}

	a.Untrack(ctx)
	if len(snapB) != 1 || snapB[0].ID != "alpha" {
		t.Errorf("untrack should remove zeta, got %v", snapB)
	}
}

func TestMemorySenderDoesNotReceiveOwnBroadcast(t *testing.T) {
	r := NewMemoryRelay()
	ctx := context.Background()

	var gotA, gotB []Message
	a := r.Channel("room", "a")
	a.OnBroadcast("ping", func(m Message) { gotA = append(gotA, m) })
	b := r.Channel("room", "b")
	b.OnBroadcast("ping", func(m Message) { gotB = append(gotB, m) })
	a.Subscribe(ctx)
	b.Subscribe(ctx)

	if err := a.Send(ctx, "ping", map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}

	if len(gotA) != 0 {
		t.Error("sender must not receive its own broadcast")
	}
	if len(gotB) != 1 || gotB[0].Sender != "a" {
		t.Fatalf("peer should receive the broadcast, got %v", gotB)
	}
}

func TestMemoryUnknownEventsIgnored(t *testing.T) {
	r := NewMemoryRelay()
	ctx := context.Background()

	handled := 0
	a := r.Channel("room", "a")
	b := r.Channel("room", "b")
	b.OnBroadcast("known", func(Message) { handled++ })
	a.Subscribe(ctx)
	b.Subscribe(ctx)

	a.Send(ctx, "mystery", "boo")
	a.Send(ctx, "known", "ok")

	if handled != 1 {
		t.Errorf("only registered events should dispatch, got %d", handled)
	}
}

func TestMemoryDropFilterLosesMessages(t *testing.T) {
	r := NewMemoryRelay()
	r.DropFilter = func(channel, event string) bool { return event == "move" }
	ctx := context.Background()

	moves, ticks := 0, 0
	a := r.Channel("room", "a")
	b := r.Channel("room", "b")
	b.OnBroadcast("move", func(Message) { moves++ })
	b.OnBroadcast("tick", func(Message) { ticks++ })
	a.Subscribe(ctx)
	b.Subscribe(ctx)

	a.Send(ctx, "move", 1)
	a.Send(ctx, "tick", 2)

	if moves != 0 {
		t.Error("filtered event should be dropped")
	}
	if ticks != 1 {
		t.Error("unfiltered event should pass")
	}
}
