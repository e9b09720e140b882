package memory

import (
	"context"
	"testing"
	"time"

	"quizzana/internal/domain"
)

func TestBrokerDeliversToTopicSubscribers(t *testing.T) {
	b := NewBroker()
	ch, cancel, err := b.Subscribe(context.Background(), "room:r1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := b.Publish(context.Background(), "room:r1", domain.Event{Type: domain.EventRoomStarted, Version: 2}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := b.Publish(context.Background(), "room:other", domain.Event{Type: domain.EventTick}); err != nil {
		t.Fatalf("publish other: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Type != domain.EventRoomStarted || ev.Version != 2 {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event from another topic: %+v", ev)
	default:
	}
}

func TestBrokerDropsOldestForSlowSubscriber(t *testing.T) {
	b := NewBroker()
	ch, cancel, err := b.Subscribe(context.Background(), "room:r1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	for i := 1; i <= subscriberBuffer+3; i++ {
		_ = b.Publish(context.Background(), "room:r1", domain.Event{Version: i})
	}
	first := <-ch
	if first.Version != 4 {
		t.Fatalf("expected oldest events dropped, first version %d", first.Version)
	}
}

func TestBrokerCancelOnContextDone(t *testing.T) {
	b := NewBroker()
	ctx, stop := context.WithCancel(context.Background())
	ch, _, err := b.Subscribe(ctx, "room:r1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	stop()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("subscription not closed after context cancel")
	}
	if n := b.Subscribers("room:r1"); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
}

func TestPresenceCountsConnections(t *testing.T) {
	ctx := context.Background()
	p := NewPresence()
	_ = p.Connect(ctx, "r1", "p1")
	_ = p.Connect(ctx, "r1", "p1")
	_ = p.Disconnect(ctx, "r1", "p1")

	online, _ := p.Online(ctx, "r1")
	if !online["p1"] {
		t.Fatalf("player with a remaining connection should stay online")
	}
	_ = p.Disconnect(ctx, "r1", "p1")
	online, _ = p.Online(ctx, "r1")
	if online["p1"] {
		t.Fatalf("player should be offline")
	}
}

func TestDenylistExpires(t *testing.T) {
	ctx := context.Background()
	d := NewDenylist()
	now := time.Now()
	d.clock = func() time.Time { return now }
	_ = d.Revoke(ctx, "jti-1", now.Add(time.Minute))

	if revoked, _ := d.Revoked(ctx, "jti-1"); !revoked {
		t.Fatalf("expected token revoked")
	}
	now = now.Add(2 * time.Minute)
	if revoked, _ := d.Revoked(ctx, "jti-1"); revoked {
		t.Fatalf("expected entry to expire with the token")
	}
}
