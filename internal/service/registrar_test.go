package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/geekscape/aiko-services/internal/eventloop"
	"github.com/geekscape/aiko-services/internal/transport"
)

func newTestRegistrar(t *testing.T, bus transport.Bus, instance string) (*Registrar, *eventloop.Loop) {
	t.Helper()
	log := zerolog.Nop()
	loop := eventloop.New(log)
	r := NewRegistrar(loop, bus, log, Config{Namespace: "aiko", Host: "h", ProcessID: "1", Instance: instance})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("registrar.Start: %v", err)
	}
	return r, loop
}

// TestRegistrarFirstToPublishBecomesPrimary matches end-to-end scenario 6:
// exactly one of two Registrar-capable processes started close together
// publishes the retained primary marker; the other observes it and stays
// standby.
func TestRegistrarFirstToPublishBecomesPrimary(t *testing.T) {
	bus := transport.NewFake()
	r1, _ := newTestRegistrar(t, bus, "r1")
	r2, _ := newTestRegistrar(t, bus, "r2")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if r1.IsPrimary() != r2.IsPrimary() {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	if r1.IsPrimary() == r2.IsPrimary() {
		t.Fatalf("expected exactly one primary, got r1=%v r2=%v", r1.IsPrimary(), r2.IsPrimary())
	}
}

func TestRegistrarDiscoverReturnsEveryActiveServiceExactlyOnce(t *testing.T) {
	bus := transport.NewFake()
	r, _ := newTestRegistrar(t, bus, "r1")

	r.Add(Record{TopicPath: "aiko/h/2/1", Name: "alpha", Owner: "o", Protocol: "p", Transport: "mqtt"})
	r.Add(Record{TopicPath: "aiko/h/3/1", Name: "beta", Owner: "o", Protocol: "p", Transport: "mqtt"})
	r.Add(Record{TopicPath: "aiko/h/2/1", Name: "alpha", Owner: "o", Protocol: "p", Transport: "mqtt"}) // duplicate add

	matches := r.Discover(MatchAll())
	if len(matches) != 2 {
		t.Fatalf("Discover(MatchAll()) = %d records, want 2: %+v", len(matches), matches)
	}
}

func TestRegistrarRemoveDropsFromSubsequentDiscover(t *testing.T) {
	bus := transport.NewFake()
	r, _ := newTestRegistrar(t, bus, "r1")

	rec := Record{TopicPath: "aiko/h/2/1", Name: "alpha", Owner: "o", Protocol: "p", Transport: "mqtt"}
	r.Add(rec)
	if matches := r.Discover(MatchAll()); len(matches) != 1 {
		t.Fatalf("before remove: %d records, want 1", len(matches))
	}

	r.Remove(rec.TopicPath)
	if matches := r.Discover(MatchAll()); len(matches) != 0 {
		t.Fatalf("after remove: %d records, want 0: %+v", len(matches), matches)
	}
}

func TestRegistrarWatchFiresOnAddAndRemove(t *testing.T) {
	bus := transport.NewFake()
	r, _ := newTestRegistrar(t, bus, "r1")

	var events []WatchEvent
	cancel := r.Watch(Filter{Name: "alpha", TopicPath: "*", Owner: "*", Protocol: "*", Transport: "*"}, func(ev WatchEvent) {
		events = append(events, ev)
	})
	defer cancel()

	rec := Record{TopicPath: "aiko/h/2/1", Name: "alpha", Owner: "o", Protocol: "p", Transport: "mqtt"}
	r.Add(rec)
	r.Remove(rec.TopicPath)

	if len(events) != 2 {
		t.Fatalf("got %d watch events, want 2 (add, remove): %+v", len(events), events)
	}
	if events[0].Kind != WatchAdd || events[1].Kind != WatchRemove {
		t.Fatalf("events = %+v, want [add remove]", events)
	}
}

// TestRegistrarTransportResetReElects matches the system_reset convention
// : clearing the retained primary marker with an empty publish lets a
// fresh election run.
func TestRegistrarTransportResetReElects(t *testing.T) {
	bus := transport.NewFake()
	r, _ := newTestRegistrar(t, bus, "r1")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !r.IsPrimary() {
		time.Sleep(2 * time.Millisecond)
	}
	if !r.IsPrimary() {
		t.Fatal("single registrar should self-promote to primary")
	}

	if err := bus.Publish(context.Background(), RegistrarTopic("aiko"), nil, true); err != nil {
		t.Fatalf("publish reset: %v", err)
	}
	if r.IsPrimary() {
		t.Fatal("empty retained publish should clear primary status pending re-election")
	}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !r.IsPrimary() {
		time.Sleep(2 * time.Millisecond)
	}
	if !r.IsPrimary() {
		t.Fatal("registrar should re-promote itself after system_reset")
	}
}

// TestServiceLivenessGraceTimeReap checks that absence of a retained state
// heartbeat past grace_time is treated as implicit removal.
func TestServiceLivenessGraceTimeReap(t *testing.T) {
	bus := transport.NewFake()
	log := zerolog.Nop()
	loop := eventloop.New(log)
	r := NewRegistrar(loop, bus, log, Config{Namespace: "aiko", Host: "h", ProcessID: "1", Instance: "r1"})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("registrar.Start: %v", err)
	}

	rec := Record{TopicPath: "aiko/h/2/1", Name: "alpha", Owner: "o", Protocol: "p", Transport: "mqtt"}
	r.Add(rec)
	r.mu.Lock()
	r.lastSeen[rec.TopicPath] = time.Now().Add(-time.Hour)
	r.graceByTopic[rec.TopicPath] = time.Millisecond
	r.mu.Unlock()

	r.reap()

	if matches := r.Discover(MatchAll()); len(matches) != 0 {
		t.Fatalf("expected reap to drop the stale record, got %+v", matches)
	}
}
