package transport

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

// These tests cover the bookkeeping that does not require a live broker:
// subscription tracking and dispatch-by-wildcard. The actual autopaho
// connection lifecycle (Connect/resubscribe-on-reconnect/Publish) needs a
// running MQTT broker and is not tested in this repository.

func newTestClient() *Client {
	return New(Config{Host: "localhost", Port: 1883}, zerolog.Nop())
}

func TestSubscribeTracksFilterWithoutConnection(t *testing.T) {
	c := newTestClient()
	if err := c.Subscribe(context.Background(), "aiko/+/1/1/in", func(string, []byte) {}); err != nil {
		t.Fatalf("subscribe before connect should not error: %v", err)
	}
	if _, ok := c.subs["aiko/+/1/1/in"]; !ok {
		t.Error("subscription should be tracked even when not yet connected")
	}
}

func TestUnsubscribeRemovesTrackedFilter(t *testing.T) {
	c := newTestClient()
	_ = c.Subscribe(context.Background(), "aiko/host/#", func(string, []byte) {})
	if err := c.Unsubscribe(context.Background(), "aiko/host/#"); err != nil {
		t.Fatalf("unsubscribe before connect should not error: %v", err)
	}
	if _, ok := c.subs["aiko/host/#"]; ok {
		t.Error("unsubscribe should remove the tracked filter")
	}
}

func TestDispatchInvokesMatchingHandlersOnly(t *testing.T) {
	c := newTestClient()
	var gotIn, gotOut int
	_ = c.Subscribe(context.Background(), "aiko/+/1/1/in", func(topic string, payload []byte) {
		gotIn++
	})
	_ = c.Subscribe(context.Background(), "aiko/+/1/1/out", func(topic string, payload []byte) {
		gotOut++
	})

	c.dispatch("aiko/host/1/1/in", []byte("(echo)"))
	if gotIn != 1 || gotOut != 0 {
		t.Errorf("gotIn=%d gotOut=%d, want 1,0", gotIn, gotOut)
	}
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	c := newTestClient()
	called := false
	_ = c.Subscribe(context.Background(), "aiko/host/1/1/in", func(string, []byte) {
		panic("boom")
	})
	_ = c.Subscribe(context.Background(), "aiko/+/1/1/in", func(string, []byte) {
		called = true
	})

	c.dispatch("aiko/host/1/1/in", nil) // must not panic the test
	if !called {
		t.Error("a panicking handler should not prevent other handlers from running")
	}
}
