package transport

import (
	"context"
	"sync"
)

// Fake is an in-process Bus standing in for a real broker connection in
// package tests for service, actor, and pipeline: it honors retained-
// message replay-on-subscribe and +/# wildcard matching via MatchTopic,
// the same observable behavior a live Client gives callers.
type Fake struct {
	mu       sync.Mutex
	subs     map[string][]Handler
	retained map[string][]byte
}

// NewFake returns an empty in-memory bus.
func NewFake() *Fake {
	return &Fake{subs: make(map[string][]Handler), retained: make(map[string][]byte)}
}

// Publish delivers payload synchronously to every handler whose filter
// matches topic, and records it as the topic's retained message when
// retain is true (an empty retained payload clears it, 
// system_reset convention).
func (f *Fake) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	f.mu.Lock()
	if retain {
		if len(payload) == 0 {
			delete(f.retained, topic)
		} else {
			f.retained[topic] = payload
		}
	}
	var handlers []Handler
	for filter, hs := range f.subs {
		if MatchTopic(filter, topic) {
			handlers = append(handlers, hs...)
		}
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(topic, payload)
	}
	return nil
}

// Subscribe registers handler for filter and immediately replays any
// retained message whose topic already matches it, matching 
// "delivery of retained message occurs immediately upon subscription".
func (f *Fake) Subscribe(ctx context.Context, filter string, handler Handler) error {
	f.mu.Lock()
	f.subs[filter] = append(f.subs[filter], handler)
	type replayMsg struct {
		topic   string
		payload []byte
	}
	var replay []replayMsg
	for topic, payload := range f.retained {
		if MatchTopic(filter, topic) {
			replay = append(replay, replayMsg{topic, payload})
		}
	}
	f.mu.Unlock()

	for _, r := range replay {
		handler(r.topic, r.payload)
	}
	return nil
}

// Unsubscribe drops every handler registered for filter.
func (f *Fake) Unsubscribe(ctx context.Context, filter string) error {
	f.mu.Lock()
	delete(f.subs, filter)
	f.mu.Unlock()
	return nil
}

var _ Bus = (*Fake)(nil)
