package transport

import "context"

// Bus is the publish/subscribe surface every higher layer (Service,
// Actor, Pipeline) depends on. *Client implements it against a real MQTT
// broker; tests substitute Fake to exercise the same code paths without
// one.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error
	Subscribe(ctx context.Context, filter string, handler Handler) error
	Unsubscribe(ctx context.Context, filter string) error
}

var _ Bus = (*Client)(nil)
