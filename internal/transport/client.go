// Package transport is the MQTT message bus binding for the Aiko event
// loop: autopaho.ClientConfig construction, an OnConnectionUp resubscribe
// pattern, retained-publish support, and TLS gated on scheme/config,
// with mutex-guarded subscription bookkeeping.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/rs/zerolog"

	"github.com/geekscape/aiko-services/internal/eventloop"
)

// Handler receives an inbound message for a subscription whose filter
// matched the message's topic.
type Handler func(topic string, payload []byte)

// Config describes how to reach the broker, mirroring AIKO_MQTT_HOST and
// AIKO_MQTT_TLS.
type Config struct {
	Host     string
	Port     int
	TLS      bool
	ClientID string
}

func (c Config) url() (*url.URL, error) {
	scheme := "mqtt"
	if c.TLS {
		scheme = "mqtts"
	}
	raw := fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
	return url.Parse(raw)
}

type subscription struct {
	filter  string
	handler Handler
}

// Client is a single MQTT connection shared by every Service/Actor/
// Pipeline element in a process. Publish/Subscribe/Unsubscribe are safe
// for concurrent use; inbound deliveries are dispatched synchronously
// from paho's receive goroutine, so handlers that must run on the event
// loop should re-post via eventloop.Loop.Post themselves.
type Client struct {
	cfg    Config
	log    zerolog.Logger
	backoff *eventloop.Backoff

	mu   sync.Mutex
	cm   *autopaho.ConnectionManager
	subs map[string]*subscription
}

// New creates a Client but does not connect. Call Connect to dial the
// broker.
func New(cfg Config, log zerolog.Logger) *Client {
	return &Client{
		cfg:     cfg,
		log:     log,
		backoff: eventloop.NewBackoff(),
		subs:    make(map[string]*subscription),
	}
}

// Connect dials the broker and blocks until either the initial connection
// succeeds, ctx is cancelled, or the connection attempt exhausts its
// timeout; the returned error only reflects the first attempt, since
// autopaho keeps retrying with its own backoff in the background
// afterwards.
func (c *Client) Connect(ctx context.Context) error {
	brokerURL, err := c.cfg.url()
	if err != nil {
		return fmt.Errorf("transport: parse broker url: %w", err)
	}

	clientID := c.cfg.ClientID
	if clientID == "" {
		clientID = "aiko"
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{brokerURL},
		KeepAlive:  30,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			c.log.Info().Str("broker", brokerURL.String()).Msg("transport connected")
			c.backoff.Reset()
			c.resubscribeAll(cm)
		},
		OnConnectError: func(err error) {
			c.log.Warn().Err(err).Dur("retry_in", c.backoff.Next()).Msg("transport connect error")
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					c.dispatch(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}

	if c.cfg.TLS {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("transport: connect: %w", err)
	}

	c.mu.Lock()
	c.cm = cm
	c.mu.Unlock()

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		return fmt.Errorf("transport: initial connection: %w", err)
	}
	return nil
}

// Disconnect closes the connection, waiting up to the context's deadline
// for in-flight work to drain.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	cm := c.cm
	c.mu.Unlock()
	if cm == nil {
		return nil
	}
	return cm.Disconnect(ctx)
}

// Publish sends payload to topic, retaining it on the broker when retain
// is true ( identities use retained messages for Registrar primary
// markers and liveness state).
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	c.mu.Lock()
	cm := c.cm
	c.mu.Unlock()
	if cm == nil {
		return fmt.Errorf("transport: not connected")
	}
	_, err := cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     0,
		Retain:  retain,
	})
	if err != nil {
		return fmt.Errorf("transport: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for every inbound message whose topic
// matches filter (which may contain + and # wildcards), sending the
// SUBSCRIBE packet immediately if connected. The subscription is tracked
// so it can be replayed on reconnect.
func (c *Client) Subscribe(ctx context.Context, filter string, handler Handler) error {
	c.mu.Lock()
	c.subs[filter] = &subscription{filter: filter, handler: handler}
	cm := c.cm
	c.mu.Unlock()

	if cm == nil {
		return nil
	}
	return c.sendSubscribe(ctx, cm, filter)
}

// Unsubscribe stops delivery for filter and sends an UNSUBSCRIBE packet
// if connected.
func (c *Client) Unsubscribe(ctx context.Context, filter string) error {
	c.mu.Lock()
	delete(c.subs, filter)
	cm := c.cm
	c.mu.Unlock()

	if cm == nil {
		return nil
	}
	_, err := cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{filter}})
	if err != nil {
		return fmt.Errorf("transport: unsubscribe %s: %w", filter, err)
	}
	return nil
}

// AwaitConnection blocks until the connection is established or ctx
// expires.
func (c *Client) AwaitConnection(ctx context.Context) error {
	c.mu.Lock()
	cm := c.cm
	c.mu.Unlock()
	if cm == nil {
		return fmt.Errorf("transport: not connected")
	}
	return cm.AwaitConnection(ctx)
}

func (c *Client) sendSubscribe(ctx context.Context, cm *autopaho.ConnectionManager, filter string) error {
	_, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: 0}},
	})
	if err != nil {
		return fmt.Errorf("transport: subscribe %s: %w", filter, err)
	}
	return nil
}

// resubscribeAll replays every tracked subscription before any inbound
// message is dispatched, satisfying the reconnect-then-resubscribe
// ordering required by : autopaho does not remember subscriptions
// across a reconnect, so the client must reassert them itself.
func (c *Client) resubscribeAll(cm *autopaho.ConnectionManager) {
	c.mu.Lock()
	filters := make([]string, 0, len(c.subs))
	for f := range c.subs {
		filters = append(filters, f)
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, f := range filters {
		if err := c.sendSubscribe(ctx, cm, f); err != nil {
			c.log.Error().Err(err).Str("filter", f).Msg("transport resubscribe failed")
		}
	}
}

func (c *Client) dispatch(topic string, payload []byte) {
	c.mu.Lock()
	matches := make([]*subscription, 0, 1)
	for _, sub := range c.subs {
		if MatchTopic(sub.filter, topic) {
			matches = append(matches, sub)
		}
	}
	c.mu.Unlock()

	for _, sub := range matches {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error().Interface("panic", r).Str("topic", topic).Msg("transport handler panicked")
				}
			}()
			sub.handler(topic, payload)
		}()
	}
}
