package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/geekscape/aiko-services/internal/eventloop"
	"github.com/geekscape/aiko-services/internal/sexp"
	"github.com/geekscape/aiko-services/internal/transport"
)

// State is a Service's lifecycle state machine.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Config describes one Service's identity, registration metadata, and
// liveness window.
type Config struct {
	Namespace string
	Host      string
	ProcessID string
	Instance  string

	Name      string
	Owner     string
	Protocol  string
	Transport string
	Tags      []string

	// GraceTime bounds how long the Registrar waits after a missed
	// heartbeat before treating this Service as gone. Defaults to
	// 30s when zero.
	GraceTime time.Duration
}

// InboundHandler receives the raw payload of every message delivered to
// this Service's <topic>/in channel.
type InboundHandler func(payload []byte)

// Service is the base polymorphic capability a topic
// path, a state machine, retained-message registration with the
// Registrar, and periodic liveness heartbeats. Actor and Pipeline are
// built by composition on top of it (: "has-a", not inheritance).
type Service struct {
	cfg    Config
	log    zerolog.Logger
	loop   *eventloop.Loop
	bus    transport.Bus
	record Record
	base   string

	mu      sync.Mutex
	state   State
	inbound InboundHandler

	heartbeat eventloop.Handle
}

// New constructs a Service. Call Start to subscribe, announce, and begin
// heartbeating.
func New(loop *eventloop.Loop, bus transport.Bus, log zerolog.Logger, cfg Config) *Service {
	if cfg.Namespace == "" {
		cfg.Namespace = "aiko"
	}
	if cfg.GraceTime <= 0 {
		cfg.GraceTime = 30 * time.Second
	}
	base := BasePath(cfg.Namespace, cfg.Host, cfg.ProcessID, cfg.Instance)
	return &Service{
		cfg:  cfg,
		log:  log,
		loop: loop,
		bus:  bus,
		base: base,
		record: Record{
			TopicPath: base,
			Name:      cfg.Name,
			Owner:     cfg.Owner,
			Protocol:  cfg.Protocol,
			Transport: cfg.Transport,
			Tags:      cfg.Tags,
		},
		state: StateStarting,
	}
}

// TopicPath returns this Service's base topic path (no channel suffix).
func (s *Service) TopicPath() string { return s.base }

// Channel returns the full topic for one of this Service's channels
// (in, out, state, log, …).
func (s *Service) Channel(channel string) string { return Channel(s.base, channel) }

// Record returns the Service's current discovery record.
func (s *Service) Record() Record { return s.record }

// GraceTime returns the liveness window this Service heartbeats on.
func (s *Service) GraceTime() time.Duration { return s.cfg.GraceTime }

// State reports the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetInboundHandler installs the callback invoked for every <topic>/in
// message. Actor uses this to wire in its command dispatcher.
func (s *Service) SetInboundHandler(h InboundHandler) {
	s.mu.Lock()
	s.inbound = h
	s.mu.Unlock()
}

// Start subscribes to <topic>/in, announces the service to the Registrar
// with an `(add …)` command, transitions to running, and begins
// periodic retained liveness heartbeats on <topic>/state ( steps
// 1-3).
func (s *Service) Start(ctx context.Context) error {
	if err := s.bus.Subscribe(ctx, s.Channel("in"), func(_ string, payload []byte) {
		s.mu.Lock()
		h := s.inbound
		s.mu.Unlock()
		if h != nil {
			h(payload)
		}
	}); err != nil {
		return fmt.Errorf("service: subscribe %s: %w", s.Channel("in"), err)
	}

	if err := s.announce(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()

	s.publishLiveness(ctx)
	s.heartbeat = s.loop.AddTimer(s.cfg.GraceTime/3, true, func() { s.publishLiveness(ctx) })

	return nil
}

func (s *Service) announce(ctx context.Context) error {
	payload := sexp.Serialize(sexp.List(sexp.Sym("add"), recordToValue(s.record)))
	return s.bus.Publish(ctx, RegistrarTopic(s.cfg.Namespace), []byte(payload), false)
}

func (s *Service) publishLiveness(ctx context.Context) {
	m := sexp.NewOrderedMap()
	m.Set(sexp.Sym("state"), sexp.Sym("running"))
	m.Set(sexp.Sym("grace_time"), sexp.Int(int64(s.cfg.GraceTime.Seconds())))
	payload := sexp.Serialize(sexp.Map(m))
	if err := s.bus.Publish(ctx, s.Channel("state"), []byte(payload), true); err != nil {
		s.log.Warn().Err(err).Str("topic", s.Channel("state")).Msg("service: liveness publish failed")
	}
}

// Stop transitions to stopping, cancels the heartbeat, unsubscribes from
// <topic>/in, clears the retained liveness state, and publishes
// `(remove topic_path)` to the Registrar ( step 4, "terminate
// cancels all timers and unsubscribes before publishing removal").
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateStopping
	heartbeat := s.heartbeat
	s.mu.Unlock()

	if heartbeat != "" {
		s.loop.RemoveTimer(heartbeat)
	}
	_ = s.bus.Unsubscribe(ctx, s.Channel("in"))
	_ = s.bus.Publish(ctx, s.Channel("state"), nil, true)

	payload := sexp.Serialize(sexp.List(sexp.Sym("remove"), sexp.Str(s.record.TopicPath)))
	err := s.bus.Publish(ctx, RegistrarTopic(s.cfg.Namespace), []byte(payload), false)

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	return err
}

// Publish sends payload on one of this Service's own channels.
func (s *Service) Publish(ctx context.Context, channel string, payload []byte, retain bool) error {
	return s.bus.Publish(ctx, s.Channel(channel), payload, retain)
}

// PublishRaw sends payload to an arbitrary topic, used for reply_to
// routing where the destination is not one of this Service's own
// channels.
func (s *Service) PublishRaw(ctx context.Context, topic string, payload []byte, retain bool) error {
	return s.bus.Publish(ctx, topic, payload, retain)
}
