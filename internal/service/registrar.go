package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/geekscape/aiko-services/internal/eventloop"
	"github.com/geekscape/aiko-services/internal/sexp"
	"github.com/geekscape/aiko-services/internal/transport"
)

// WatchKind tags a Watch callback invocation as an addition or removal.
type WatchKind int

const (
	WatchAdd WatchKind = iota
	WatchRemove
)

// WatchEvent is delivered to a Watch handler when a matching Service is
// added or removed.
type WatchEvent struct {
	Kind   WatchKind
	Record Record
}

type watcher struct {
	filter  Filter
	handler func(WatchEvent)
}

// electionSettleDelay is how long a newly-started Registrar waits to see
// whether an existing primary's retained marker arrives before deciding
// to self-promote. When two Registrar-capable processes start within this
// window, exactly one must end up publishing.
const electionSettleDelay = 50 * time.Millisecond

// Registrar is the distinguished Service maintaining the set of live
// services on the bus : it elects a primary via the retained-
// message discipline on the namespace's well-known topic, and every
// instance (primary or standby) maintains its own discovery cache built
// from `add`/`remove` announcements and liveness heartbeats, matching
// "discovery cache owned by the local Service, rebuilt on
// reconnect".
type Registrar struct {
	*Service
	namespace string
	bus       transport.Bus
	loop      *eventloop.Loop
	log       zerolog.Logger

	mu           sync.Mutex
	records      map[string]Record
	lastSeen     map[string]time.Time
	graceByTopic map[string]time.Duration
	watchers     []*watcher
	primary      bool
	primaryTopic string
}

// NewRegistrar builds a Registrar Service. Call Start to begin election,
// subscriptions, and grace-time reaping.
func NewRegistrar(loop *eventloop.Loop, bus transport.Bus, log zerolog.Logger, cfg Config) *Registrar {
	if cfg.Protocol == "" {
		cfg.Protocol = "aiko-registrar"
	}
	svc := New(loop, bus, log, cfg)
	return &Registrar{
		Service:      svc,
		namespace:    cfg.Namespace,
		bus:          bus,
		loop:         loop,
		log:          log,
		records:      make(map[string]Record),
		lastSeen:     make(map[string]time.Time),
		graceByTopic: make(map[string]time.Duration),
	}
}

// Start begins the underlying Service, subscribes to the registrar and
// namespace-wide state topics, attempts primary election, and schedules
// grace-time reaping.
func (r *Registrar) Start(ctx context.Context) error {
	if err := r.Service.Start(ctx); err != nil {
		return err
	}

	if err := r.bus.Subscribe(ctx, RegistrarTopic(r.namespace), func(_ string, payload []byte) {
		r.handleRegistryMessage(ctx, payload)
	}); err != nil {
		return fmt.Errorf("registrar: subscribe %s: %w", RegistrarTopic(r.namespace), err)
	}

	stateFilter := r.namespace + "/+/+/+/state"
	if err := r.bus.Subscribe(ctx, stateFilter, func(topic string, payload []byte) {
		r.handleState(topic, payload)
	}); err != nil {
		return fmt.Errorf("registrar: subscribe %s: %w", stateFilter, err)
	}

	r.electPrimary(ctx)
	r.loop.AddTimer(time.Second, true, r.reap)

	return nil
}

// IsPrimary reports whether this process won the retained-message
// election for its namespace.
func (r *Registrar) IsPrimary() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.primary
}

func (r *Registrar) electPrimary(ctx context.Context) {
	r.mu.Lock()
	already := r.primaryTopic != ""
	r.mu.Unlock()
	if already {
		return
	}

	time.AfterFunc(electionSettleDelay, func() {
		r.mu.Lock()
		stillOpen := r.primaryTopic == ""
		if stillOpen {
			r.primary = true
			r.primaryTopic = r.TopicPath()
		}
		r.mu.Unlock()
		if !stillOpen {
			return
		}
		if err := r.bus.Publish(ctx, RegistrarTopic(r.namespace), []byte(r.TopicPath()), true); err != nil {
			r.log.Error().Err(err).Msg("registrar: self-promotion publish failed")
			return
		}
		r.log.Info().Str("topic", r.TopicPath()).Msg("registrar: self-promoted to primary")
	})
}

func (r *Registrar) handleRegistryMessage(ctx context.Context, payload []byte) {
	text := string(payload)
	if text == "" {
		// Empty retained payload is the system_reset convention :
		// clear the known primary so a fresh election can run.
		r.mu.Lock()
		r.primaryTopic = ""
		r.primary = false
		r.mu.Unlock()
		r.electPrimary(ctx)
		return
	}

	cmd, err := sexp.ParseCommand(text)
	if err != nil {
		// Not a command: this is the retained bare-topic-path primary
		// marker.
		r.mu.Lock()
		if r.primaryTopic == "" {
			r.primaryTopic = text
		}
		r.mu.Unlock()
		return
	}

	switch cmd.Method {
	case "add":
		if len(cmd.Args) == 0 {
			return
		}
		if rec, ok := recordFromValue(cmd.Args[0]); ok {
			r.Add(rec)
		}
	case "remove":
		if len(cmd.Args) == 0 {
			return
		}
		if topic, ok := cmd.Args[0].AsString(); ok {
			r.Remove(topic)
		}
	}
}

func (r *Registrar) handleState(topic string, payload []byte) {
	base := strings.TrimSuffix(topic, "/state")

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(payload) == 0 {
		delete(r.lastSeen, base)
		delete(r.graceByTopic, base)
		return
	}

	grace := 30 * time.Second
	if v, err := sexp.Parse(string(payload)); err == nil && v.Kind == sexp.KindMap {
		if gv, ok := v.Map.Get("grace_time"); ok {
			if gi, ok := gv.AsInt64(); ok && gi > 0 {
				grace = time.Duration(gi) * time.Second
			}
		}
	}
	r.lastSeen[base] = time.Now()
	r.graceByTopic[base] = grace
}

// reap removes records whose liveness heartbeat has not been seen within
// their grace_time, the Registrar's half of "absence... after a
// grace_time is treated as implicit removal".
func (r *Registrar) reap() {
	now := time.Now()
	var removed []Record

	r.mu.Lock()
	for topic, seen := range r.lastSeen {
		grace := r.graceByTopic[topic]
		if grace <= 0 {
			grace = 30 * time.Second
		}
		if now.Sub(seen) <= grace {
			continue
		}
		if rec, ok := r.records[topic]; ok {
			removed = append(removed, rec)
			delete(r.records, topic)
		}
		delete(r.lastSeen, topic)
		delete(r.graceByTopic, topic)
	}
	r.mu.Unlock()

	for _, rec := range removed {
		r.fire(WatchEvent{Kind: WatchRemove, Record: rec})
	}
}

// Add inserts or updates rec in the local cache and notifies matching
// watchers. Exported so a Service's own startup announcement can be
// reflected immediately in a process's own cache without waiting for the
// bus round trip.
func (r *Registrar) Add(rec Record) {
	r.mu.Lock()
	r.records[rec.TopicPath] = rec
	r.lastSeen[rec.TopicPath] = time.Now()
	r.mu.Unlock()
	r.fire(WatchEvent{Kind: WatchAdd, Record: rec})
}

// Remove drops topicPath from the local cache and notifies matching
// watchers, a Service's shutdown `(remove …)` announcement.
func (r *Registrar) Remove(topicPath string) {
	r.mu.Lock()
	rec, ok := r.records[topicPath]
	delete(r.records, topicPath)
	delete(r.lastSeen, topicPath)
	delete(r.graceByTopic, topicPath)
	r.mu.Unlock()
	if ok {
		r.fire(WatchEvent{Kind: WatchRemove, Record: rec})
	}
}

// Discover returns a snapshot of every cached record matching filter
//.
func (r *Registrar) Discover(filter Filter) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		if filter.Match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Watch registers handler to be called for every future add/remove event
// matching filter, returning a cancel function.
func (r *Registrar) Watch(filter Filter, handler func(WatchEvent)) (cancel func()) {
	w := &watcher{filter: filter, handler: handler}
	r.mu.Lock()
	r.watchers = append(r.watchers, w)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, x := range r.watchers {
			if x == w {
				r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
				return
			}
		}
	}
}

func (r *Registrar) fire(ev WatchEvent) {
	r.mu.Lock()
	watchers := append([]*watcher(nil), r.watchers...)
	r.mu.Unlock()
	for _, w := range watchers {
		if w.filter.Match(ev.Record) {
			w.handler(ev)
		}
	}
}
