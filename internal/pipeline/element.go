package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/geekscape/aiko-services/internal/actor"
	"github.com/geekscape/aiko-services/internal/sexp"
	"github.com/geekscape/aiko-services/internal/transport"
)

// StreamEventKind tags the outcome of a stream lifecycle or frame-
// processing step.
type StreamEventKind int

const (
	EventOkay StreamEventKind = iota
	EventStop
	EventError
)

// StreamEvent is returned by every Element lifecycle and frame method.
type StreamEvent struct {
	Kind   StreamEventKind
	Reason string
}

func Okay() StreamEvent             { return StreamEvent{Kind: EventOkay} }
func Stop() StreamEvent             { return StreamEvent{Kind: EventStop} }
func ErrorEvent(reason string) StreamEvent {
	return StreamEvent{Kind: EventError, Reason: reason}
}

func (e StreamEvent) IsError() bool { return e.Kind == EventError }
func (e StreamEvent) IsStop() bool  { return e.Kind == EventStop }

// Element is one node of a pipeline graph. ProcessFrame's
// third return value is false only for a remote element that has begun
// an asynchronous round trip; Pipeline suspends traversal of that frame
// until the matching reply arrives.
type Element interface {
	Name() string
	StartStream(stream *Stream, parameters map[string]sexp.Value) StreamEvent
	ProcessFrame(stream *Stream, frameID int64, inputs map[string]sexp.Value) (StreamEvent, map[string]sexp.Value, bool)
	StopStream(stream *Stream) StreamEvent
}

// LocalFactory constructs one local Element instance.
type LocalFactory func(name string, params map[string]sexp.Value) (Element, error)

// LocalRegistry resolves a module/class name to a LocalFactory, pre-
// populated with the built-in Metrics and Inspect elements.
type LocalRegistry struct {
	factories map[string]LocalFactory
}

// NewLocalRegistry returns a registry carrying the built-in elements,
// passing log to every built-in that logs rather than reaching for
// ambient state.
func NewLocalRegistry(log zerolog.Logger) *LocalRegistry {
	r := &LocalRegistry{factories: make(map[string]LocalFactory)}
	r.Register("aiko.pipeline.metrics.Metrics", NewMetricsElement)
	r.Register("aiko.pipeline.inspect.Inspect", func(name string, params map[string]sexp.Value) (Element, error) {
		return NewInspectElement(name, params, log)
	})
	return r
}

// Register installs factory under key (typically "<module>.<ClassName>").
func (r *LocalRegistry) Register(key string, factory LocalFactory) {
	r.factories[key] = factory
}

// Load instantiates the element named module.className, falling back to
// a bare className lookup, defaulting className to the element's own
// name when unset.
func (r *LocalRegistry) Load(module, className, name string, params map[string]sexp.Value) (Element, error) {
	if className == "" {
		className = name
	}
	if module != "" {
		if f, ok := r.factories[module+"."+className]; ok {
			return f(name, params)
		}
	}
	if f, ok := r.factories[className]; ok {
		return f(name, params)
	}
	return nil, fmt.Errorf("pipeline: no local element registered for %q", className)
}

// RemoteElement forwards ProcessFrame calls to a service discovered
// through the Registrar and waits for its reply on a dedicated reply
// topic, implementing remote element deploy.
type RemoteElement struct {
	name       string
	proxy      *actor.Proxy
	bus        transport.Bus
	replyTopic string
	log        zerolog.Logger
}

// NewRemoteElement builds a RemoteElement targeting the service resolved
// by proxy, with replies routed to replyTopic.
func NewRemoteElement(name string, proxy *actor.Proxy, bus transport.Bus, replyTopic string, log zerolog.Logger) *RemoteElement {
	return &RemoteElement{name: name, proxy: proxy, bus: bus, replyTopic: replyTopic, log: log}
}

func (e *RemoteElement) Name() string { return e.name }

func (e *RemoteElement) StartStream(stream *Stream, parameters map[string]sexp.Value) StreamEvent {
	return Okay()
}

func (e *RemoteElement) StopStream(stream *Stream) StreamEvent {
	return Okay()
}

// ProcessFrame publishes a process_frame command carrying the stream and
// frame identity plus the inputs gathered for this element, and always
// returns ok=false on success: the remote reply resumes traversal
// asynchronously via Pipeline's pending-frame bookkeeping.
func (e *RemoteElement) ProcessFrame(stream *Stream, frameID int64, inputs map[string]sexp.Value) (StreamEvent, map[string]sexp.Value, bool) {
	ids := sexp.NewOrderedMap()
	ids.Set(sexp.Sym("stream_id"), sexp.Int(stream.StreamID))
	ids.Set(sexp.Sym("frame_id"), sexp.Int(frameID))

	ports := sexp.NewOrderedMap()
	for k, v := range inputs {
		ports.Set(sexp.Sym(k), v)
	}

	kw := sexp.NewOrderedMap()
	kw.Set(sexp.Sym("reply_to"), sexp.Str(e.replyTopic))

	cmd := sexp.Command{
		Method: "process_frame",
		Args:   []sexp.Value{sexp.Map(ids), sexp.Map(ports)},
		Kw:     kw,
	}

	if err := e.proxy.CallCommand(context.Background(), cmd); err != nil {
		e.log.Error().Err(err).Str("element", e.name).Msg("pipeline: remote element call failed")
		return ErrorEvent(err.Error()), nil, true
	}
	return Okay(), nil, false
}
