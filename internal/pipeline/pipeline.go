package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/geekscape/aiko-services/internal/actor"
	"github.com/geekscape/aiko-services/internal/eventloop"
	"github.com/geekscape/aiko-services/internal/sexp"
	"github.com/geekscape/aiko-services/internal/service"
	"github.com/geekscape/aiko-services/internal/transport"
)

// defaultGraceTime is the grace time recorded on a stream when
// create_stream omits grace_time or the stream is created implicitly by
// process_frame. The pipeline itself does not reclaim idle streams.
func defaultGraceTime() time.Duration { return 5 * time.Minute }

type pendingKey struct {
	streamID int64
	frameID  int64
}

// pendingFrame is the suspended continuation of a frame traversal that
// handed off to a remote element and is waiting for its reply (
// scenario 5).
type pendingFrame struct {
	stream  *Stream
	swag    map[string]sexp.Value
	nextIdx int
	replyTo string
}

// Options configures a Pipeline's runtime dependencies.
type Options struct {
	Loop       *eventloop.Loop
	Bus        transport.Bus
	Registrar  *service.Registrar
	Log        zerolog.Logger
	Namespace  string
	Host       string
	ProcessID  string
	Instance   string
	Locals     *LocalRegistry
}

// Pipeline is the running instance of a Definition: its element graph,
// its own Actor identity (create_stream/process_frame/destroy_stream/
// terminate), and the per-stream traversal state.
type Pipeline struct {
	def   *Definition
	graph *Graph

	actor *actor.Actor
	log   zerolog.Logger
	loop  *eventloop.Loop

	elements      map[string]Element
	outputsOf     map[string][]string
	inputsOf      map[string][]string
	elemParams    map[string]map[string]sexp.Value
	slidingWindow bool

	mu      sync.Mutex
	streams map[int64]*Stream
	pending map[pendingKey]*pendingFrame

	metrics *metricsCollector
}

// New builds a Pipeline from def: validates the definition and its
// derived graph, instantiates every element (local in-process or a
// remote Proxy/RemoteElement pair), and registers the pipeline's own
// Actor command handlers.
func New(def *Definition, opts Options) (*Pipeline, error) {
	if err := validateDefinition(def); err != nil {
		return nil, err
	}
	graph, err := BuildGraph(def.Graph)
	if err != nil {
		return nil, err
	}
	if err := graph.Validate(); err != nil {
		return nil, err
	}

	locals := opts.Locals
	if locals == nil {
		locals = NewLocalRegistry(opts.Log)
	}

	svc := service.New(opts.Loop, opts.Bus, opts.Log, service.Config{
		Namespace: opts.Namespace,
		Host:      opts.Host,
		ProcessID: opts.ProcessID,
		Instance:  opts.Instance,
		Name:      def.Name,
		Owner:     "pipeline",
		Protocol:  "aiko-pipeline",
		Transport: "mqtt",
	})
	a := actor.New(svc, opts.Log)
	replyTopic := svc.Channel("remote_reply")

	p := &Pipeline{
		def:        def,
		graph:      graph,
		actor:      a,
		log:        opts.Log,
		loop:       opts.Loop,
		elements:   make(map[string]Element),
		outputsOf:  make(map[string][]string),
		inputsOf:   make(map[string][]string),
		elemParams: make(map[string]map[string]sexp.Value),
		streams:    make(map[int64]*Stream),
		pending:    make(map[pendingKey]*pendingFrame),
	}

	if sw, ok := def.Parameters["sliding_window"]; ok {
		p.slidingWindow = asBoolLoose(sw)
	}

	portType := make(map[string]map[string]string) // element -> port -> type
	hasRemote := false
	for _, ed := range def.Elements {
		var outNames, inNames []string
		types := make(map[string]string, len(ed.Output)+len(ed.Input))
		for _, port := range ed.Output {
			outNames = append(outNames, port.Name)
			types[port.Name] = port.Type
		}
		for _, port := range ed.Input {
			inNames = append(inNames, port.Name)
			types[port.Name] = port.Type
		}
		p.outputsOf[ed.Name] = outNames
		p.inputsOf[ed.Name] = inNames
		p.elemParams[ed.Name] = ed.Parameters
		portType[ed.Name] = types

		switch {
		case ed.Deploy.Local != nil:
			el, err := locals.Load(ed.Deploy.Local.Module, ed.Deploy.Local.ClassName, ed.Name, ed.Parameters)
			if err != nil {
				return nil, fmt.Errorf("pipeline: element %q: %w", ed.Name, err)
			}
			p.elements[ed.Name] = el
		case ed.Deploy.Remote != nil:
			if opts.Registrar == nil {
				return nil, fmt.Errorf("pipeline: element %q requests remote deploy but no registrar is configured", ed.Name)
			}
			hasRemote = true
			proxy := actor.NewProxy(opts.Registrar, opts.Bus, opts.Loop, opts.Log, ed.Deploy.Remote.ServiceFilter, actor.WaitPolicyFail)
			p.elements[ed.Name] = NewRemoteElement(ed.Name, proxy, opts.Bus, replyTopic, opts.Log)
		default:
			return nil, fmt.Errorf("pipeline: element %q declares no deploy target", ed.Name)
		}
	}

	p.checkPortTypes(graph.Edges, portType)

	if hasRemote {
		opts.Loop.AddMailboxHandler("pipeline:remote_reply", func(msg any) {
			if payload, ok := msg.([]byte); ok {
				p.handleRemoteReply(payload)
			}
		})
		if err := opts.Bus.Subscribe(opts.Loop.Context(), replyTopic, func(_ string, payload []byte) {
			opts.Loop.Post("pipeline:remote_reply", payload)
		}); err != nil {
			return nil, fmt.Errorf("pipeline: subscribe remote reply topic: %w", err)
		}
	}

	a.Register("create_stream", p.handleCreateStream)
	a.Register("process_frame", p.handleProcessFrame)
	a.Register("destroy_stream", p.handleDestroyStream)
	a.Register("terminate", p.handleTerminate)

	if hasMetricsElement(def) {
		p.metrics = newMetricsCollector(p, svc, opts.Loop, metricsRateFromParams(def.Parameters))
	}

	return p, nil
}

// Name returns the pipeline's definition name.
func (p *Pipeline) Name() string { return p.def.Name }

// TopicPath returns the pipeline's own Service topic path.
func (p *Pipeline) TopicPath() string { return p.actor.Service().TopicPath() }

// Start begins the pipeline's own Actor (subscribe, announce, heartbeat).
func (p *Pipeline) Start(ctx context.Context) error { return p.actor.Start(ctx) }

// checkPortTypes warns, rather than fails, on a declared port-type
// mismatch across an edge: swag values are dynamically typed S-expression
// Values, so a mismatch cannot corrupt a frame, only surprise whoever
// declared the ports ( Open Question: loose port typing).
func (p *Pipeline) checkPortTypes(edges []Edge, portType map[string]map[string]string) {
	for _, e := range edges {
		for port := range portType[e.From] {
			fromType, fromOK := portType[e.From][port]
			toType, toOK := portType[e.To][port]
			if !fromOK || !toOK || fromType == "" || toType == "" {
				continue
			}
			if fromType != toType {
				p.log.Warn().Str("from", e.From).Str("to", e.To).Str("port", port).
					Str("from_type", fromType).Str("to_type", toType).
					Msg("pipeline: port type mismatch across edge")
			}
		}
	}
}

// mergeParams layers maps left to right: later layers override earlier
// ones, implementing the element < pipeline < per-stream parameter
// precedence.
func mergeParams(layers ...map[string]sexp.Value) map[string]sexp.Value {
	out := make(map[string]sexp.Value)
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

func (p *Pipeline) handleCreateStream(cmd sexp.Command) (sexp.Value, bool, error) {
	if len(cmd.Args) == 0 {
		return sexp.Null(), false, fmt.Errorf("pipeline: create_stream requires a stream_id argument")
	}
	streamID, ok := cmd.Args[0].AsInt64()
	if !ok {
		return sexp.Null(), false, fmt.Errorf("pipeline: create_stream: stream_id must be an integer")
	}

	var params map[string]sexp.Value
	if len(cmd.Args) > 1 && cmd.Args[1].Kind == sexp.KindMap {
		params = sValueMapToGo(cmd.Args[1].Map)
	}

	grace := defaultGraceTime()
	if len(cmd.Args) > 2 {
		if secs, ok := cmd.Args[2].AsInt64(); ok && secs > 0 {
			grace = time.Duration(secs) * time.Second
		}
	}

	ev := p.createStream(streamID, params, grace)
	hasReply := cmd.Kw != nil
	if ev.IsError() {
		return sexp.Null(), hasReply, fmt.Errorf("pipeline: create_stream: %s", ev.Reason)
	}
	return sexp.Sym("ok"), hasReply, nil
}

func (p *Pipeline) createStream(streamID int64, params map[string]sexp.Value, grace time.Duration) StreamEvent {
	p.mu.Lock()
	if _, exists := p.streams[streamID]; exists {
		p.mu.Unlock()
		return ErrorEvent("duplicate_stream")
	}
	p.mu.Unlock()

	stream := newStream(streamID, params, grace)

	var started []string
	for _, name := range p.graph.Order {
		el := p.elements[name]
		effective := mergeParams(p.elemParams[name], p.def.Parameters, params)
		ev := el.StartStream(stream, effective)
		if ev.IsError() {
			for i := len(started) - 1; i >= 0; i-- {
				p.elements[started[i]].StopStream(stream)
			}
			return ev
		}
		started = append(started, name)
	}

	stream.State = StreamRunning
	p.mu.Lock()
	p.streams[streamID] = stream
	p.mu.Unlock()
	return Okay()
}

func (p *Pipeline) handleProcessFrame(cmd sexp.Command) (sexp.Value, bool, error) {
	if len(cmd.Args) == 0 || cmd.Args[0].Kind != sexp.KindMap {
		return sexp.Null(), false, fmt.Errorf("pipeline: process_frame requires a keyed argument carrying stream_id/frame_id")
	}

	swag := make(map[string]sexp.Value)
	for _, arg := range cmd.Args {
		if arg.Kind == sexp.KindMap {
			for k, v := range sValueMapToGo(arg.Map) {
				swag[k] = v
			}
		}
	}
	if cmd.Kw != nil {
		cmd.Kw.Each(func(k, v sexp.Value) {
			if ks, _ := k.AsString(); ks != "reply_to" {
				swag[ks] = v
			}
		})
	}

	streamID, _ := idOrZero(swag["stream_id"])
	frameID, _ := idOrZero(swag["frame_id"])
	delete(swag, "stream_id")
	delete(swag, "frame_id")

	replyTo, _ := cmd.KwString("reply_to")

	p.processFrame(streamID, frameID, swag, replyTo)
	return sexp.Null(), false, nil
}

func (p *Pipeline) processFrame(streamID, frameID int64, swag map[string]sexp.Value, replyTo string) {
	p.mu.Lock()
	stream, ok := p.streams[streamID]
	p.mu.Unlock()
	if !ok {
		ev := p.createStream(streamID, nil, defaultGraceTime())
		if ev.IsError() {
			p.log.Error().Str("reason", ev.Reason).Int64("stream_id", streamID).Msg("pipeline: implicit create_stream failed")
			return
		}
		p.mu.Lock()
		stream = p.streams[streamID]
		p.mu.Unlock()
	}
	p.runFrame(stream, frameID, swag, 0, replyTo)
}

// runFrame walks the graph's topological order starting at startIdx,
// calling each element's ProcessFrame once its declared input ports are
// all present in swag. A remote element suspends traversal by returning
// ok=false; runFrame stores a pendingFrame and returns, to be resumed by
// handleRemoteReply.
func (p *Pipeline) runFrame(stream *Stream, frameID int64, swag map[string]sexp.Value, startIdx int, replyTo string) {
	unresolvedElement := ""

	for i := startIdx; i < len(p.graph.Order); i++ {
		name := p.graph.Order[i]
		el := p.elements[name]

		inputs, complete := p.gatherInputs(name, swag)
		if !complete {
			if p.slidingWindow {
				return
			}
			unresolvedElement = name
			continue
		}

		// A remote reply may be handled on the loop goroutine before
		// ProcessFrame returns, so the pending entry is stored first.
		key := pendingKey{streamID: stream.StreamID, frameID: frameID}
		_, isRemote := el.(*RemoteElement)
		if isRemote {
			p.mu.Lock()
			p.pending[key] = &pendingFrame{stream: stream, swag: swag, nextIdx: i + 1, replyTo: replyTo}
			p.mu.Unlock()
		}

		start := time.Now()
		ev, outputs, ok := el.ProcessFrame(stream, frameID, inputs)
		if p.metrics != nil {
			p.metrics.record(name, time.Since(start))
		}

		if !ok {
			if !isRemote {
				p.mu.Lock()
				p.pending[key] = &pendingFrame{stream: stream, swag: swag, nextIdx: i + 1, replyTo: replyTo}
				p.mu.Unlock()
			}
			return
		}
		if isRemote {
			p.mu.Lock()
			delete(p.pending, key)
			p.mu.Unlock()
		}

		if ev.IsStop() {
			stream.State = StreamStopping
			p.log.Info().Str("element", name).Int64("stream_id", stream.StreamID).Int64("frame_id", frameID).Msg("pipeline: stream stop requested")
			return
		}
		if ev.IsError() {
			p.log.Error().Str("element", name).Str("reason", ev.Reason).Int64("stream_id", stream.StreamID).Int64("frame_id", frameID).Msg("pipeline: frame_error")
			return
		}

		for k, v := range outputs {
			swag[k] = v
		}
	}

	if unresolvedElement != "" {
		p.log.Error().Str("element", unresolvedElement).Int64("stream_id", stream.StreamID).Int64("frame_id", frameID).Msg("pipeline: frame_error: unresolved input port after traversal")
		return
	}

	p.publishResult(stream.StreamID, frameID, swag, replyTo)
}

// gatherInputs returns the subset of swag an element's declared input
// ports name, and whether every declared port is present. An element
// with no declared input ports is the graph head and always "complete"
// with a copy of the entire swag so far.
func (p *Pipeline) gatherInputs(name string, swag map[string]sexp.Value) (map[string]sexp.Value, bool) {
	ports := p.inputsOf[name]
	if len(ports) == 0 {
		out := make(map[string]sexp.Value, len(swag))
		for k, v := range swag {
			out[k] = v
		}
		return out, true
	}
	out := make(map[string]sexp.Value, len(ports))
	for _, port := range ports {
		v, ok := swag[port]
		if !ok {
			return nil, false
		}
		out[port] = v
	}
	return out, true
}

func (p *Pipeline) publishResult(streamID, frameID int64, swag map[string]sexp.Value, replyTo string) {
	m := sexp.NewOrderedMap()
	ids := sexp.NewOrderedMap()
	ids.Set(sexp.Sym("stream_id"), sexp.Int(streamID))
	ids.Set(sexp.Sym("frame_id"), sexp.Int(frameID))
	m.Set(sexp.Sym("ids"), sexp.Map(ids))
	ports := sexp.NewOrderedMap()
	for k, v := range swag {
		ports.Set(sexp.Sym(k), v)
	}
	m.Set(sexp.Sym("ports"), sexp.Map(ports))

	payload := []byte(sexp.Serialize(sexp.List(sexp.Sym("process_frame"), sexp.Map(m))))
	ctx := context.Background()
	if replyTo != "" {
		if err := p.actor.Service().PublishRaw(ctx, replyTo, payload, false); err != nil {
			p.log.Error().Err(err).Str("reply_to", replyTo).Msg("pipeline: result publish failed")
		}
		return
	}
	if err := p.actor.Service().Publish(ctx, "out", payload, false); err != nil {
		p.log.Error().Err(err).Msg("pipeline: default-out result publish failed")
	}
}

func (p *Pipeline) handleRemoteReply(payload []byte) {
	cmd, err := sexp.ParseCommand(string(payload))
	body := cmd.Kw
	if err == nil && len(cmd.Args) > 0 && cmd.Args[0].Kind == sexp.KindMap {
		body = cmd.Args[0].Map
	}
	if err != nil || body == nil {
		p.log.Warn().Msg("pipeline: malformed remote reply, dropped")
		return
	}
	reply := sValueMapToGo(body)

	var streamID, frameID int64
	if idsV, ok := body.Get("ids"); ok && idsV.Kind == sexp.KindMap {
		streamID, _ = idOrZero(valueOrNull(idsV.Map, "stream_id"))
		frameID, _ = idOrZero(valueOrNull(idsV.Map, "frame_id"))
	} else {
		streamID, _ = idOrZero(reply["stream_id"])
		frameID, _ = idOrZero(reply["frame_id"])
	}

	key := pendingKey{streamID: streamID, frameID: frameID}
	p.mu.Lock()
	pending, ok := p.pending[key]
	if ok {
		delete(p.pending, key)
	}
	p.mu.Unlock()
	if !ok {
		p.log.Warn().Int64("stream_id", streamID).Int64("frame_id", frameID).Msg("pipeline: remote reply for unknown pending frame, dropped")
		return
	}

	if portsV, ok := body.Get("ports"); ok && portsV.Kind == sexp.KindMap {
		for k, v := range sValueMapToGo(portsV.Map) {
			pending.swag[k] = v
		}
	}

	p.runFrame(pending.stream, frameID, pending.swag, pending.nextIdx, pending.replyTo)
}

func valueOrNull(m *sexp.OrderedMap, key string) sexp.Value {
	v, ok := m.Get(key)
	if !ok {
		return sexp.Null()
	}
	return v
}

func (p *Pipeline) handleDestroyStream(cmd sexp.Command) (sexp.Value, bool, error) {
	if len(cmd.Args) == 0 {
		return sexp.Null(), false, fmt.Errorf("pipeline: destroy_stream requires a stream_id argument")
	}
	streamID, ok := cmd.Args[0].AsInt64()
	if !ok {
		return sexp.Null(), false, fmt.Errorf("pipeline: destroy_stream: stream_id must be an integer")
	}
	p.destroyStream(streamID)
	return sexp.Sym("ok"), cmd.Kw != nil, nil
}

func (p *Pipeline) destroyStream(streamID int64) {
	p.mu.Lock()
	stream, ok := p.streams[streamID]
	if ok {
		delete(p.streams, streamID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	for i := len(p.graph.Order) - 1; i >= 0; i-- {
		name := p.graph.Order[i]
		if ev := p.elements[name].StopStream(stream); ev.IsError() {
			p.log.Warn().Str("element", name).Str("reason", ev.Reason).Msg("pipeline: stop_stream error during destroy")
		}
	}
	stream.State = StreamStopped
}

func (p *Pipeline) handleTerminate(cmd sexp.Command) (sexp.Value, bool, error) {
	p.mu.Lock()
	ids := make([]int64, 0, len(p.streams))
	for id := range p.streams {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		p.destroyStream(id)
	}

	ctx := context.Background()
	_ = p.actor.Stop(ctx)
	p.loop.Terminate()
	return sexp.Null(), false, nil
}

// validateDefinition checks element names are unique and non-empty, and
// that every symbol referenced in a graph expression names a defined
// element.
func validateDefinition(def *Definition) error {
	names := make(map[string]bool, len(def.Elements))
	for _, ed := range def.Elements {
		if ed.Name == "" {
			return fmt.Errorf("pipeline: element with empty name")
		}
		if names[ed.Name] {
			return fmt.Errorf("pipeline: duplicate element name %q", ed.Name)
		}
		names[ed.Name] = true
	}

	symbols := make(map[string]bool)
	for _, expr := range def.Graph {
		v, err := sexp.Parse(expr)
		if err != nil {
			return fmt.Errorf("pipeline: graph expression %q: %w", expr, err)
		}
		collectSymbols(v, symbols)
	}
	for s := range symbols {
		if !names[s] {
			return fmt.Errorf("pipeline: graph references undefined element %q", s)
		}
	}
	return nil
}

func collectSymbols(v sexp.Value, out map[string]bool) {
	switch v.Kind {
	case sexp.KindSymbol, sexp.KindString:
		if s, ok := v.AsString(); ok {
			out[s] = true
		}
	case sexp.KindList:
		for _, item := range v.List {
			collectSymbols(item, out)
		}
	}
}

func asBoolLoose(v sexp.Value) bool {
	switch v.Kind {
	case sexp.KindBool:
		return v.Bool
	case sexp.KindSymbol, sexp.KindString:
		s, _ := v.AsString()
		return s == "true"
	}
	return false
}

func idOrZero(v sexp.Value) (int64, bool) {
	return v.AsInt64()
}
