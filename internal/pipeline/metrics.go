package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/geekscape/aiko-services/internal/eventloop"
	"github.com/geekscape/aiko-services/internal/sexp"
	"github.com/geekscape/aiko-services/internal/service"
)

// MetricsElement is the built-in pass-through element: every frame flows
// through it unmodified, while the owning Pipeline's metricsCollector
// records per-element processing time alongside it.
type MetricsElement struct {
	name string
}

// NewMetricsElement is the LocalFactory registered for
// "aiko.pipeline.metrics.Metrics".
func NewMetricsElement(name string, params map[string]sexp.Value) (Element, error) {
	return &MetricsElement{name: name}, nil
}

func (e *MetricsElement) Name() string { return e.name }

func (e *MetricsElement) StartStream(stream *Stream, parameters map[string]sexp.Value) StreamEvent {
	return Okay()
}

func (e *MetricsElement) StopStream(stream *Stream) StreamEvent {
	return Okay()
}

func (e *MetricsElement) ProcessFrame(stream *Stream, frameID int64, inputs map[string]sexp.Value) (StreamEvent, map[string]sexp.Value, bool) {
	return Okay(), map[string]sexp.Value{}, true
}

// metricsCollector records per-element frame-processing durations and
// periodically publishes a summary on the pipeline's out channel,
// alongside exporting the same data as a Prometheus histogram: operational
// metrics are themselves dataflow, not a side channel.
type metricsCollector struct {
	pipeline *Pipeline
	svc      *service.Service
	rate     time.Duration

	mu        sync.Mutex
	durations map[string]time.Duration
	histogram *prometheus.HistogramVec
}

func newMetricsCollector(p *Pipeline, svc *service.Service, loop *eventloop.Loop, rate time.Duration) *metricsCollector {
	c := &metricsCollector{
		pipeline:  p,
		svc:       svc,
		rate:      rate,
		durations: make(map[string]time.Duration),
		histogram: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "aiko_pipeline_element_frame_seconds",
			Help: "Per-element frame processing duration.",
		}, []string{"pipeline", "element"}),
	}
	_ = prometheus.Register(c.histogram)
	loop.AddTimer(rate, true, c.publish)
	return c
}

func (c *metricsCollector) record(element string, d time.Duration) {
	c.mu.Lock()
	c.durations[element] = d
	c.mu.Unlock()
	c.histogram.WithLabelValues(c.pipeline.Name(), element).Observe(d.Seconds())
}

// publish reports the most recent duration observed, in microseconds, for
// every element that has processed at least one frame since the pipeline
// started, as (metrics (stream_id: -1) (elements (name: us) …)). The
// summary is pipeline-wide rather than scoped to one stream, so
// stream_id carries the aggregate sentinel -1 rather than a real stream.
func (c *metricsCollector) publish() {
	c.mu.Lock()
	elements := []sexp.Value{sexp.Sym("elements")}
	for name, d := range c.durations {
		entry := sexp.NewOrderedMap()
		entry.Set(sexp.Sym(name), sexp.Int(d.Microseconds()))
		elements = append(elements, sexp.Map(entry))
	}
	c.mu.Unlock()

	ids := sexp.NewOrderedMap()
	ids.Set(sexp.Sym("stream_id"), sexp.Int(-1))
	payload := sexp.Serialize(sexp.List(sexp.Sym("metrics"), sexp.Map(ids), sexp.List(elements...)))
	if err := c.svc.Publish(context.Background(), "out", []byte(payload), false); err != nil {
		c.pipeline.log.Warn().Err(err).Msg("pipeline: metrics publish failed")
	}
}

func hasMetricsElement(def *Definition) bool {
	for _, ed := range def.Elements {
		if ed.Deploy.Local != nil && (ed.Deploy.Local.ClassName == "Metrics" || ed.Name == "Metrics") {
			return true
		}
	}
	return false
}

func metricsRateFromParams(params map[string]sexp.Value) time.Duration {
	if v, ok := params["rate"]; ok {
		if n, ok := v.AsInt64(); ok && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return 10 * time.Second
}
