package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/geekscape/aiko-services/internal/eventloop"
	"github.com/geekscape/aiko-services/internal/sexp"
	"github.com/geekscape/aiko-services/internal/service"
	"github.com/geekscape/aiko-services/internal/transport"
)

// WaitPolicy controls what Proxy.Call does when Discover finds no
// matching service yet.
type WaitPolicy int

const (
	// WaitPolicyFail returns an error immediately when resolution fails.
	WaitPolicyFail WaitPolicy = iota
	// WaitPolicyWait is reserved for callers willing to block on a future
	// discovery event rather than fail fast; Proxy does not itself retry,
	// so this currently behaves like WaitPolicyFail until a caller adds
	// its own retry loop around Call.
	WaitPolicyWait
)

// Proxy calls a remote Actor discovered through the Registrar, resolving
// a service.Filter to a topic path and publishing commands to its `in`
// channel.
type Proxy struct {
	registrar *service.Registrar
	bus       transport.Bus
	loop      *eventloop.Loop
	log       zerolog.Logger
	filter    service.Filter
	policy    WaitPolicy

	resolved string
}

// NewProxy builds a Proxy that targets whichever service matches filter.
func NewProxy(registrar *service.Registrar, bus transport.Bus, loop *eventloop.Loop, log zerolog.Logger, filter service.Filter, policy WaitPolicy) *Proxy {
	return &Proxy{registrar: registrar, bus: bus, loop: loop, log: log, filter: filter, policy: policy}
}

func (p *Proxy) resolve() (string, error) {
	if p.resolved != "" {
		return p.resolved, nil
	}
	matches := p.registrar.Discover(p.filter)
	if len(matches) == 0 {
		return "", fmt.Errorf("actor: proxy: no service matches filter %+v", p.filter)
	}
	if len(matches) > 1 {
		p.log.Warn().Int("count", len(matches)).Msg("actor: proxy: filter matched more than one service, using the first")
	}
	p.resolved = matches[0].TopicPath
	return p.resolved, nil
}

// Call builds `(method arg1 arg2 …)` and publishes it to the resolved
// service's `in` channel.
func (p *Proxy) Call(ctx context.Context, method string, args ...sexp.Value) error {
	return p.CallCommand(ctx, sexp.NewCommand(method, args...))
}

// CallCommand publishes a fully-built command (including any keyword
// arguments such as reply_to) to the resolved service's `in` channel.
func (p *Proxy) CallCommand(ctx context.Context, cmd sexp.Command) error {
	topic, err := p.resolve()
	if err != nil {
		return err
	}
	payload := []byte(cmd.Encode())
	return p.bus.Publish(ctx, service.Channel(topic, "in"), payload, false)
}

// CallDelayed schedules a call to run after delay has elapsed, using the
// event loop's timer wheel rather than blocking the caller.
func (p *Proxy) CallDelayed(ctx context.Context, delay time.Duration, method string, args ...sexp.Value) eventloop.Handle {
	return p.loop.AddTimer(delay, false, func() {
		if err := p.Call(ctx, method, args...); err != nil {
			p.log.Error().Err(err).Str("method", method).Msg("actor: proxy: delayed call failed")
		}
	})
}
