// Package actor implements the Actor capability: a Service that dispatches
// incoming commands on its `in` channel to registered method handlers and
// routes replies back to the caller, recovering from and logging any
// handler panic rather than letting it take down the process.
package actor

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/geekscape/aiko-services/internal/sexp"
	"github.com/geekscape/aiko-services/internal/service"
)

// Handler processes one decoded command and optionally produces a reply
// value. hasReply false means no reply is sent regardless of how the
// caller asked (fire-and-forget commands, e.g. terminate).
type Handler func(cmd sexp.Command) (result sexp.Value, hasReply bool, err error)

// Actor wires a Service's inbound channel to a table of named command
// handlers.
type Actor struct {
	svc     *service.Service
	log     zerolog.Logger
	methods map[string]Handler
}

// New builds an Actor over svc, installing its dispatch loop as the
// Service's inbound handler.
func New(svc *service.Service, log zerolog.Logger) *Actor {
	a := &Actor{svc: svc, log: log, methods: make(map[string]Handler)}
	svc.SetInboundHandler(a.dispatch)
	return a
}

// Service returns the underlying Service, for topic/lifecycle access.
func (a *Actor) Service() *service.Service { return a.svc }

// Register installs h as the handler for method.
func (a *Actor) Register(method string, h Handler) {
	a.methods[method] = h
}

// Start begins the underlying Service (subscribe, announce, heartbeat).
func (a *Actor) Start(ctx context.Context) error { return a.svc.Start(ctx) }

// Stop shuts down the underlying Service (unsubscribe, deregister).
func (a *Actor) Stop(ctx context.Context) error { return a.svc.Stop(ctx) }

func (a *Actor) dispatch(payload []byte) {
	cmd, err := sexp.ParseCommand(string(payload))
	if err != nil {
		a.log.Warn().Err(err).Str("topic", a.svc.Channel("in")).Msg("actor: malformed command, dropped")
		return
	}
	h, ok := a.methods[cmd.Method]
	if !ok {
		a.log.Warn().Str("method", cmd.Method).Msg("actor: unknown method, dropped")
		return
	}
	a.invoke(cmd, h)
}

func (a *Actor) invoke(cmd sexp.Command, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Str("method", cmd.Method).Interface("panic", r).Msg("actor: handler panicked")
		}
	}()

	result, hasReply, err := h(cmd)
	if err != nil {
		a.log.Error().Err(err).Str("method", cmd.Method).Msg("actor: handler returned error")
		return
	}
	if !hasReply {
		return
	}

	ctx := context.Background()
	payload := []byte(sexp.Reply(cmd.Method, result))
	if replyTo, ok := cmd.KwString("reply_to"); ok && replyTo != "" {
		if err := a.svc.PublishRaw(ctx, replyTo, payload, false); err != nil {
			a.log.Error().Err(err).Str("reply_to", replyTo).Msg("actor: reply publish failed")
		}
		return
	}
	if err := a.svc.Publish(ctx, "out", payload, false); err != nil {
		a.log.Error().Err(err).Msg("actor: default-out reply publish failed")
	}
}
