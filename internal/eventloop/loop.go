// Package eventloop implements the single-threaded cooperative dispatcher
// that drives one Aiko process: actor message handling, timer callbacks,
// and transport callbacks are all serialized onto one run-queue goroutine
// via a context-cancellation + select-loop, with mailboxes addressed by
// name rather than a single hardcoded channel.
package eventloop

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// task is one unit of work run on the loop goroutine: a mailbox delivery,
// a timer fire, or a run_blocking completion callback.
type task func()

// Loop is the process-wide cooperative event loop. Exactly one goroutine
// (started by Run) drains tasks; everything else posts into it.
type Loop struct {
	log zerolog.Logger

	mu       sync.Mutex
	handlers map[string][]MailboxHandler
	order    []string

	tasks  chan task
	ctx    context.Context
	cancel context.CancelFunc

	timers *timerWheel
}

// MailboxHandler receives messages posted to a named mailbox.
type MailboxHandler func(msg any)

// New constructs a Loop. The logger is used to report handler panics and
// recovered errors failure contract (caught, logged, loop
// continues).
func New(log zerolog.Logger) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		log:      log,
		handlers: make(map[string][]MailboxHandler),
		tasks:    make(chan task, 256),
		ctx:      ctx,
		cancel:   cancel,
	}
	l.timers = newTimerWheel(l)
	return l
}

// Context returns the loop's cancellation context, cancelled by Terminate.
func (l *Loop) Context() context.Context { return l.ctx }

// AddMailboxHandler registers fn to run (on the loop goroutine) for every
// message posted to the named mailbox. Handlers for the same mailbox run
// in registration order.
func (l *Loop) AddMailboxHandler(name string, fn MailboxHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.handlers[name]; !ok {
		l.order = append(l.order, name)
	}
	l.handlers[name] = append(l.handlers[name], fn)
}

// Post enqueues msg for delivery to every handler registered on mailbox
// name. Safe to call from any goroutine, including transport I/O threads
// ( mailbox-post-from-any-thread guarantee).
func (l *Loop) Post(name string, msg any) {
	l.tasks <- func() {
		l.mu.Lock()
		handlers := append([]MailboxHandler(nil), l.handlers[name]...)
		l.mu.Unlock()
		for _, h := range handlers {
			l.invoke(fmt.Sprintf("mailbox:%s", name), func() { h(msg) })
		}
	}
}

// invoke runs fn, recovering any panic and logging it rather than letting
// it stop the loop, failure contract.
func (l *Loop) invoke(label string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Str("handler", label).Interface("panic", r).Msg("event loop handler panicked, recovered")
		}
	}()
	fn()
}

// Run blocks, draining posted tasks and firing timers, until Terminate is
// called. Only one goroutine should call Run.
func (l *Loop) Run() {
	l.timers.start()
	for {
		select {
		case <-l.ctx.Done():
			return
		case t := <-l.tasks:
			t()
		}
	}
}

// Terminate cancels all timers and unblocks Run. Tasks posted afterwards
// are still queued but are never run.
func (l *Loop) Terminate() {
	l.timers.stopAll()
	l.cancel()
}

// RunBlocking runs fn on a worker goroutine and posts its result back onto
// the loop as a task delivered to the returned channel's single value,
// implementing the narrow worker-thread escape hatch. The
// channel is closed after the value is delivered.
func (l *Loop) RunBlocking(fn func() (any, error)) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		v, err := fn()
		l.tasks <- func() {
			out <- Result{Value: v, Err: err}
			close(out)
		}
	}()
	return out
}

// Result is the value posted back onto the loop by RunBlocking.
type Result struct {
	Value any
	Err   error
}
