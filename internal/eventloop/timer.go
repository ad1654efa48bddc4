package eventloop

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handle identifies a registered timer for later cancellation via
// RemoveTimer.
type Handle string

type timerEntry struct {
	interval time.Duration
	repeat   bool
	callback func()
	stop     chan struct{}
}

// timerWheel owns the set of live timers. Each timer runs its own
// goroutine sleeping until its next deadline; firing posts the callback
// as a task onto the loop so it runs serialized with every other handler,
// matching "timer callbacks... serialized onto this loop".
type timerWheel struct {
	loop *Loop

	mu      sync.Mutex
	entries map[Handle]*timerEntry
	started bool
}

func newTimerWheel(loop *Loop) *timerWheel {
	return &timerWheel{loop: loop, entries: make(map[Handle]*timerEntry)}
}

// AddTimer schedules callback to run after interval, optionally repeating,
// and returns a handle for RemoveTimer.
func (l *Loop) AddTimer(interval time.Duration, repeat bool, callback func()) Handle {
	h := Handle(uuid.New().String())
	entry := &timerEntry{interval: interval, repeat: repeat, callback: callback, stop: make(chan struct{})}

	l.timers.mu.Lock()
	l.timers.entries[h] = entry
	started := l.timers.started
	l.timers.mu.Unlock()

	if started {
		l.timers.run(h, entry)
	}
	return h
}

// RemoveTimer cancels a previously-added timer. Safe to call more than
// once or on an already-fired one-shot timer.
func (l *Loop) RemoveTimer(h Handle) {
	l.timers.mu.Lock()
	entry, ok := l.timers.entries[h]
	if ok {
		delete(l.timers.entries, h)
	}
	l.timers.mu.Unlock()
	if ok {
		close(entry.stop)
	}
}

func (tw *timerWheel) start() {
	tw.mu.Lock()
	tw.started = true
	entries := make(map[Handle]*timerEntry, len(tw.entries))
	for h, e := range tw.entries {
		entries[h] = e
	}
	tw.mu.Unlock()
	for h, e := range entries {
		tw.run(h, e)
	}
}

func (tw *timerWheel) run(h Handle, entry *timerEntry) {
	go func() {
		t := time.NewTimer(entry.interval)
		defer t.Stop()
		for {
			select {
			case <-entry.stop:
				return
			case <-t.C:
				tw.loop.tasks <- func() {
					tw.loop.invoke("timer", entry.callback)
				}
				if !entry.repeat {
					tw.mu.Lock()
					delete(tw.entries, h)
					tw.mu.Unlock()
					return
				}
				t.Reset(entry.interval)
			}
		}
	}()
}

func (tw *timerWheel) stopAll() {
	tw.mu.Lock()
	entries := tw.entries
	tw.entries = make(map[Handle]*timerEntry)
	tw.mu.Unlock()
	for _, e := range entries {
		close(e.stop)
	}
}
