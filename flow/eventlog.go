package flow

import (
	"context"
	"sync"
)

// eventLog is the append-only record of events accepted into a run. It
// feeds Stream without ever blocking the dispatch loop.
type eventLog struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []Event
	closed bool
}

func newEventLog(initial []Event) *eventLog {
	l := &eventLog{events: append([]Event(nil), initial...)}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *eventLog) append(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.events = append(l.events, ev)
	l.cond.Broadcast()
}

func (l *eventLog) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.cond.Broadcast()
}

func (l *eventLog) wake() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cond.Broadcast()
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// wait blocks until event i exists, the log closes, or ctx ends.
func (l *eventLog) wait(ctx context.Context, i int) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i >= len(l.events) && !l.closed && ctx.Err() == nil {
		l.cond.Wait()
	}
	if i < len(l.events) && ctx.Err() == nil {
		return l.events[i], true
	}
	return Event{}, false
}
