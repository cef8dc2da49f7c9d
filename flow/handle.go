package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/stepflow/flow/emit"
)

// Handle is the caller's reference to one run.
//
// Events flow out through Stream and Result; external events flow in
// through Respond. Every method is safe to call from any goroutine.
type Handle struct {
	engine      *Engine
	id          string
	ctx         context.Context
	cancel      context.CancelCauseFunc
	store       *ContextStore
	log         *eventLog
	parkTimeout time.Duration

	mu     sync.Mutex
	status Status
	queue  []Event
	step   int
	rev    int
	prompt Event
	result Event
	fault  error

	respond  chan Event
	settled  chan struct{}
	done     chan struct{}
	streamed atomic.Bool
}

// RunID returns the run's identifier.
func (h *Handle) RunID() string { return h.id }

// Status returns the current lifecycle state.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Done is closed when the run reaches terminated or faulted.
func (h *Handle) Done() <-chan struct{} { return h.settled }

// Stream returns the run's events in acceptance order: the Start event,
// every event a step emitted, InputRequired prompts, accepted responses,
// and finally the Stop event if the run terminates. The channel closes when
// the run ends or ctx is cancelled.
//
// The stream is single pass. Only the first call yields events; later calls
// get a closed channel. Events are produced only as the caller pulls, and a
// slow reader never holds up dispatch.
func (h *Handle) Stream(ctx context.Context) <-chan Event {
	ch := make(chan Event)
	if !h.streamed.CompareAndSwap(false, true) {
		close(ch)
		return ch
	}

	go func() {
		defer close(ch)
		stop := context.AfterFunc(ctx, h.log.wake)
		defer stop()

		for i := 0; ; i++ {
			ev, ok := h.log.wait(ctx, i)
			if !ok {
				return
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Result blocks until the run ends and returns its Stop event, or the
// fault when the run faulted. A cancelled ctx returns ctx.Err() and leaves
// the run alone.
func (h *Handle) Result(ctx context.Context) (Event, error) {
	select {
	case <-h.settled:
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == StatusTerminated {
		return h.result, nil
	}
	return Event{}, h.fault
}

// Respond pushes ev into a parked run and resumes it.
//
// It fails with *NotParkedError unless the run is parked, and with
// *KindMismatchError when no step accepts ev's kind. A failed Respond
// changes nothing: the run stays parked and can still be answered.
func (h *Handle) Respond(ev Event) error {
	if ev.IsZero() {
		return &MalformedEventError{Reason: "empty kind"}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.status != StatusParked {
		return &NotParkedError{RunID: h.id, Status: h.status}
	}
	switch ev.Kind() {
	case KindStart, KindStop, KindInputRequired:
		return &KindMismatchError{RunID: h.id, Kind: ev.Kind()}
	}
	if !h.engine.reg.Accepts(ev.Kind()) {
		return &KindMismatchError{RunID: h.id, Kind: ev.Kind()}
	}

	h.status = StatusRunning
	h.respond <- ev
	return nil
}

// Awaiting returns the most recent InputRequired event while the run is
// parked on it.
func (h *Handle) Awaiting() (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != StatusParked || h.prompt.IsZero() {
		return Event{}, false
	}
	return h.prompt, true
}

// Abort faults the run with ErrAborted from any non-terminal state and
// cancels in-flight steps. Results of steps still running are discarded.
// Aborting a finished run does nothing.
func (h *Handle) Abort() {
	prev, ok := h.settle(StatusFaulted, Event{}, ErrAborted)
	if ok {
		h.recordOutcome(prev)
	}
}

// History returns every event accepted so far, in acceptance order.
func (h *Handle) History() []Event {
	return h.log.all()
}

// Snapshot captures the run's current state.
func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *Handle) snapshotLocked() Snapshot {
	snap := Snapshot{
		RunID:     h.id,
		Status:    h.status,
		Step:      h.step,
		Pending:   append([]Event(nil), h.queue...),
		Context:   h.store.Snapshot(),
		Events:    h.log.all(),
		UpdatedAt: time.Now().UTC(),
	}
	if !h.prompt.IsZero() {
		p := h.prompt
		snap.Prompt = &p
	}
	if h.status == StatusTerminated {
		r := h.result
		snap.Result = &r
	}
	if h.fault != nil {
		snap.Fault = h.fault.Error()
	}
	return snap
}

// settle moves the run to a terminal state. It reports false when the run
// had already finished, or when from is given and the current status is
// not one of from.
func (h *Handle) settle(status Status, result Event, fault error, from ...Status) (Status, bool) {
	h.mu.Lock()
	prev := h.status
	if prev.Terminal() || (len(from) > 0 && !statusIn(prev, from)) {
		h.mu.Unlock()
		return prev, false
	}
	h.status = status
	h.result = result
	h.fault = fault
	dropped := len(h.queue)
	h.queue = nil
	h.mu.Unlock()

	h.engine.cfg.metrics.AddQueueDepth(-dropped)
	if status == StatusTerminated {
		h.log.append(result)
	}
	h.log.close()
	h.store.release()
	h.cancel(fault)
	close(h.settled)
	return prev, true
}

// recordOutcome reports a settled run to the emitter, metrics and store.
func (h *Handle) recordOutcome(prev Status) {
	h.mu.Lock()
	status, fault, step := h.status, h.fault, h.step
	h.mu.Unlock()

	m := h.engine.cfg.metrics
	if prev == StatusParked {
		m.RunUnparked()
	}

	if status == StatusTerminated {
		m.RunFinished("terminated")
		h.emit(step, "", KindStop, emit.MsgRunTerminated, nil)
		h.persist("terminated")
		return
	}

	var timeout *TimeoutFault
	switch {
	case errors.As(fault, &timeout):
		m.RunFinished("timeout")
	case errors.Is(fault, ErrAborted):
		m.RunFinished("aborted")
	default:
		m.RunFinished("faulted")
	}
	h.emit(step, "", "", emit.MsgRunFaulted, map[string]interface{}{"error": fault.Error()})
	h.persist("faulted")
}

func (h *Handle) persist(label string) {
	st := h.engine.cfg.store
	if st == nil {
		return
	}

	h.mu.Lock()
	h.rev++
	rev := h.rev
	snap := h.snapshotLocked()
	h.mu.Unlock()

	if err := st.SaveStep(context.WithoutCancel(h.ctx), h.id, rev, label, snap); err != nil {
		h.emit(snap.Step, "", "", emit.MsgPersistFailed, map[string]interface{}{"error": err.Error(), "label": label})
	}
}

func (h *Handle) emit(step int, stepID string, kind Kind, msg string, meta map[string]interface{}) {
	h.engine.cfg.emitter.Emit(emit.Event{
		RunID:  h.id,
		Step:   step,
		StepID: stepID,
		Kind:   string(kind),
		Msg:    msg,
		Meta:   meta,
	})
}

func (h *Handle) String() string {
	return fmt.Sprintf("run %s (%s)", h.id, h.Status())
}

func statusIn(s Status, set []Status) bool {
	for _, c := range set {
		if s == c {
			return true
		}
	}
	return false
}
