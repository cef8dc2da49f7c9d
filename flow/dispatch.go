package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/stepflow/flow/emit"
	"golang.org/x/sync/errgroup"
)

// run is the run's single dispatch goroutine.
func (h *Handle) run() {
	defer close(h.done)
	defer h.engine.forget(h.id)

	for {
		if !h.drain() {
			return
		}
		if !h.park() {
			return
		}
	}
}

// drain dispatches queued events until the queue is empty. It returns
// false once the run has settled.
func (h *Handle) drain() bool {
	for {
		if h.ctx.Err() != nil {
			h.abortFromContext()
			return false
		}

		ev, step, ok := h.dequeue()
		if !ok {
			return true
		}
		if max := h.engine.cfg.maxSteps; max > 0 && step > max {
			h.fail(fmt.Errorf("%w (%d)", ErrMaxStepsExceeded, max))
			return false
		}

		consumers := h.engine.reg.StepsAccepting(ev.Kind())
		if len(consumers) == 0 {
			h.fail(&NoConsumerError{Kind: ev.Kind()})
			return false
		}

		results, err := h.dispatch(step, ev, consumers)
		if h.ctx.Err() != nil {
			h.abortFromContext()
			return false
		}
		if err != nil {
			h.fail(err)
			return false
		}

		stopped, err := h.apply(step, ev, consumers, results)
		if err != nil {
			h.fail(err)
			return false
		}
		if stopped {
			return false
		}
		h.persist("dispatch")
	}
}

// dispatch runs every consumer of ev concurrently. Results are indexed by
// registration order regardless of completion order. The returned error is
// the first step failure to occur; its siblings are cancelled.
func (h *Handle) dispatch(step int, ev Event, consumers []StepDefinition) ([]StepResult, error) {
	results := make([]StepResult, len(consumers))
	g, gctx := errgroup.WithContext(h.ctx)

	for i, def := range consumers {
		g.Go(func() error {
			m := h.engine.cfg.metrics
			m.StepStarted()
			h.emit(step, def.ID, ev.Kind(), emit.MsgStepStarted, nil)

			began := time.Now()
			res := invokeStep(gctx, def, ev, h.store, h.engine.cfg.defaultStepTimeout)
			elapsed := time.Since(began)
			results[i] = res

			if res.Err != nil {
				m.StepFinished(def.ID, elapsed, "error")
				h.emit(step, def.ID, ev.Kind(), emit.MsgStepFailed, map[string]interface{}{
					"duration_ms": elapsed.Milliseconds(),
					"error":       res.Err.Error(),
				})
				return res.Err
			}
			m.StepFinished(def.ID, elapsed, "success")
			h.emit(step, def.ID, ev.Kind(), emit.MsgStepCompleted, map[string]interface{}{
				"duration_ms": elapsed.Milliseconds(),
				"emitted":     len(res.Events),
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// apply merges step results into the run in registration order, then
// per-step emission order. It reports true when a Stop settled the run.
//
// All outputs are checked before any is applied, so an undeclared output
// faults the run without leaking its siblings into the stream.
func (h *Handle) apply(step int, ev Event, consumers []StepDefinition, results []StepResult) (bool, error) {
	for i, def := range consumers {
		for _, out := range results[i].Events {
			if out.IsZero() {
				return false, &StepError{StepID: def.ID, Kind: ev.Kind(), Err: &MalformedEventError{Reason: "empty kind"}}
			}
			if !def.Declares(out.Kind()) {
				return false, &UndeclaredOutputError{StepID: def.ID, Kind: out.Kind()}
			}
			if out.Kind() == KindStop {
				if err := StopEvent.Validate(out); err != nil {
					return false, &StepError{StepID: def.ID, Kind: ev.Kind(), Err: err}
				}
			}
		}
	}

	for i := range consumers {
		for _, out := range results[i].Events {
			switch out.Kind() {
			case KindStop:
				// First Stop wins; everything after it is discarded.
				if prev, ok := h.settle(StatusTerminated, out, nil); ok {
					h.engine.cfg.metrics.EventAccepted(KindStop)
					h.recordOutcome(prev)
				}
				return true, nil
			case KindInputRequired:
				h.mu.Lock()
				h.prompt = out
				h.mu.Unlock()
				h.engine.cfg.metrics.EventAccepted(out.Kind())
				h.log.append(out)
			default:
				h.enqueue(out)
				h.emit(step, consumers[i].ID, out.Kind(), emit.MsgEventQueued, nil)
			}
		}
	}
	return false, nil
}

// park waits for Respond, Abort or the park timeout. It returns true when
// the run resumed.
func (h *Handle) park() bool {
	h.mu.Lock()
	if h.status.Terminal() {
		h.mu.Unlock()
		return false
	}
	h.status = StatusParked
	step := h.step
	h.mu.Unlock()

	h.engine.cfg.metrics.RunParked()
	h.emit(step, "", "", emit.MsgRunParked, nil)
	h.persist("parked")

	var timeout <-chan time.Time
	if h.parkTimeout > 0 {
		timer := time.NewTimer(h.parkTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case ev := <-h.respond:
		h.resume(ev)
		return true
	case <-h.ctx.Done():
		h.abortFromContext()
		return false
	case <-timeout:
		fault := &TimeoutFault{RunID: h.id, After: h.parkTimeout}
		if prev, ok := h.settle(StatusFaulted, Event{}, fault, StatusParked); ok {
			h.recordOutcome(prev)
			return false
		}
		// Respond or Abort got there first.
		if h.Status() == StatusRunning {
			h.resume(<-h.respond)
			return true
		}
		return false
	}
}

func (h *Handle) resume(ev Event) {
	h.mu.Lock()
	h.prompt = Event{}
	step := h.step
	h.mu.Unlock()

	h.engine.cfg.metrics.RunUnparked()
	h.emit(step, "", ev.Kind(), emit.MsgRunResumed, nil)
	h.enqueue(ev)
}

func (h *Handle) enqueue(ev Event) {
	h.mu.Lock()
	h.queue = append(h.queue, ev)
	h.mu.Unlock()

	h.engine.cfg.metrics.AddQueueDepth(1)
	h.engine.cfg.metrics.EventAccepted(ev.Kind())
	h.log.append(ev)
}

func (h *Handle) dequeue() (Event, int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return Event{}, h.step, false
	}
	ev := h.queue[0]
	h.queue = h.queue[1:]
	h.step++
	h.engine.cfg.metrics.AddQueueDepth(-1)
	return ev, h.step, true
}

func (h *Handle) fail(err error) {
	if prev, ok := h.settle(StatusFaulted, Event{}, err); ok {
		h.recordOutcome(prev)
	}
}

func (h *Handle) abortFromContext() {
	fault := ErrAborted
	if cause := context.Cause(h.ctx); cause != nil && !errors.Is(cause, ErrAborted) {
		fault = fmt.Errorf("%w: %w", ErrAborted, cause)
	}
	h.fail(fault)
}
