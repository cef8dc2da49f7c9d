package flow

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// Step handles one event and reports what it produced.
//
// Steps receive the run's ContextStore for state that must outlive a single
// event, such as values needed after a park. A step must honour ctx: it is
// cancelled on Abort and when the step's timeout expires.
type Step interface {
	Handle(ctx context.Context, ev Event, sc *ContextStore) StepResult
}

// StepFunc adapts a plain function to Step.
type StepFunc func(ctx context.Context, ev Event, sc *ContextStore) StepResult

// Handle calls f.
func (f StepFunc) Handle(ctx context.Context, ev Event, sc *ContextStore) StepResult {
	return f(ctx, ev, sc)
}

// StepResult is what a step hands back to the dispatcher.
//
// Events are merged into the run in slice order. An empty result is valid:
// the step consumed its input and produced nothing. A non-nil Err faults
// the run and discards Events.
type StepResult struct {
	Events []Event
	Err    error
}

// Emit returns a result carrying evs.
func Emit(evs ...Event) StepResult {
	return StepResult{Events: evs}
}

// Fail returns a result that faults the run with err.
func Fail(err error) StepResult {
	return StepResult{Err: err}
}

// Nothing returns an empty result.
func Nothing() StepResult {
	return StepResult{}
}

// StepPolicy configures execution of one step.
type StepPolicy struct {
	// Timeout bounds a single invocation. Zero falls back to the engine's
	// default step timeout; if that is zero too the step runs unbounded.
	Timeout time.Duration
}

// StepOption customises a registration.
type StepOption func(*StepDefinition)

// WithTimeout sets the step's timeout.
func WithTimeout(d time.Duration) StepOption {
	return func(def *StepDefinition) {
		def.Policy.Timeout = d
	}
}

// StepDefinition is a registered step.
type StepDefinition struct {
	ID      string
	Accepts []Kind
	Emits   []Kind
	Step    Step
	Policy  StepPolicy
}

// Declares reports whether the step may emit kind. Stop is always allowed.
func (d StepDefinition) Declares(kind Kind) bool {
	if kind == KindStop {
		return true
	}
	for _, k := range d.Emits {
		if k == kind {
			return true
		}
	}
	return false
}

func stepTimeout(policy StepPolicy, defaultTimeout time.Duration) time.Duration {
	if policy.Timeout > 0 {
		return policy.Timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// invokeStep runs one step with its timeout and converts panics and
// timeouts into a StepError.
func invokeStep(ctx context.Context, def StepDefinition, ev Event, sc *ContextStore, defaultTimeout time.Duration) (result StepResult) {
	timeout := stepTimeout(def.Policy, defaultTimeout)
	stepCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result = StepResult{Err: &StepError{
				StepID: def.ID,
				Kind:   ev.Kind(),
				Err:    fmt.Errorf("panic: %v\n%s", r, debug.Stack()),
			}}
		}
	}()

	result = def.Step.Handle(stepCtx, ev, sc)

	if timeout > 0 && stepCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return StepResult{Err: &StepError{
			StepID: def.ID,
			Kind:   ev.Kind(),
			Err:    fmt.Errorf("%w after %v", ErrStepTimeout, timeout),
		}}
	}
	if result.Err != nil {
		result.Err = &StepError{StepID: def.ID, Kind: ev.Kind(), Err: result.Err}
	}
	return result
}
