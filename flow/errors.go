package flow

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors.
var (
	// ErrAborted is the fault of a run stopped through Handle.Abort or by
	// cancellation of the context passed to Submit.
	ErrAborted = errors.New("run aborted")

	// ErrMaxStepsExceeded faults a run that dispatched more batches than
	// WithMaxSteps allows.
	ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

	// ErrStepTimeout is wrapped by StepError when a step exceeds its timeout.
	ErrStepTimeout = errors.New("step timed out")

	// ErrKeyNotFound is returned by ContextStore.Get for a missing key.
	ErrKeyNotFound = errors.New("context key not found")

	// ErrStoreReleased is returned by ContextStore methods once the run
	// has terminated or faulted.
	ErrStoreReleased = errors.New("context store released")

	// ErrRegistrySealed is returned by Register after Seal.
	ErrRegistrySealed = errors.New("registry is sealed")

	// ErrRunNotFound is returned by Engine.Restore when no snapshot exists.
	ErrRunNotFound = errors.New("run not found")
)

// EngineError reports a configuration problem detected before any run
// starts: bad options, invalid registrations, unbound definitions.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// MalformedEventError is returned when an event is built without a kind or
// without one of its required fields.
type MalformedEventError struct {
	Kind    Kind
	Missing []string
	Reason  string
}

func (e *MalformedEventError) Error() string {
	switch {
	case len(e.Missing) > 0:
		return fmt.Sprintf("malformed %q event: missing %s", e.Kind, strings.Join(e.Missing, ", "))
	case e.Kind != "":
		return fmt.Sprintf("malformed %q event: %s", e.Kind, e.Reason)
	default:
		return "malformed event: " + e.Reason
	}
}

// UnreachableEventKindError is returned by Registry.Seal when a step
// declares an output kind no step accepts, or when nothing accepts Start.
type UnreachableEventKindError struct {
	StepID string // empty when the unreachable kind is Start
	Kind   Kind
}

func (e *UnreachableEventKindError) Error() string {
	if e.StepID == "" {
		return fmt.Sprintf("no step accepts %q", e.Kind)
	}
	return fmt.Sprintf("step %q emits %q but no step accepts it", e.StepID, e.Kind)
}

// NotParkedError is returned by Handle.Respond when the run is not waiting
// for input.
type NotParkedError struct {
	RunID  string
	Status Status
}

func (e *NotParkedError) Error() string {
	return fmt.Sprintf("run %s is %s, not parked", e.RunID, e.Status)
}

// KindMismatchError is returned by Handle.Respond when no step accepts the
// offered event's kind.
type KindMismatchError struct {
	RunID string
	Kind  Kind
}

func (e *KindMismatchError) Error() string {
	return fmt.Sprintf("run %s: no step accepts response of kind %q", e.RunID, e.Kind)
}

// TimeoutFault is the fault of a run that stayed parked longer than its
// park timeout.
type TimeoutFault struct {
	RunID string
	After time.Duration
}

func (e *TimeoutFault) Error() string {
	return fmt.Sprintf("run %s: no response within %s", e.RunID, e.After)
}

// NoConsumerError faults a run when a dequeued event has no accepting step.
// Registry.Seal rules this out for declared outputs, so in practice it
// signals an event pushed in through Restore after the registry changed.
type NoConsumerError struct {
	Kind Kind
}

func (e *NoConsumerError) Error() string {
	return fmt.Sprintf("no step accepts %q", e.Kind)
}

// UndeclaredOutputError faults a run when a step emits a kind it did not
// declare at registration.
type UndeclaredOutputError struct {
	StepID string
	Kind   Kind
}

func (e *UndeclaredOutputError) Error() string {
	return fmt.Sprintf("step %q emitted undeclared kind %q", e.StepID, e.Kind)
}

// StepError wraps the failure of a single step. Use errors.As on the
// wrapped error to reach collaborator errors.
type StepError struct {
	StepID string
	Kind   Kind // kind of the event being handled
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed handling %q: %v", e.StepID, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
