package flow

import (
	"time"

	"github.com/dshills/stepflow/flow/emit"
	"github.com/dshills/stepflow/flow/store"
	"github.com/google/uuid"
)

// Option configures an Engine.
//
// Example:
//
//	engine, err := flow.New(reg,
//	    flow.WithMaxSteps(50),
//	    flow.WithDefaultStepTimeout(30*time.Second),
//	    flow.WithEmitter(emit.NewSlogEmitter(logger)),
//	)
type Option func(*engineConfig) error

type engineConfig struct {
	maxSteps           int
	defaultStepTimeout time.Duration
	parkTimeout        time.Duration
	emitter            emit.Emitter
	metrics            *PrometheusMetrics
	store              store.Store[Snapshot]
	startType          EventType
	newRunID           func() string
}

func defaultConfig() engineConfig {
	return engineConfig{
		emitter:   emit.NewNullEmitter(),
		startType: StartEvent,
		newRunID:  uuid.NewString,
	}
}

// WithMaxSteps bounds the number of dispatch batches per run. A run that
// exceeds it faults with ErrMaxStepsExceeded.
//
// Default: 0 (no limit). Workflows that loop (a step re-emitting a kind it
// accepts) should always set one.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return &EngineError{Message: "max steps must be >= 0", Code: "INVALID_OPTION"}
		}
		cfg.maxSteps = n
		return nil
	}
}

// WithDefaultStepTimeout bounds steps that set no StepPolicy.Timeout.
//
// Default: 0 (unbounded).
func WithDefaultStepTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return &EngineError{Message: "step timeout must be >= 0", Code: "INVALID_OPTION"}
		}
		cfg.defaultStepTimeout = d
		return nil
	}
}

// WithParkTimeout faults runs that stay parked longer than d with a
// *TimeoutFault. Individual runs can override it with RunParkTimeout.
//
// Default: 0 (a parked run waits until Respond or Abort).
func WithParkTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return &EngineError{Message: "park timeout must be >= 0", Code: "INVALID_OPTION"}
		}
		cfg.parkTimeout = d
		return nil
	}
}

// WithEmitter sets the observability sink.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		if e == nil {
			e = emit.NewNullEmitter()
		}
		cfg.emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithStore persists a Snapshot after every dispatch batch, on park and on
// completion, and enables Engine.Restore.
func WithStore(st store.Store[Snapshot]) Option {
	return func(cfg *engineConfig) error {
		cfg.store = st
		return nil
	}
}

// WithStartEvent requires start payloads to satisfy t, e.g.
// flow.DefineEvent(flow.KindStart, "query").
func WithStartEvent(t EventType) Option {
	return func(cfg *engineConfig) error {
		if t.Kind() != KindStart {
			return &EngineError{Message: "start event type must have kind " + string(KindStart), Code: "INVALID_OPTION"}
		}
		cfg.startType = t
		return nil
	}
}

// WithRunIDGenerator replaces the UUID run ID generator.
func WithRunIDGenerator(fn func() string) Option {
	return func(cfg *engineConfig) error {
		if fn == nil {
			return &EngineError{Message: "run ID generator must not be nil", Code: "INVALID_OPTION"}
		}
		cfg.newRunID = fn
		return nil
	}
}

// RunOption configures a single run.
type RunOption func(*runConfig)

type runConfig struct {
	runID       string
	parkTimeout *time.Duration
	initial     map[string]any
}

// RunID fixes the run's ID instead of generating one.
func RunID(id string) RunOption {
	return func(rc *runConfig) { rc.runID = id }
}

// RunParkTimeout overrides the engine's park timeout for this run. Zero
// disables it.
func RunParkTimeout(d time.Duration) RunOption {
	return func(rc *runConfig) { rc.parkTimeout = &d }
}

// RunContext seeds the run's ContextStore.
func RunContext(values map[string]any) RunOption {
	return func(rc *runConfig) { rc.initial = values }
}
