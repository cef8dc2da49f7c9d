package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/stepflow/flow/emit"
	"github.com/dshills/stepflow/flow/store"
)

// Status is the lifecycle state of a run.
type Status string

// Run statuses. A run moves idle -> running, then between running and
// parked any number of times, and ends in terminated or faulted.
const (
	StatusIdle       Status = "idle"
	StatusRunning    Status = "running"
	StatusParked     Status = "parked"
	StatusTerminated Status = "terminated"
	StatusFaulted    Status = "faulted"
)

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool {
	return s == StatusTerminated || s == StatusFaulted
}

// Snapshot is the persisted form of a run.
type Snapshot struct {
	RunID     string         `json:"run_id"`
	Status    Status         `json:"status"`
	Step      int            `json:"step"`
	Pending   []Event        `json:"pending,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Events    []Event        `json:"events,omitempty"`
	Prompt    *Event         `json:"prompt,omitempty"`
	Result    *Event         `json:"result,omitempty"`
	Fault     string         `json:"fault,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Engine starts and tracks runs of one sealed Registry.
//
// An Engine is safe for concurrent use. Runs are independent: each owns
// its queue, ContextStore and dispatch goroutine.
type Engine struct {
	reg *Registry
	cfg engineConfig

	mu   sync.Mutex
	runs map[string]*Handle
}

// New creates an engine for reg, sealing it if needed. Structural problems
// in the registry surface here, before any run starts.
func New(reg *Registry, opts ...Option) (*Engine, error) {
	if reg == nil {
		return nil, &EngineError{Message: "registry must not be nil", Code: "MISSING_REGISTRY"}
	}
	if err := reg.Seal(); err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	return &Engine{
		reg:  reg,
		cfg:  cfg,
		runs: make(map[string]*Handle),
	}, nil
}

// Registry returns the engine's registry.
func (e *Engine) Registry() *Registry { return e.reg }

// Submit starts a run whose Start event carries payload.
//
// The payload is validated against the start event type (see
// WithStartEvent); a missing field fails with *MalformedEventError and no
// run is created. ctx bounds the run: cancelling it aborts the run.
func (e *Engine) Submit(ctx context.Context, payload Payload, opts ...RunOption) (*Handle, error) {
	start, err := e.cfg.startType.New(payload)
	if err != nil {
		return nil, err
	}
	return e.Start(ctx, start, opts...)
}

// Start starts a run from a prebuilt Start event.
func (e *Engine) Start(ctx context.Context, start Event, opts ...RunOption) (*Handle, error) {
	if err := e.cfg.startType.Validate(start); err != nil {
		return nil, err
	}

	rc := runConfig{}
	for _, opt := range opts {
		opt(&rc)
	}
	if rc.runID == "" {
		rc.runID = e.cfg.newRunID()
	}

	h := e.newHandle(ctx, rc)
	h.status = StatusRunning
	if err := e.track(h); err != nil {
		h.cancel(nil)
		return nil, err
	}

	h.enqueue(start)
	h.emit(0, "", start.Kind(), emit.MsgRunStarted, nil)

	go h.run()
	return h, nil
}

// Restore rehydrates a parked run from the store so Respond can resume it,
// typically after a process restart. Runs persisted mid-dispatch resume
// dispatching their pending events.
func (e *Engine) Restore(ctx context.Context, runID string, opts ...RunOption) (*Handle, error) {
	if e.cfg.store == nil {
		return nil, &EngineError{Message: "restore requires a store", Code: "NO_STORE"}
	}

	snap, rev, err := e.cfg.store.LoadLatest(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if snap.Status.Terminal() {
		return nil, &EngineError{Message: fmt.Sprintf("run %s already %s", runID, snap.Status), Code: "RUN_FINISHED"}
	}

	rc := runConfig{runID: runID, initial: snap.Context}
	for _, opt := range opts {
		opt(&rc)
	}
	rc.runID = runID

	h := e.newHandle(ctx, rc)
	h.step = snap.Step
	h.rev = rev
	h.log = newEventLog(snap.Events)
	if snap.Prompt != nil {
		h.prompt = *snap.Prompt
	}
	h.status = StatusRunning
	h.queue = append(h.queue, snap.Pending...)
	if err := e.track(h); err != nil {
		h.cancel(nil)
		return nil, err
	}

	e.cfg.metrics.AddQueueDepth(len(snap.Pending))
	h.emit(0, "", "", emit.MsgRunRestored, map[string]interface{}{"pending": len(snap.Pending)})

	go h.run()
	return h, nil
}

// Lookup returns the live handle for runID. Finished runs are forgotten
// once their dispatch goroutine exits.
func (e *Engine) Lookup(runID string) (*Handle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.runs[runID]
	return h, ok
}

// Active returns the IDs of runs that have not finished.
func (e *Engine) Active() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.runs))
	for id := range e.runs {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) newHandle(ctx context.Context, rc runConfig) *Handle {
	runCtx, cancel := context.WithCancelCause(ctx)
	parkTimeout := e.cfg.parkTimeout
	if rc.parkTimeout != nil {
		parkTimeout = *rc.parkTimeout
	}
	return &Handle{
		engine:      e,
		id:          rc.runID,
		ctx:         runCtx,
		cancel:      cancel,
		store:       newContextStore(rc.initial),
		log:         newEventLog(nil),
		parkTimeout: parkTimeout,
		status:      StatusIdle,
		respond:     make(chan Event, 1),
		settled:     make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (e *Engine) track(h *Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.runs[h.id]; exists {
		return &EngineError{Message: fmt.Sprintf("run %s is already active", h.id), Code: "DUPLICATE_RUN"}
	}
	e.runs[h.id] = h
	return nil
}

func (e *Engine) forget(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runs, runID)
}
