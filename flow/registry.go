package flow

import (
	"fmt"
	"sync"
)

// Registry holds a workflow's step definitions.
//
// Steps are registered, then the registry is sealed. Seal checks that every
// declared output has a consumer; after that the registry is read-only and
// may be shared by any number of engines and runs.
type Registry struct {
	mu     sync.RWMutex
	steps  []StepDefinition
	byID   map[string]int
	byKind map[Kind][]int
	sealed bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]int),
		byKind: make(map[Kind][]int),
	}
}

// Register adds a step that handles the accepts kinds and may emit the
// emits kinds. Stop never needs declaring. A step that asks for human input
// declares KindInputRequired.
//
// Registration order is significant: it is the order in which fan-out
// results are merged.
func (r *Registry) Register(id string, accepts, emits []Kind, step Step, opts ...StepOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRegistrySealed
	}
	if id == "" {
		return &EngineError{Message: "step id must not be empty", Code: "INVALID_STEP"}
	}
	if _, dup := r.byID[id]; dup {
		return &EngineError{Message: fmt.Sprintf("step %q already registered", id), Code: "DUPLICATE_STEP"}
	}
	if step == nil {
		return &EngineError{Message: fmt.Sprintf("step %q has no handler", id), Code: "INVALID_STEP"}
	}
	if len(accepts) == 0 {
		return &EngineError{Message: fmt.Sprintf("step %q accepts no event kinds", id), Code: "INVALID_STEP"}
	}
	for _, k := range accepts {
		if k == "" || k == KindStop || k == KindInputRequired {
			return &EngineError{Message: fmt.Sprintf("step %q cannot accept %q", id, k), Code: "RESERVED_KIND"}
		}
	}
	for _, k := range emits {
		if k == "" || k == KindStart {
			return &EngineError{Message: fmt.Sprintf("step %q cannot emit %q", id, k), Code: "RESERVED_KIND"}
		}
	}

	def := StepDefinition{
		ID:      id,
		Accepts: append([]Kind(nil), accepts...),
		Emits:   append([]Kind(nil), emits...),
		Step:    step,
	}
	for _, opt := range opts {
		opt(&def)
	}

	idx := len(r.steps)
	r.steps = append(r.steps, def)
	r.byID[id] = idx
	for _, k := range uniqueKinds(def.Accepts) {
		r.byKind[k] = append(r.byKind[k], idx)
	}
	return nil
}

// Seal validates the registry and freezes it.
//
// It fails with *UnreachableEventKindError when nothing accepts Start or
// when a step declares an output kind that no step accepts (Stop and
// InputRequired leave the run and need no consumer). Sealing an already
// sealed registry is a no-op.
func (r *Registry) Seal() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return nil
	}
	if len(r.byKind[KindStart]) == 0 {
		return &UnreachableEventKindError{Kind: KindStart}
	}
	for _, def := range r.steps {
		for _, k := range def.Emits {
			if k == KindStop || k == KindInputRequired {
				continue
			}
			if len(r.byKind[k]) == 0 {
				return &UnreachableEventKindError{StepID: def.ID, Kind: k}
			}
		}
	}
	r.sealed = true
	return nil
}

// Sealed reports whether Seal has succeeded.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// StepsAccepting returns the steps accepting kind in registration order.
func (r *Registry) StepsAccepting(kind Kind) []StepDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idxs := r.byKind[kind]
	out := make([]StepDefinition, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, r.steps[i])
	}
	return out
}

// Accepts reports whether at least one step accepts kind.
func (r *Registry) Accepts(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKind[kind]) > 0
}

// Step returns the definition registered under id.
func (r *Registry) Step(id string) (StepDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.byID[id]
	if !ok {
		return StepDefinition{}, false
	}
	return r.steps[i], true
}

// Steps returns every definition in registration order.
func (r *Registry) Steps() []StepDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]StepDefinition(nil), r.steps...)
}

func uniqueKinds(kinds []Kind) []Kind {
	seen := make(map[Kind]bool, len(kinds))
	out := make([]Kind, 0, len(kinds))
	for _, k := range kinds {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
