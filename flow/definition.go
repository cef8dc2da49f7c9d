package flow

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Definition is the static shape of a workflow: which steps exist, what
// they accept and what they may emit. Handlers are bound separately so the
// same definition can be reused with mocked collaborators in tests.
//
// YAML form:
//
//	name: admin
//	steps:
//	  - id: classify
//	    accepts: [start]
//	    emits: [ask, search, admin]
//	  - id: search
//	    accepts: [search]
//	    timeout: 30s
type Definition struct {
	Name  string     `yaml:"name"`
	Steps []StepSpec `yaml:"steps"`
}

// StepSpec is one step in a Definition.
type StepSpec struct {
	ID      string   `yaml:"id"`
	Accepts []string `yaml:"accepts"`
	Emits   []string `yaml:"emits"`
	Timeout string   `yaml:"timeout,omitempty"`
}

// LoadDefinition decodes a YAML workflow definition. Unknown fields are
// rejected.
func LoadDefinition(r io.Reader) (*Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to decode workflow definition: %w", err)
	}
	if len(def.Steps) == 0 {
		return nil, &EngineError{Message: fmt.Sprintf("workflow %q defines no steps", def.Name), Code: "EMPTY_DEFINITION"}
	}
	return &def, nil
}

// Build registers every step of the definition with its handler, in
// definition order, and seals the resulting registry.
//
// Every step needs a handler and every handler needs a step.
func (d *Definition) Build(handlers map[string]Step) (*Registry, error) {
	reg := NewRegistry()
	bound := make(map[string]bool, len(handlers))

	for _, sd := range d.Steps {
		h, ok := handlers[sd.ID]
		if !ok {
			return nil, &EngineError{Message: fmt.Sprintf("no handler for step %q", sd.ID), Code: "MISSING_HANDLER"}
		}
		bound[sd.ID] = true

		var opts []StepOption
		if sd.Timeout != "" {
			timeout, err := time.ParseDuration(sd.Timeout)
			if err != nil {
				return nil, &EngineError{Message: fmt.Sprintf("step %q: invalid timeout %q", sd.ID, sd.Timeout), Code: "INVALID_STEP"}
			}
			opts = append(opts, WithTimeout(timeout))
		}
		if err := reg.Register(sd.ID, toKinds(sd.Accepts), toKinds(sd.Emits), h, opts...); err != nil {
			return nil, err
		}
	}

	for id := range handlers {
		if !bound[id] {
			return nil, &EngineError{Message: fmt.Sprintf("handler %q has no step in workflow %q", id, d.Name), Code: "UNKNOWN_HANDLER"}
		}
	}

	if err := reg.Seal(); err != nil {
		return nil, err
	}
	return reg, nil
}

func toKinds(names []string) []Kind {
	kinds := make([]Kind, len(names))
	for i, n := range names {
		kinds[i] = Kind(n)
	}
	return kinds
}
