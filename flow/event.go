// Package flow implements an event-driven step workflow engine.
//
// Named steps consume typed events and emit typed successor events until a
// step emits Stop. A run parks when its queue drains without a Stop, waits
// for an externally supplied event (typically a human confirmation), and
// resumes from where it left off.
//
// Basic usage:
//
//	reg := flow.NewRegistry()
//	_ = reg.Register("greet", []flow.Kind{flow.KindStart}, nil,
//	    flow.StepFunc(func(ctx context.Context, ev flow.Event, sc *flow.ContextStore) flow.StepResult {
//	        return flow.Emit(flow.Stop("hello " + ev.String("name")))
//	    }))
//
//	engine, err := flow.New(reg)
//	h, err := engine.Submit(ctx, flow.Payload{"name": "ada"})
//	result, err := h.Result(ctx)
package flow

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind discriminates events. Steps subscribe to kinds; routing never looks
// at payloads.
type Kind string

// Engine-known kinds.
const (
	// KindStart begins a run. Exactly one per run.
	KindStart Kind = "start"

	// KindStop terminates a run. Field "result" carries the outcome.
	KindStop Kind = "stop"

	// KindInputRequired is streamed to the caller and parks the run once
	// the queue drains. It is never dispatched to steps.
	KindInputRequired Kind = "input_required"

	// KindHumanResponse is the usual kind pushed back through Respond.
	KindHumanResponse Kind = "human_response"
)

// Payload holds an event's fields.
type Payload map[string]any

// Event is an immutable kind plus payload. The zero Event has no kind and is
// never produced by a successful constructor.
type Event struct {
	kind    Kind
	payload Payload
}

// EventType declares a kind and the payload fields every event of that kind
// must carry.
type EventType struct {
	kind     Kind
	required []string
}

// Built-in event types.
var (
	StartEvent         = DefineEvent(KindStart)
	StopEvent          = DefineEvent(KindStop, "result")
	InputRequiredEvent = DefineEvent(KindInputRequired, "prompt")
	HumanResponseEvent = DefineEvent(KindHumanResponse, "response")
)

// DefineEvent declares an event type.
//
// Example:
//
//	var AskEvent = flow.DefineEvent("ask", "query")
//	ev, err := AskEvent.New(flow.Payload{"query": "what is on sale?"})
func DefineEvent(kind Kind, required ...string) EventType {
	req := append([]string(nil), required...)
	sort.Strings(req)
	return EventType{kind: kind, required: req}
}

// Kind returns the declared kind.
func (t EventType) Kind() Kind { return t.kind }

// Required returns the required field names in sorted order.
func (t EventType) Required() []string {
	return append([]string(nil), t.required...)
}

// New builds an event of this type. The payload is copied, so later changes
// to p are not observed by the event.
func (t EventType) New(p Payload) (Event, error) {
	if t.kind == "" {
		return Event{}, &MalformedEventError{Reason: "empty kind"}
	}
	var missing []string
	for _, field := range t.required {
		if _, ok := p[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return Event{}, &MalformedEventError{Kind: t.kind, Missing: missing}
	}
	return Event{kind: t.kind, payload: copyPayload(p)}, nil
}

// MustNew is New for payloads known to be valid. It panics on error and is
// meant for package-level event literals and tests.
func (t EventType) MustNew(p Payload) Event {
	ev, err := t.New(p)
	if err != nil {
		panic(err)
	}
	return ev
}

// Validate reports whether ev is a well-formed event of this type.
func (t EventType) Validate(ev Event) error {
	if ev.kind != t.kind {
		return &MalformedEventError{Kind: ev.kind, Reason: fmt.Sprintf("expected kind %q", t.kind)}
	}
	_, err := t.New(ev.payload)
	return err
}

// Stop builds a Stop event carrying result.
func Stop(result any) Event {
	return StopEvent.MustNew(Payload{"result": result})
}

// InputRequired builds the event that asks the caller for input. Extra
// fields are merged into the payload alongside prompt.
func InputRequired(prompt string, extra Payload) Event {
	p := copyPayload(extra)
	if p == nil {
		p = Payload{}
	}
	p["prompt"] = prompt
	return InputRequiredEvent.MustNew(p)
}

// HumanResponse builds the event a caller pushes back to a parked run.
func HumanResponse(response string) Event {
	return HumanResponseEvent.MustNew(Payload{"response": response})
}

// Kind returns the event kind.
func (e Event) Kind() Kind { return e.kind }

// IsZero reports whether e is the zero Event.
func (e Event) IsZero() bool { return e.kind == "" }

// Payload returns a copy of the event's fields.
func (e Event) Payload() Payload { return copyPayload(e.payload) }

// Value returns a field and whether it was present.
func (e Event) Value(field string) (any, bool) {
	v, ok := e.payload[field]
	return v, ok
}

// String returns a string field, or "" when absent. Non-string values are
// formatted with %v.
func (e Event) String(field string) string {
	v, ok := e.payload[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Int returns an integer field. Values that went through JSON (float64,
// json.Number) and numeric strings are accepted.
func (e Event) Int(field string) (int, bool) {
	v, ok := e.payload[field]
	if !ok {
		return 0, false
	}
	return toInt(v)
}

// Result is shorthand for the "result" field of a Stop event.
func (e Event) Result() any {
	return e.payload["result"]
}

type eventJSON struct {
	Kind    Kind    `json:"kind"`
	Payload Payload `json:"payload,omitempty"`
}

// MarshalJSON encodes the event as {"kind": ..., "payload": {...}}.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{Kind: e.kind, Payload: e.payload})
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Kind == "" {
		return &MalformedEventError{Reason: "empty kind"}
	}
	e.kind = raw.Kind
	e.payload = raw.Payload
	return nil
}

func copyPayload(p Payload) Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}
