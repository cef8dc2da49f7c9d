// Package emit provides observability sinks for workflow runs.
package emit

// Emitter receives observability events produced while a run dispatches
// events to its steps.
//
// Implementations must be safe for concurrent use: fan-out steps report
// completion from separate goroutines. Emit must not block dispatch and must
// not panic; a sink that cannot deliver an event drops it.
type Emitter interface {
	// Emit sends one observability event to the backend.
	Emit(event Event)
}

// MultiEmitter fans every event out to a fixed list of emitters in order.
//
// Example:
//
//	em := emit.NewMultiEmitter(
//	    emit.NewSlogEmitter(slog.Default()),
//	    emit.NewOTelEmitter(otel.Tracer("stepflow")),
//	)
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter returns an emitter that forwards to each non-nil emitter.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	m := &MultiEmitter{}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

// Emit forwards event to every wrapped emitter.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}
