package emit

// Well-known Msg values emitted by the dispatch engine.
const (
	MsgRunStarted    = "run_started"
	MsgEventQueued   = "event_enqueued"
	MsgStepStarted   = "step_started"
	MsgStepCompleted = "step_completed"
	MsgStepFailed    = "step_failed"
	MsgRunParked     = "run_parked"
	MsgRunResumed    = "run_resumed"
	MsgRunTerminated = "run_terminated"
	MsgRunFaulted    = "run_faulted"
	MsgRunRestored   = "run_restored"
	MsgPersistFailed = "persist_failed"
)

// Event is a single observability record for a run.
//
// Events describe engine activity, not workflow data: a Stop result or a
// customer query never appears here unless a step puts it in Meta itself.
type Event struct {
	// RunID identifies the run that produced this event.
	RunID string

	// Step is the dispatch batch number (1-indexed). Zero for run-level
	// events such as run_started or run_parked.
	Step int

	// StepID names the step that produced this event. Empty for run-level
	// events.
	StepID string

	// Kind is the workflow event kind being dispatched, if any.
	Kind string

	// Msg is one of the Msg* constants or a custom label.
	Msg string

	// Meta carries additional structured data. Common keys:
	//   - "duration_ms": step latency
	//   - "error": fault description
	//   - "emitted": number of events a step produced
	//   - "queue_depth": pending events after the batch
	Meta map[string]interface{}
}
