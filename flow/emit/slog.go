package emit

import (
	"context"
	"log/slog"
	"sort"
)

// SlogEmitter forwards events to a structured slog.Logger.
//
// Faults (step_failed, run_faulted) are logged at Error level, parking at
// Info, everything else at Debug.
type SlogEmitter struct {
	logger *slog.Logger
}

// NewSlogEmitter wraps logger. A nil logger uses slog.Default().
func NewSlogEmitter(logger *slog.Logger) *SlogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEmitter{logger: logger}
}

// Emit logs the event with run_id, step, step_id, kind and each Meta key as
// attributes. Meta keys are sorted for stable output.
func (s *SlogEmitter) Emit(event Event) {
	attrs := []slog.Attr{
		slog.String("run_id", event.RunID),
		slog.Int("step", event.Step),
	}
	if event.StepID != "" {
		attrs = append(attrs, slog.String("step_id", event.StepID))
	}
	if event.Kind != "" {
		attrs = append(attrs, slog.String("kind", event.Kind))
	}

	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, event.Meta[k]))
	}

	s.logger.LogAttrs(context.Background(), levelFor(event.Msg), event.Msg, attrs...)
}

func levelFor(msg string) slog.Level {
	switch msg {
	case MsgStepFailed, MsgRunFaulted:
		return slog.LevelError
	case MsgRunParked, MsgRunResumed, MsgRunTerminated, MsgRunStarted:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
