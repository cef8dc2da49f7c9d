package flow

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dshills/stepflow/flow/emit"
	"github.com/dshills/stepflow/flow/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var (
	askEvent          = DefineEvent("ask", "query")
	searchEvent       = DefineEvent("search", "query")
	adminRequestEvent = DefineEvent("admin_request", "query")
)

// classifyBy routes the start query to the event type picked by route.
func classifyBy(route func(query string) EventType) Step {
	return StepFunc(func(ctx context.Context, ev Event, sc *ContextStore) StepResult {
		q := ev.String("query")
		return Emit(route(q).MustNew(Payload{"query": q}))
	})
}

func answer(text string) Step {
	return StepFunc(func(ctx context.Context, ev Event, sc *ContextStore) StepResult {
		return Emit(Stop(text))
	})
}

func qaRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	mustRegister(t, reg, "classify", []Kind{KindStart}, []Kind{"ask", "search"},
		classifyBy(func(string) EventType { return askEvent }))
	mustRegister(t, reg, "answerAsk", []Kind{"ask"}, nil, answer("try the trail runners"))
	mustRegister(t, reg, "answerSearch", []Kind{"search"}, nil, answer("no results"))
	return reg
}

// adminRegistry parks on admin requests and records the item index it sees
// on resume.
func adminRegistry(t *testing.T, seen *int) *Registry {
	t.Helper()
	reg := NewRegistry()
	mustRegister(t, reg, "classify", []Kind{KindStart}, []Kind{"ask", "search", "admin_request"},
		classifyBy(func(q string) EventType {
			if strings.HasPrefix(q, "add item") {
				return adminRequestEvent
			}
			return askEvent
		}))
	mustRegister(t, reg, "answerAsk", []Kind{"ask"}, nil, answer("ok"))
	mustRegister(t, reg, "answerSearch", []Kind{"search"}, nil, answer("ok"))
	mustRegister(t, reg, "admin", []Kind{"admin_request", KindHumanResponse}, []Kind{KindInputRequired},
		StepFunc(func(ctx context.Context, ev Event, sc *ContextStore) StepResult {
			if ev.Kind() == "admin_request" {
				fields := strings.Fields(ev.String("query"))
				idx, _ := toInt(fields[len(fields)-1])
				if err := sc.Set("item_index", idx); err != nil {
					return Fail(err)
				}
				return Emit(InputRequired("Are you sure you want to add item 3?", Payload{"confirmation": "item 3"}))
			}

			idx, err := sc.GetInt("item_index")
			if err != nil {
				return Fail(err)
			}
			*seen = idx
			if ev.String("response") == "yes" {
				return Emit(Stop(map[string]any{"status": "added", "item_index": idx}))
			}
			return Emit(Stop("aborted"))
		}))
	return reg
}

func mustRegister(t *testing.T, reg *Registry, id string, accepts, emits []Kind, step Step, opts ...StepOption) {
	t.Helper()
	if err := reg.Register(id, accepts, emits, step, opts...); err != nil {
		t.Fatalf("Register %s: %v", id, err)
	}
}

func mustEngine(t *testing.T, reg *Registry, opts ...Option) *Engine {
	t.Helper()
	engine, err := New(reg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return engine
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitStatus(t *testing.T, h *Handle, want Status) {
	t.Helper()
	eventually(t, func() bool { return h.Status() == want }, "status "+string(want))
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func kinds(evs []Event) string {
	parts := make([]string, len(evs))
	for i, ev := range evs {
		parts[i] = string(ev.Kind())
	}
	return strings.Join(parts, ",")
}

func TestEngine_AskFlow(t *testing.T) {
	ctx := testContext(t)
	engine := mustEngine(t, qaRegistry(t))

	h, err := engine.Submit(ctx, Payload{"query": "recommend shoes"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var streamed []Event
	for ev := range h.Stream(ctx) {
		streamed = append(streamed, ev)
	}
	if got := kinds(streamed); got != "start,ask,stop" {
		t.Errorf("expected start,ask,stop, got %s", got)
	}

	result, err := h.Result(ctx)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if result.Result() != "try the trail runners" {
		t.Errorf("expected answerAsk text, got %v", result.Result())
	}
	if h.Status() != StatusTerminated {
		t.Errorf("expected terminated, got %s", h.Status())
	}

	t.Run("stream is single pass", func(t *testing.T) {
		if _, ok := <-h.Stream(ctx); ok {
			t.Error("expected second Stream to be closed")
		}
	})
}

func TestEngine_SubmitValidatesStart(t *testing.T) {
	engine := mustEngine(t, qaRegistry(t), WithStartEvent(DefineEvent(KindStart, "query")))

	_, err := engine.Submit(testContext(t), Payload{"text": "hi"})
	var me *MalformedEventError
	if !errors.As(err, &me) {
		t.Fatalf("expected MalformedEventError, got %v", err)
	}
	if len(engine.Active()) != 0 {
		t.Error("rejected submit must not create a run")
	}
}

func TestEngine_ParkAndResume(t *testing.T) {
	cases := []struct {
		response string
		check    func(t *testing.T, result any)
	}{
		{"yes", func(t *testing.T, result any) {
			m, ok := result.(map[string]any)
			if !ok || m["status"] != "added" {
				t.Errorf("expected success payload, got %v", result)
			}
		}},
		{"no", func(t *testing.T, result any) {
			if result != "aborted" {
				t.Errorf("expected aborted payload, got %v", result)
			}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.response, func(t *testing.T) {
			ctx := testContext(t)
			var seen int
			engine := mustEngine(t, adminRegistry(t, &seen))

			h, err := engine.Submit(ctx, Payload{"query": "add item 3"})
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			stream := h.Stream(ctx)
			waitStatus(t, h, StatusParked)

			prompt, ok := h.Awaiting()
			if !ok || prompt.String("confirmation") != "item 3" {
				t.Fatalf("expected confirmation prompt, got %v %v", prompt, ok)
			}

			if err := h.Respond(HumanResponse(tc.response)); err != nil {
				t.Fatalf("Respond: %v", err)
			}
			result, err := h.Result(ctx)
			if err != nil {
				t.Fatalf("Result: %v", err)
			}
			tc.check(t, result.Result())
			if seen != 3 {
				t.Errorf("expected item_index 3 on resume, got %d", seen)
			}

			var streamed []Event
			for ev := range stream {
				streamed = append(streamed, ev)
			}
			want := "start,admin_request,input_required,human_response,stop"
			if got := kinds(streamed); got != want {
				t.Errorf("expected %s, got %s", want, got)
			}
		})
	}
}

func TestEngine_RespondMisuse(t *testing.T) {
	t.Run("not parked while a step runs", func(t *testing.T) {
		ctx := testContext(t)
		release := make(chan struct{})
		entered := make(chan struct{})

		reg := NewRegistry()
		mustRegister(t, reg, "slow", []Kind{KindStart}, nil,
			StepFunc(func(ctx context.Context, ev Event, sc *ContextStore) StepResult {
				close(entered)
				<-release
				return Emit(Stop("done"))
			}))
		mustRegister(t, reg, "confirm", []Kind{KindHumanResponse}, nil, answer("late"))
		engine := mustEngine(t, reg)

		h, err := engine.Submit(ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		<-entered

		err = h.Respond(HumanResponse("yes"))
		var np *NotParkedError
		if !errors.As(err, &np) || np.Status != StatusRunning {
			t.Errorf("expected NotParkedError while running, got %v", err)
		}

		close(release)
		result, err := h.Result(ctx)
		if err != nil || result.Result() != "done" {
			t.Errorf("expected done, got %v %v", result, err)
		}

		if err := h.Respond(HumanResponse("yes")); !errors.As(err, &np) || np.Status != StatusTerminated {
			t.Errorf("expected NotParkedError after termination, got %v", err)
		}
	})

	t.Run("kind mismatch leaves run parked", func(t *testing.T) {
		ctx := testContext(t)
		var seen int
		engine := mustEngine(t, adminRegistry(t, &seen))
		h, err := engine.Submit(ctx, Payload{"query": "add item 3"})
		if err != nil {
			t.Fatal(err)
		}
		waitStatus(t, h, StatusParked)
		before := len(h.History())
		beforeCtx := h.Snapshot().Context

		for _, ev := range []Event{DefineEvent("unknown").MustNew(nil), Stop("x"), StartEvent.MustNew(nil)} {
			var km *KindMismatchError
			if err := h.Respond(ev); !errors.As(err, &km) {
				t.Errorf("expected KindMismatchError for %s, got %v", ev.Kind(), err)
			}
		}
		if h.Status() != StatusParked {
			t.Errorf("expected run still parked, got %s", h.Status())
		}
		if len(h.History()) != before {
			t.Error("rejected response must not be recorded")
		}
		if after := h.Snapshot().Context; !reflect.DeepEqual(beforeCtx, after) {
			t.Errorf("expected context %v unchanged, got %v", beforeCtx, after)
		}
		if _, ok := h.Awaiting(); !ok {
			t.Error("expected prompt still awaiting")
		}

		if err := h.Respond(HumanResponse("yes")); err != nil {
			t.Fatalf("valid Respond after mismatch: %v", err)
		}
		if _, err := h.Result(ctx); err != nil {
			t.Errorf("expected clean termination, got %v", err)
		}
	})
}

func TestEngine_Abort(t *testing.T) {
	ctx := testContext(t)
	var seen int
	engine := mustEngine(t, adminRegistry(t, &seen))
	h, err := engine.Submit(ctx, Payload{"query": "add item 3"})
	if err != nil {
		t.Fatal(err)
	}
	waitStatus(t, h, StatusParked)

	h.Abort()
	<-h.Done()

	if h.Status() != StatusFaulted {
		t.Errorf("expected faulted, got %s", h.Status())
	}
	if _, err := h.Result(ctx); !errors.Is(err, ErrAborted) {
		t.Errorf("expected ErrAborted, got %v", err)
	}
	var np *NotParkedError
	if err := h.Respond(HumanResponse("yes")); !errors.As(err, &np) {
		t.Errorf("expected NotParkedError after abort, got %v", err)
	}

	// Aborting again is a no-op.
	h.Abort()
	if _, err := h.Result(ctx); !errors.Is(err, ErrAborted) {
		t.Errorf("expected ErrAborted to stick, got %v", err)
	}
}

func TestEngine_ContextCancelAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext(t))
	var seen int
	engine := mustEngine(t, adminRegistry(t, &seen))
	h, err := engine.Submit(ctx, Payload{"query": "add item 3"})
	if err != nil {
		t.Fatal(err)
	}
	waitStatus(t, h, StatusParked)

	cancel()
	<-h.Done()
	if _, err := h.Result(context.Background()); !errors.Is(err, ErrAborted) {
		t.Errorf("expected ErrAborted, got %v", err)
	}
}

func TestEngine_ParkTimeout(t *testing.T) {
	ctx := testContext(t)
	var seen int
	engine := mustEngine(t, adminRegistry(t, &seen), WithParkTimeout(time.Hour))

	h, err := engine.Submit(ctx, Payload{"query": "add item 3"}, RunParkTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	_, err = h.Result(ctx)
	var tf *TimeoutFault
	if !errors.As(err, &tf) {
		t.Fatalf("expected TimeoutFault, got %v", err)
	}
	if tf.RunID != h.RunID() || tf.After != 20*time.Millisecond {
		t.Errorf("unexpected fault detail: %+v", tf)
	}
}

func TestEngine_FanOutOrder(t *testing.T) {
	delayed := func(d time.Duration, evs ...Event) Step {
		return StepFunc(func(ctx context.Context, ev Event, sc *ContextStore) StepResult {
			time.Sleep(d)
			return Emit(evs...)
		})
	}
	fan := DefineEvent("fan")
	a1, a2, b1 := DefineEvent("a1").MustNew(nil), DefineEvent("a2").MustNew(nil), DefineEvent("b1").MustNew(nil)

	for i := 0; i < 20; i++ {
		reg := NewRegistry()
		mustRegister(t, reg, "start", []Kind{KindStart}, []Kind{"fan"}, delayed(0, fan.MustNew(nil)))
		mustRegister(t, reg, "first", []Kind{"fan"}, []Kind{"a1", "a2"},
			delayed(time.Duration(rand.Intn(5))*time.Millisecond, a1, a2))
		mustRegister(t, reg, "second", []Kind{"fan"}, []Kind{"b1"},
			delayed(time.Duration(rand.Intn(5))*time.Millisecond, b1))
		mustRegister(t, reg, "sink", []Kind{"a1", "a2", "b1"}, nil,
			StepFunc(func(ctx context.Context, ev Event, sc *ContextStore) StepResult {
				n, _ := sc.GetInt("seen")
				_ = sc.Set("seen", n+1)
				if n+1 == 3 {
					return Emit(Stop("done"))
				}
				return Nothing()
			}))

		ctx := testContext(t)
		h, err := mustEngine(t, reg).Submit(ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := h.Result(ctx); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if got := kinds(h.History()); got != "start,fan,a1,a2,b1,stop" {
			t.Fatalf("run %d: expected start,fan,a1,a2,b1,stop, got %s", i, got)
		}
	}
}

func TestEngine_FirstStopWins(t *testing.T) {
	reg := NewRegistry()
	mustRegister(t, reg, "start", []Kind{KindStart}, []Kind{"go"},
		StepFunc(func(ctx context.Context, ev Event, sc *ContextStore) StepResult {
			return Emit(DefineEvent("go").MustNew(nil))
		}))
	mustRegister(t, reg, "winner", []Kind{"go"}, []Kind{"after"},
		StepFunc(func(ctx context.Context, ev Event, sc *ContextStore) StepResult {
			time.Sleep(5 * time.Millisecond)
			return Emit(Stop("winner"), DefineEvent("after").MustNew(nil))
		}))
	mustRegister(t, reg, "loser", []Kind{"go"}, nil, answer("loser"))
	mustRegister(t, reg, "after", []Kind{"after"}, nil, answer("after"))

	ctx := testContext(t)
	h, err := mustEngine(t, reg).Submit(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	result, err := h.Result(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Result() != "winner" {
		t.Errorf("expected first registered Stop to win, got %v", result.Result())
	}
	if got := kinds(h.History()); got != "start,go,stop" {
		t.Errorf("expected start,go,stop, got %s", got)
	}
}

func TestEngine_Faults(t *testing.T) {
	errBoom := errors.New("boom")

	cases := []struct {
		name  string
		build func(reg *Registry)
		opts  []Option
		check func(t *testing.T, err error)
	}{
		{
			name: "step error",
			build: func(reg *Registry) {
				mustRegister(t, reg, "bad", []Kind{KindStart}, nil,
					StepFunc(func(ctx context.Context, ev Event, sc *ContextStore) StepResult { return Fail(errBoom) }))
			},
			check: func(t *testing.T, err error) {
				var se *StepError
				if !errors.As(err, &se) || se.StepID != "bad" || se.Kind != KindStart {
					t.Errorf("expected StepError from bad, got %v", err)
				}
				if !errors.Is(err, errBoom) {
					t.Errorf("expected wrapped boom, got %v", err)
				}
			},
		},
		{
			name: "undeclared output",
			build: func(reg *Registry) {
				mustRegister(t, reg, "sloppy", []Kind{KindStart}, nil,
					StepFunc(func(ctx context.Context, ev Event, sc *ContextStore) StepResult {
						return Emit(DefineEvent("surprise").MustNew(nil))
					}))
			},
			check: func(t *testing.T, err error) {
				var ue *UndeclaredOutputError
				if !errors.As(err, &ue) || ue.StepID != "sloppy" || ue.Kind != "surprise" {
					t.Errorf("expected UndeclaredOutputError, got %v", err)
				}
			},
		},
		{
			name: "panic",
			build: func(reg *Registry) {
				mustRegister(t, reg, "panicky", []Kind{KindStart}, nil,
					StepFunc(func(ctx context.Context, ev Event, sc *ContextStore) StepResult { panic("kaboom") }))
			},
			check: func(t *testing.T, err error) {
				var se *StepError
				if !errors.As(err, &se) || !strings.Contains(err.Error(), "kaboom") {
					t.Errorf("expected StepError carrying panic, got %v", err)
				}
			},
		},
		{
			name: "step timeout",
			build: func(reg *Registry) {
				mustRegister(t, reg, "stuck", []Kind{KindStart}, nil,
					StepFunc(func(ctx context.Context, ev Event, sc *ContextStore) StepResult {
						<-ctx.Done()
						return Fail(ctx.Err())
					}), WithTimeout(10*time.Millisecond))
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrStepTimeout) {
					t.Errorf("expected ErrStepTimeout, got %v", err)
				}
			},
		},
		{
			name: "default step timeout",
			build: func(reg *Registry) {
				mustRegister(t, reg, "stuck", []Kind{KindStart}, nil,
					StepFunc(func(ctx context.Context, ev Event, sc *ContextStore) StepResult {
						<-ctx.Done()
						return Nothing()
					}))
			},
			opts: []Option{WithDefaultStepTimeout(10 * time.Millisecond)},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrStepTimeout) {
					t.Errorf("expected ErrStepTimeout, got %v", err)
				}
			},
		},
		{
			name: "max steps",
			build: func(reg *Registry) {
				tick := DefineEvent("tick")
				loop := StepFunc(func(ctx context.Context, ev Event, sc *ContextStore) StepResult {
					return Emit(tick.MustNew(nil))
				})
				mustRegister(t, reg, "begin", []Kind{KindStart}, []Kind{"tick"}, loop)
				mustRegister(t, reg, "loop", []Kind{"tick"}, []Kind{"tick"}, loop)
			},
			opts: []Option{WithMaxSteps(5)},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrMaxStepsExceeded) {
					t.Errorf("expected ErrMaxStepsExceeded, got %v", err)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg := NewRegistry()
			tc.build(reg)
			ctx := testContext(t)
			h, err := mustEngine(t, reg, tc.opts...).Submit(ctx, nil)
			if err != nil {
				t.Fatal(err)
			}
			_, err = h.Result(ctx)
			tc.check(t, err)
			if h.Status() != StatusFaulted {
				t.Errorf("expected faulted, got %s", h.Status())
			}
		})
	}
}

func TestEngine_SiblingCancelledOnFailure(t *testing.T) {
	var mu sync.Mutex
	var siblingErr error

	reg := NewRegistry()
	mustRegister(t, reg, "fails", []Kind{KindStart}, nil,
		StepFunc(func(ctx context.Context, ev Event, sc *ContextStore) StepResult {
			return Fail(errors.New("fails fast"))
		}))
	mustRegister(t, reg, "waits", []Kind{KindStart}, nil,
		StepFunc(func(ctx context.Context, ev Event, sc *ContextStore) StepResult {
			<-ctx.Done()
			mu.Lock()
			siblingErr = ctx.Err()
			mu.Unlock()
			return Nothing()
		}))

	ctx := testContext(t)
	h, err := mustEngine(t, reg).Submit(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = h.Result(ctx)
	var se *StepError
	if !errors.As(err, &se) || se.StepID != "fails" {
		t.Errorf("expected failure from fails, got %v", err)
	}
	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return siblingErr != nil
	}, "sibling cancellation")
}

func TestEngine_RestoreFromStore(t *testing.T) {
	t.Run("resumes parked run on a new engine", func(t *testing.T) {
		ctx := testContext(t)
		dir := t.TempDir()
		first, err := store.NewSQLiteStore[Snapshot](filepath.Join(dir, "first.db"))
		if err != nil {
			t.Fatal(err)
		}
		defer first.Close()

		var seen int
		engine := mustEngine(t, adminRegistry(t, &seen), WithStore(first))
		h, err := engine.Submit(ctx, Payload{"query": "add item 3"}, RunID("run-restore"))
		if err != nil {
			t.Fatal(err)
		}
		defer h.Abort()

		var snap Snapshot
		eventually(t, func() bool {
			snap, _, err = first.LoadLatest(ctx, "run-restore")
			return err == nil && snap.Status == StatusParked
		}, "parked snapshot")

		// A second process sees only what was persisted.
		second, err := store.NewSQLiteStore[Snapshot](filepath.Join(dir, "second.db"))
		if err != nil {
			t.Fatal(err)
		}
		defer second.Close()
		if err := second.SaveStep(ctx, "run-restore", 1, "parked", snap); err != nil {
			t.Fatal(err)
		}

		var seenAfter int
		restarted := mustEngine(t, adminRegistry(t, &seenAfter), WithStore(second))
		restored, err := restarted.Restore(ctx, "run-restore")
		if err != nil {
			t.Fatalf("Restore: %v", err)
		}
		waitStatus(t, restored, StatusParked)
		if prompt, ok := restored.Awaiting(); !ok || prompt.Kind() != KindInputRequired {
			t.Errorf("expected restored prompt, got %v %v", prompt, ok)
		}

		if err := restored.Respond(HumanResponse("yes")); err != nil {
			t.Fatalf("Respond: %v", err)
		}
		if _, err := restored.Result(ctx); err != nil {
			t.Fatalf("Result: %v", err)
		}
		if seenAfter != 3 {
			t.Errorf("expected item_index 3 after restore, got %d", seenAfter)
		}

		if _, err := restarted.Restore(ctx, "run-restore"); err == nil {
			t.Error("expected finished run to refuse restore")
		}
	})

	t.Run("unknown run", func(t *testing.T) {
		engine := mustEngine(t, qaRegistry(t), WithStore(store.NewMemStore[Snapshot]()))
		if _, err := engine.Restore(testContext(t), "missing"); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("expected ErrRunNotFound, got %v", err)
		}
	})

	t.Run("no store", func(t *testing.T) {
		engine := mustEngine(t, qaRegistry(t))
		var ee *EngineError
		if _, err := engine.Restore(testContext(t), "any"); !errors.As(err, &ee) || ee.Code != "NO_STORE" {
			t.Errorf("expected NO_STORE, got %v", err)
		}
	})

	t.Run("pending event without consumer", func(t *testing.T) {
		ctx := testContext(t)
		st := store.NewMemStore[Snapshot]()
		orphan := DefineEvent("orphan").MustNew(nil)
		if err := st.SaveStep(ctx, "crafted", 1, "dispatch", Snapshot{
			RunID:   "crafted",
			Status:  StatusRunning,
			Step:    1,
			Pending: []Event{orphan},
		}); err != nil {
			t.Fatal(err)
		}

		h, err := mustEngine(t, qaRegistry(t), WithStore(st)).Restore(ctx, "crafted")
		if err != nil {
			t.Fatal(err)
		}
		_, err = h.Result(ctx)
		var nc *NoConsumerError
		if !errors.As(err, &nc) || nc.Kind != "orphan" {
			t.Errorf("expected NoConsumerError, got %v", err)
		}
	})
}

func TestEngine_PersistsRevisions(t *testing.T) {
	ctx := testContext(t)
	st := store.NewMemStore[Snapshot]()
	h, err := mustEngine(t, qaRegistry(t), WithStore(st)).Submit(ctx, Payload{"query": "q"}, RunID("persisted"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Result(ctx); err != nil {
		t.Fatal(err)
	}

	var records []store.StepRecord[Snapshot]
	eventually(t, func() bool {
		records, err = st.History(ctx, "persisted")
		return err == nil && len(records) > 0 && records[len(records)-1].Label == "terminated"
	}, "terminal revision")

	last := records[len(records)-1].State
	if last.Status != StatusTerminated || last.Result == nil || last.Result.Result() != "try the trail runners" {
		t.Errorf("unexpected terminal snapshot: %+v", last)
	}
	for i := 1; i < len(records); i++ {
		if records[i].Rev <= records[i-1].Rev {
			t.Errorf("expected increasing revisions, got %d after %d", records[i].Rev, records[i-1].Rev)
		}
	}
}

func TestEngine_Metrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)
	ctx := testContext(t)

	var seen int
	engine := mustEngine(t, adminRegistry(t, &seen), WithMetrics(metrics))
	h, err := engine.Submit(ctx, Payload{"query": "add item 3"})
	if err != nil {
		t.Fatal(err)
	}
	waitStatus(t, h, StatusParked)
	eventually(t, func() bool { return testutil.ToFloat64(metrics.parkedRuns) == 1 }, "parked gauge")

	if err := h.Respond(HumanResponse("yes")); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Result(ctx); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(metrics.parkedRuns); got != 0 {
		t.Errorf("expected parked_runs 0, got %v", got)
	}
	eventually(t, func() bool {
		return testutil.ToFloat64(metrics.runs.WithLabelValues("terminated")) == 1
	}, "terminated run count")
	if got := testutil.ToFloat64(metrics.events.WithLabelValues(string(KindInputRequired))); got != 1 {
		t.Errorf("expected 1 input_required event, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.queueDepth); got != 0 {
		t.Errorf("expected empty queue, got %v", got)
	}
	if got := testutil.CollectAndCount(metrics.stepLatency); got == 0 {
		t.Error("expected step latency observations")
	}
}

func TestEngine_Emitter(t *testing.T) {
	buf := emit.NewBufferedEmitter()
	ctx := testContext(t)
	var seen int
	engine := mustEngine(t, adminRegistry(t, &seen), WithEmitter(buf))

	h, err := engine.Submit(ctx, Payload{"query": "add item 3"}, RunID("observed"))
	if err != nil {
		t.Fatal(err)
	}
	waitStatus(t, h, StatusParked)
	if err := h.Respond(HumanResponse("no")); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Result(ctx); err != nil {
		t.Fatal(err)
	}

	eventually(t, func() bool {
		return len(buf.GetHistoryWithFilter("observed", emit.HistoryFilter{Msg: emit.MsgRunTerminated})) == 1
	}, "run_terminated")

	for _, msg := range []string{emit.MsgRunStarted, emit.MsgRunParked, emit.MsgRunResumed} {
		if n := len(buf.GetHistoryWithFilter("observed", emit.HistoryFilter{Msg: msg})); n != 1 {
			t.Errorf("expected one %s, got %d", msg, n)
		}
	}
	completed := buf.GetHistoryWithFilter("observed", emit.HistoryFilter{StepID: "admin", Msg: emit.MsgStepCompleted})
	if len(completed) != 2 {
		t.Errorf("expected admin to complete twice, got %d", len(completed))
	}
}

func TestEngine_DuplicateRunID(t *testing.T) {
	ctx := testContext(t)
	var seen int
	engine := mustEngine(t, adminRegistry(t, &seen))
	h, err := engine.Submit(ctx, Payload{"query": "add item 3"}, RunID("same"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Abort()

	var ee *EngineError
	if _, err := engine.Submit(ctx, Payload{"query": "add item 3"}, RunID("same")); !errors.As(err, &ee) || ee.Code != "DUPLICATE_RUN" {
		t.Errorf("expected DUPLICATE_RUN, got %v", err)
	}
	if got, ok := engine.Lookup("same"); !ok || got != h {
		t.Error("expected Lookup to return the live handle")
	}
}
