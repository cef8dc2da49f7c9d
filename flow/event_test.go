package flow

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEventType_New(t *testing.T) {
	t.Run("valid payload", func(t *testing.T) {
		ev, err := askEvent.New(Payload{"query": "what is on sale?"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ev.Kind() != "ask" {
			t.Errorf("expected kind ask, got %q", ev.Kind())
		}
		if ev.String("query") != "what is on sale?" {
			t.Errorf("unexpected query %q", ev.String("query"))
		}
	})

	t.Run("missing required field", func(t *testing.T) {
		_, err := askEvent.New(Payload{"q": "typo"})
		var me *MalformedEventError
		if !errors.As(err, &me) {
			t.Fatalf("expected MalformedEventError, got %v", err)
		}
		if me.Kind != "ask" || len(me.Missing) != 1 || me.Missing[0] != "query" {
			t.Errorf("unexpected error detail: %+v", me)
		}
	})

	t.Run("empty kind", func(t *testing.T) {
		_, err := DefineEvent("").New(nil)
		var me *MalformedEventError
		if !errors.As(err, &me) {
			t.Fatalf("expected MalformedEventError, got %v", err)
		}
	})

	t.Run("stop requires result", func(t *testing.T) {
		if _, err := StopEvent.New(Payload{}); err == nil {
			t.Error("expected error for stop without result")
		}
	})
}

func TestEvent_Immutable(t *testing.T) {
	p := Payload{"query": "shirts"}
	ev := askEvent.MustNew(p)

	p["query"] = "changed"
	if ev.String("query") != "shirts" {
		t.Errorf("event observed caller mutation: %q", ev.String("query"))
	}

	out := ev.Payload()
	out["query"] = "changed again"
	if ev.String("query") != "shirts" {
		t.Errorf("event observed mutation of Payload() copy: %q", ev.String("query"))
	}
}

func TestEvent_Int(t *testing.T) {
	cases := []struct {
		name  string
		value any
		want  int
		ok    bool
	}{
		{"int", 3, 3, true},
		{"float from JSON", float64(3), 3, true},
		{"fractional float", 3.5, 0, false},
		{"json number", json.Number("7"), 7, true},
		{"numeric string", "4", 4, true},
		{"garbage", "four", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := DefineEvent("admin").MustNew(Payload{"index": tc.value})
			got, ok := ev.Int("index")
			if ok != tc.ok || got != tc.want {
				t.Errorf("expected (%d, %v), got (%d, %v)", tc.want, tc.ok, got, ok)
			}
		})
	}

	if _, ok := Stop("x").Int("missing"); ok {
		t.Error("expected missing field to report false")
	}
}

func TestEvent_JSON(t *testing.T) {
	ev := InputRequired("Add item 3?", Payload{"item_index": 3})

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Event
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Kind() != KindInputRequired || back.String("prompt") != "Add item 3?" {
		t.Errorf("unexpected decoded event: %s", data)
	}
	if n, ok := back.Int("item_index"); !ok || n != 3 {
		t.Errorf("expected item_index 3 after round trip, got %d", n)
	}

	if err := json.Unmarshal([]byte(`{"payload":{}}`), &back); err == nil {
		t.Error("expected error decoding event without kind")
	}
}

func TestBuiltinHelpers(t *testing.T) {
	if HumanResponse("yes").String("response") != "yes" {
		t.Error("HumanResponse lost its response")
	}
	if Stop(42).Result() != 42 {
		t.Error("Stop lost its result")
	}
	if !(Event{}).IsZero() {
		t.Error("zero Event should report IsZero")
	}
}
