package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/stepflow/flow/store"
)

type runState struct {
	Status  string         `json:"status"`
	Pending []string       `json:"pending"`
	Context map[string]any `json:"context"`
}

// storeContract runs the behaviour every Store implementation must share.
func storeContract(t *testing.T, st store.Store[runState], runID string) {
	ctx := context.Background()

	t.Run("load latest on unknown run", func(t *testing.T) {
		_, _, err := st.LoadLatest(ctx, runID+"-missing")
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("latest revision wins", func(t *testing.T) {
		if err := st.SaveStep(ctx, runID, 1, "dispatch", runState{Status: "running", Pending: []string{"ask"}}); err != nil {
			t.Fatalf("SaveStep: %v", err)
		}
		if err := st.SaveStep(ctx, runID, 2, "parked", runState{Status: "parked", Context: map[string]any{"item_index": 3}}); err != nil {
			t.Fatalf("SaveStep: %v", err)
		}

		state, rev, err := st.LoadLatest(ctx, runID)
		if err != nil {
			t.Fatalf("LoadLatest: %v", err)
		}
		if rev != 2 {
			t.Errorf("expected rev 2, got %d", rev)
		}
		if state.Status != "parked" {
			t.Errorf("expected status parked, got %q", state.Status)
		}
		// JSON-backed stores decode numbers as float64.
		if v, ok := state.Context["item_index"]; !ok || jsonNumber(v) != 3 {
			t.Errorf("expected item_index 3, got %v", state.Context["item_index"])
		}
	})

	t.Run("saving an existing revision replaces it", func(t *testing.T) {
		if err := st.SaveStep(ctx, runID, 2, "terminated", runState{Status: "terminated"}); err != nil {
			t.Fatalf("SaveStep: %v", err)
		}
		history, err := st.History(ctx, runID)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(history) != 2 {
			t.Fatalf("expected 2 revisions, got %d", len(history))
		}
		if history[0].Rev != 1 || history[1].Rev != 2 {
			t.Errorf("expected ordered revisions, got %d,%d", history[0].Rev, history[1].Rev)
		}
		if history[1].Label != "terminated" || history[1].State.Status != "terminated" {
			t.Errorf("expected replaced revision, got %+v", history[1])
		}
	})

	t.Run("list and delete", func(t *testing.T) {
		ids, err := st.ListRuns(ctx)
		if err != nil {
			t.Fatalf("ListRuns: %v", err)
		}
		found := false
		for _, id := range ids {
			if id == runID {
				found = true
			}
		}
		if !found {
			t.Errorf("expected %s in %v", runID, ids)
		}

		if err := st.DeleteRun(ctx, runID); err != nil {
			t.Fatalf("DeleteRun: %v", err)
		}
		if _, err := st.History(ctx, runID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := st.DeleteRun(ctx, runID); err != nil {
			t.Errorf("deleting twice should not fail, got %v", err)
		}
	})
}

func jsonNumber(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return -1
}

func TestMemStore(t *testing.T) {
	storeContract(t, store.NewMemStore[runState](), "mem-run")
}

func TestMemStore_JSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := store.NewMemStore[runState]()
	if err := src.SaveStep(ctx, "r1", 1, "parked", runState{Status: "parked"}); err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(src)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	dst := store.NewMemStore[runState]()
	if err := json.Unmarshal(data, dst); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	state, rev, err := dst.LoadLatest(ctx, "r1")
	if err != nil || rev != 1 || state.Status != "parked" {
		t.Errorf("expected restored revision, got %+v rev=%d err=%v", state, rev, err)
	}
}

func TestSQLiteStore(t *testing.T) {
	st, err := store.NewSQLiteStore[runState](filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer st.Close()

	storeContract(t, st, "sqlite-run")
}

func TestSQLiteStore_Closed(t *testing.T) {
	st, err := store.NewSQLiteStore[runState](":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := st.SaveStep(context.Background(), "r", 1, "dispatch", runState{}); !errors.Is(err, store.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := st.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("Skipping MySQL test: set TEST_MYSQL_DSN to run")
	}
	st, err := store.NewMySQLStore[runState](dsn)
	if err != nil {
		t.Fatalf("NewMySQLStore: %v", err)
	}
	defer st.Close()

	storeContract(t, st, "mysql-run")
}
