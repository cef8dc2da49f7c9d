package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemStore is an in-memory Store used by tests and single-process setups.
//
// Data is lost when the process exits. MemStore is safe for concurrent use.
type MemStore[S any] struct {
	mu    sync.RWMutex
	steps map[string][]StepRecord[S] // runID -> revisions
}

// NewMemStore creates an empty in-memory store.
//
// Example:
//
//	st := store.NewMemStore[flow.Snapshot]()
//	engine, err := flow.New(reg, flow.WithStore(st))
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		steps: make(map[string][]StepRecord[S]),
	}
}

// SaveStep stores a revision, replacing an existing one with the same number.
func (m *MemStore[S]) SaveStep(_ context.Context, runID string, rev int, label string, state S) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record := StepRecord[S]{Rev: rev, Label: label, State: state}
	records := m.steps[runID]
	for i := range records {
		if records[i].Rev == rev {
			records[i] = record
			return nil
		}
	}
	m.steps[runID] = append(records, record)
	return nil
}

// LoadLatest returns the highest revision, tolerating out-of-order saves.
func (m *MemStore[S]) LoadLatest(_ context.Context, runID string) (state S, rev int, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.steps[runID]
	if len(records) == 0 {
		var zero S
		return zero, 0, ErrNotFound
	}

	latest := records[0]
	for _, record := range records[1:] {
		if record.Rev > latest.Rev {
			latest = record
		}
	}
	return latest.State, latest.Rev, nil
}

// History returns a sorted copy of the run's revisions.
func (m *MemStore[S]) History(_ context.Context, runID string) ([]StepRecord[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.steps[runID]
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	out := make([]StepRecord[S], len(records))
	copy(out, records)
	sort.Slice(out, func(i, j int) bool { return out[i].Rev < out[j].Rev })
	return out, nil
}

// ListRuns returns run IDs in lexical order.
func (m *MemStore[S]) ListRuns(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.steps))
	for id := range m.steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteRun drops every revision of runID.
func (m *MemStore[S]) DeleteRun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.steps, runID)
	return nil
}

// MarshalJSON dumps the whole store, which is handy for debugging a run.
func (m *MemStore[S]) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, err := json.Marshal(m.steps)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal store: %w", err)
	}
	return data, nil
}

// UnmarshalJSON replaces the store contents with a MarshalJSON dump.
func (m *MemStore[S]) UnmarshalJSON(data []byte) error {
	steps := make(map[string][]StepRecord[S])
	if err := json.Unmarshal(data, &steps); err != nil {
		return fmt.Errorf("failed to unmarshal store: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = steps
	return nil
}
