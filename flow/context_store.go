package flow

import (
	"fmt"
	"sync"
)

// ContextStore is the per-run key/value scratch space shared by every step
// of one run.
//
// Access is serialized, so concurrent fan-out steps can use it freely.
// When the run terminates or faults the store is released and all methods
// return ErrStoreReleased.
type ContextStore struct {
	mu       sync.Mutex
	values   map[string]any
	released bool
}

func newContextStore(initial map[string]any) *ContextStore {
	values := make(map[string]any, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &ContextStore{values: values}
}

// Get returns the value stored under key, or ErrKeyNotFound.
func (s *ContextStore) Get(key string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil, ErrStoreReleased
	}
	v, ok := s.values[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return v, nil
}

// Set stores value under key, replacing any previous value.
func (s *ContextStore) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrStoreReleased
	}
	s.values[key] = value
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *ContextStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrStoreReleased
	}
	delete(s.values, key)
	return nil
}

// GetString returns a string value.
func (s *ContextStore) GetString(key string) (string, error) {
	v, err := s.Get(key)
	if err != nil {
		return "", err
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("context key %s holds %T, not string", key, v)
	}
	return str, nil
}

// GetInt returns an integer value. Numbers restored from a persisted
// snapshot arrive as float64 and are accepted.
func (s *ContextStore) GetInt(key string) (int, error) {
	v, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	n, ok := toInt(v)
	if !ok {
		return 0, fmt.Errorf("context key %s holds %T, not an integer", key, v)
	}
	return n, nil
}

// Snapshot returns a shallow copy of every entry. A released store yields
// an empty map.
func (s *ContextStore) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]any, len(s.values))
	if s.released {
		return out
	}
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *ContextStore) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.released = true
	s.values = nil
}
