package shop

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Items is the list of staged clothing items an admin can add to the
// catalog. Entries may wrap their fields in a "properties" object.
type Items struct {
	entries []Record
}

// LoadItems reads a JSON array of items.
func LoadItems(r io.Reader) (*Items, error) {
	var raw []map[string]interface{}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode items: %w", err)
	}

	entries := make([]Record, len(raw))
	for i, item := range raw {
		if props, ok := item["properties"].(map[string]interface{}); ok {
			item = props
		}
		entries[i] = Record(item)
	}
	return &Items{entries: entries}, nil
}

// LoadItemsFile reads items from path.
func LoadItemsFile(path string) (*Items, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadItems(f)
}

// NewItems wraps records already in memory.
func NewItems(records ...Record) *Items {
	return &Items{entries: records}
}

// Len returns the number of staged items.
func (it *Items) Len() int { return len(it.entries) }

// At returns a copy of item i's properties.
func (it *Items) At(i int) (Record, error) {
	if i < 0 || i >= len(it.entries) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrItemNotFound, i, len(it.entries))
	}
	out := make(Record, len(it.entries[i]))
	for k, v := range it.entries[i] {
		out[k] = v
	}
	return out, nil
}

// Describe renders a record as "{key: value, ...}" with sorted keys, the
// form shown to a human confirming an insert.
func Describe(r Record) string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %v", k, r[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
