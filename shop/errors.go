package shop

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCategory means the classifier's reply named no category the
	// workflow can route.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrItemNotFound means a requested new-item index is out of range.
	ErrItemNotFound = errors.New("item not found")

	// ErrNoName means a record to insert has no "name" property.
	ErrNoName = errors.New("record has no name")
)

// ClassifierError is returned when a query cannot be classified, or its
// item index cannot be read.
type ClassifierError struct {
	Query string
	Reply string
	Err   error
}

func (e *ClassifierError) Error() string {
	if e.Reply != "" {
		return fmt.Sprintf("classify %q: reply %q: %v", e.Query, e.Reply, e.Err)
	}
	return fmt.Sprintf("classify %q: %v", e.Query, e.Err)
}

func (e *ClassifierError) Unwrap() error { return e.Err }

// RetrievalError is returned when the query agent fails to answer or search.
type RetrievalError struct {
	Op    string // "ask" or "search"
	Query string
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Query, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// WriteError is returned when a record cannot be stored.
type WriteError struct {
	Name string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("insert %q: %v", e.Name, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
