// Package tool defines the call interface steps use to reach external
// services, plus an HTTP/JSON implementation and a mock.
package tool

import "context"

// Tool is a named remote capability that takes and returns JSON objects.
//
// Implementations must be safe for concurrent use; fan-out steps may share
// one tool.
type Tool interface {
	// Name identifies the tool in logs and errors.
	Name() string

	// Call sends input and returns the decoded response object.
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}
