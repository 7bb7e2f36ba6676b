// internal/agent/errors.go
package agent

import "errors"

var (
	// ErrTickPanicked wraps a panic recovered from a collaborator during a tick.
	ErrTickPanicked = errors.New("tick panicked")
	// ErrClosed is returned by Tick after Close.
	ErrClosed = errors.New("orchestrator is closed")
)
