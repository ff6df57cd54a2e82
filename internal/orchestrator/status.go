// Package orchestrator holds the per-view request logic: it issues API
// calls for user intents, tracks each operation's status and reconciles
// responses into view state. Rendering is left to callers.
package orchestrator

import (
	"errors"
	"fmt"
)

// Status is the lifecycle of one orchestrated operation:
// idle → pending → success | error.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ErrSuperseded is returned to a caller whose response arrived after a
// newer request of the same kind had been issued; it was not applied.
var ErrSuperseded = errors.New("superseded by a newer request")

// ViewError pairs a user-visible message with the underlying cause.
type ViewError struct {
	Message string
	Err     error
}

func (e *ViewError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ViewError) Unwrap() error { return e.Err }

// Message returns the user-visible message carried by err, or err's text.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ve *ViewError
	if errors.As(err, &ve) {
		return ve.Message
	}
	return err.Error()
}

func viewErr(msg string, err error) *ViewError {
	return &ViewError{Message: msg, Err: err}
}
