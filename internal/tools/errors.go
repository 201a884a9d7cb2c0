package tools

import "fmt"

// ErrToolUnavailable is returned when the model calls a tool outside the
// request's selection. This is a capability mismatch, not a transient
// failure.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

// ErrToolFailed wraps an error raised while dispatching a tool to the
// backend. The message always names the tool so the failure is
// classified as a tool failure.
type ErrToolFailed struct {
	Tool string
	Err  error
}

// Error implements the error interface.
func (e *ErrToolFailed) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

// Unwrap returns the underlying dispatch error.
func (e *ErrToolFailed) Unwrap() error {
	return e.Err
}
