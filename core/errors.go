package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph construction and run coordination.
var (
	ErrDuplicateName        = errors.New("duplicate actor name")
	ErrReservedName         = errors.New("reserved actor name")
	ErrDuplicateTemplateKey = errors.New("duplicate template key")
	ErrEmptyName            = errors.New("empty actor name")
	ErrIdleTimeout          = errors.New("timed out waiting for actors")
	ErrUnknownOutputType    = errors.New("unknown output type")
)

// Tool error codes.
const (
	ToolErrorValidation = "VALIDATION_ERROR"
	ToolErrorExecution  = "EXECUTION_ERROR"
	ToolErrorNotFound   = "NOT_FOUND"
)

// ActorProcessingError wraps a failure raised inside an actor's input or
// processing step. It is recovered by the actor supervisor and surfaced as
// an ERRORS message, never past the coordinator.
type ActorProcessingError struct {
	Actor string
	Err   error
}

func (e *ActorProcessingError) Error() string {
	return fmt.Sprintf("actor %s: %v", e.Actor, e.Err)
}

func (e *ActorProcessingError) Unwrap() error { return e.Err }

// ToolInvocationError represents a failed tool call. The agent loop turns it
// into a synthetic "Error: <message>" tool turn.
type ToolInvocationError struct {
	Tool    string `json:"tool"`
	CallID  string `json:"call_id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ToolInvocationError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolInvocationError creates a new ToolInvocationError.
func NewToolInvocationError(tool, callID, code, message string) *ToolInvocationError {
	return &ToolInvocationError{Tool: tool, CallID: callID, Code: code, Message: message}
}

// GraphConstructionError rejects a run before any actor starts.
type GraphConstructionError struct {
	Name   string
	Reason error
}

func (e *GraphConstructionError) Error() string {
	return fmt.Sprintf("invalid actor graph: %v: %q", e.Reason, e.Name)
}

func (e *GraphConstructionError) Unwrap() error { return e.Reason }

// RunCoordinationError reports an unexpected failure while starting or
// relaying a run.
type RunCoordinationError struct {
	Op  string
	Err error
}

func (e *RunCoordinationError) Error() string {
	return fmt.Sprintf("error %s output: %v", e.Op, e.Err)
}

func (e *RunCoordinationError) Unwrap() error { return e.Err }
