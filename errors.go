package crew

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure modes.
var (
	// ErrValidation indicates a request or message failed validation.
	ErrValidation = errors.New("validation error")

	// ErrUnknownAgent indicates a string that does not name a stage.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrSessionClosed indicates an operation on a closed tool session.
	ErrSessionClosed = errors.New("tool session closed")

	// ErrRunNotFound indicates the requested run is not in the history store.
	ErrRunNotFound = errors.New("run not found")
)

// LaunchError reports that a tool-execution process could not be started.
type LaunchError struct {
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// HandshakeError reports that protocol initialization with a tool-execution
// process failed or did not complete in time.
type HandshakeError struct {
	Command string
	Err     error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake with %s: %v", e.Command, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// UnknownToolError reports a tool name absent from the discovered set.
type UnknownToolError struct {
	Name      string
	Available []string
}

func (e *UnknownToolError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("unknown tool %q", e.Name)
	}
	return fmt.Sprintf("unknown tool %q (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

// ToolExecutionError reports that the tool process raised while executing
// a tool, as opposed to returning an application-level error result.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// TransportError reports an I/O failure talking to a tool process:
// the process died, a pipe closed, or a call timed out.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// LoopBudgetExceededError reports that an agent loop hit its iteration cap
// without producing a final answer.
type LoopBudgetExceededError struct {
	Agent AgentName
	Limit int
}

func (e *LoopBudgetExceededError) Error() string {
	return fmt.Sprintf("%s exceeded %d iterations without a final answer", e.Agent, e.Limit)
}

// StageError wraps any failure of a pipeline stage with the context needed
// to diagnose it.
type StageError struct {
	Agent     AgentName
	Iteration int
	LastTool  string
	Err       error
}

func (e *StageError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s stage failed", e.Agent)
	if e.Iteration > 0 {
		fmt.Fprintf(&b, " at iteration %d", e.Iteration)
	}
	if e.LastTool != "" {
		fmt.Fprintf(&b, " (last tool %s)", e.LastTool)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *StageError) Unwrap() error { return e.Err }

// PipelineError is returned when a pipeline run aborts. Metrics is the
// finalized session snapshot; no stage results are returned.
type PipelineError struct {
	Metrics MetricsSummary
	Err     error
}

func (e *PipelineError) Error() string { return e.Err.Error() }

func (e *PipelineError) Unwrap() error { return e.Err }
