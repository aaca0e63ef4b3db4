package crew

import (
	"context"
	"encoding/json"
)

// Tool describes a callable tool discovered from a tool-execution process.
// Parameters holds the tool's JSON Schema.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToolResult is the outcome of one tool invocation. IsError marks an
// application-level failure reported by the tool; it is sent back to the
// model and does not end the loop.
type ToolResult struct {
	Content string
	IsError bool
}

// ToolSession is one connection to a tool-execution process.
//
// Tools queries the process once and caches the result for the lifetime of
// the session. Call returns *UnknownToolError without contacting the
// process when name is not among the discovered tools. Errors returned by
// Call are infrastructure failures (*ToolExecutionError, *TransportError);
// tool-reported failures arrive as ToolResult.IsError. Close terminates the
// process and is safe to call more than once.
type ToolSession interface {
	Tools(ctx context.Context) ([]Tool, error)
	Call(ctx context.Context, name string, args json.RawMessage) (*ToolResult, error)
	Close() error
}

// ProcessSpec describes how to start a tool-execution process.
type ProcessSpec struct {
	Command string
	Args    []string
	Env     []string
}

// Launcher starts tool-execution processes. Launch fails with *LaunchError
// when the process cannot start and *HandshakeError when protocol
// initialization does not complete.
type Launcher interface {
	Launch(ctx context.Context, spec ProcessSpec) (ToolSession, error)
}

// ToolNames returns the names of tools in order.
func ToolNames(tools []Tool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}
