package mock

import (
	"context"
	"encoding/json"

	"github.com/fwojciec/crew"
)

// Interface compliance checks.
var (
	_ crew.ToolSession = (*ToolSession)(nil)
	_ crew.Launcher    = (*Launcher)(nil)
)

// ToolSession is a test double for crew.ToolSession.
// ToolsFn and CallFn panic when nil to catch missing setup. CloseFn is
// nil-safe because callers always defer Close.
type ToolSession struct {
	ToolsFn func(ctx context.Context) ([]crew.Tool, error)
	CallFn  func(ctx context.Context, name string, args json.RawMessage) (*crew.ToolResult, error)
	CloseFn func() error
}

// Tools delegates to ToolsFn.
func (s *ToolSession) Tools(ctx context.Context) ([]crew.Tool, error) {
	return s.ToolsFn(ctx)
}

// Call delegates to CallFn.
func (s *ToolSession) Call(ctx context.Context, name string, args json.RawMessage) (*crew.ToolResult, error) {
	return s.CallFn(ctx, name, args)
}

// Close delegates to CloseFn. Returns nil when CloseFn is not set.
func (s *ToolSession) Close() error {
	if s.CloseFn == nil {
		return nil
	}
	return s.CloseFn()
}

// Launcher is a test double for crew.Launcher.
// Set LaunchFn before calling Launch.
type Launcher struct {
	LaunchFn func(ctx context.Context, spec crew.ProcessSpec) (crew.ToolSession, error)
}

// Launch delegates to LaunchFn.
func (l *Launcher) Launch(ctx context.Context, spec crew.ProcessSpec) (crew.ToolSession, error) {
	return l.LaunchFn(ctx, spec)
}
