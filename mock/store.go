package mock

import (
	"context"

	"github.com/fwojciec/crew"
)

// Interface compliance checks.
var (
	_ crew.RunStore        = (*RunStore)(nil)
	_ crew.MetricsObserver = (*MetricsObserver)(nil)
)

// RunStore is a test double for crew.RunStore.
type RunStore struct {
	RecordRunFn func(ctx context.Context, run crew.Run) error
	ListRunsFn  func(ctx context.Context, limit int) ([]crew.Run, error)
	GetRunFn    func(ctx context.Context, id string) (crew.Run, error)
}

// RecordRun delegates to RecordRunFn.
func (s *RunStore) RecordRun(ctx context.Context, run crew.Run) error {
	return s.RecordRunFn(ctx, run)
}

// ListRuns delegates to ListRunsFn.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]crew.Run, error) {
	return s.ListRunsFn(ctx, limit)
}

// GetRun delegates to GetRunFn.
func (s *RunStore) GetRun(ctx context.Context, id string) (crew.Run, error) {
	return s.GetRunFn(ctx, id)
}

// MetricsObserver is a test double for crew.MetricsObserver.
// Unset function fields are no-ops.
type MetricsObserver struct {
	APICallFn   func(agent crew.AgentName, inputTokens, outputTokens int)
	ToolCallFn  func(agent crew.AgentName)
	IterationFn func(agent crew.AgentName)
	ErrorFn     func(agent crew.AgentName)
}

// APICall delegates to APICallFn.
func (o *MetricsObserver) APICall(agent crew.AgentName, inputTokens, outputTokens int) {
	if o.APICallFn != nil {
		o.APICallFn(agent, inputTokens, outputTokens)
	}
}

// ToolCall delegates to ToolCallFn.
func (o *MetricsObserver) ToolCall(agent crew.AgentName) {
	if o.ToolCallFn != nil {
		o.ToolCallFn(agent)
	}
}

// Iteration delegates to IterationFn.
func (o *MetricsObserver) Iteration(agent crew.AgentName) {
	if o.IterationFn != nil {
		o.IterationFn(agent)
	}
}

// Error delegates to ErrorFn.
func (o *MetricsObserver) Error(agent crew.AgentName) {
	if o.ErrorFn != nil {
		o.ErrorFn(agent)
	}
}
